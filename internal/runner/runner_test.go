package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/fleetgate-sh/scheduler/internal/gates"
	"github.com/fleetgate-sh/scheduler/internal/history"
	"github.com/fleetgate-sh/scheduler/internal/model"
	"github.com/fleetgate-sh/scheduler/internal/state"
)

// fakeOCM is an in-memory stand-in for the cluster-management service.
type fakeOCM struct {
	clusters   map[string][]model.ClusterDetails // keyed by selector string
	policies   map[string][]model.UpgradePolicy  // keyed by cluster id
	gates      []model.VersionGate
	agreements map[string][]string

	listErr error

	created []model.UpgradePolicy
	deleted []string
	agreed  []string
}

func newFakeOCM() *fakeOCM {
	return &fakeOCM{
		clusters:   map[string][]model.ClusterDetails{},
		policies:   map[string][]model.UpgradePolicy{},
		agreements: map[string][]string{},
	}
}

func (f *fakeOCM) ListClusters(_ context.Context, selector labels.Selector) ([]model.ClusterDetails, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.clusters[selector.String()], nil
}

func (f *fakeOCM) GetUpgradePolicies(_ context.Context, clusterID string) ([]model.UpgradePolicy, error) {
	return f.policies[clusterID], nil
}

func (f *fakeOCM) GetAddonUpgradePolicies(_ context.Context, clusterID string) ([]model.UpgradePolicy, error) {
	return nil, nil
}

func (f *fakeOCM) GetVersionGates(_ context.Context) ([]model.VersionGate, error) {
	return f.gates, nil
}

func (f *fakeOCM) GetVersionAgreements(_ context.Context, clusterID string) ([]string, error) {
	return f.agreements[clusterID], nil
}

func (f *fakeOCM) CreateVersionAgreement(_ context.Context, gateID, clusterID string) error {
	f.agreed = append(f.agreed, gateID+"/"+clusterID)
	return nil
}

func (f *fakeOCM) CreateUpgradePolicy(_ context.Context, _ string, policy *model.ClusterUpgradePolicy) error {
	f.created = append(f.created, policy)
	return nil
}

func (f *fakeOCM) DeleteUpgradePolicy(_ context.Context, clusterID, policyID string) error {
	f.deleted = append(f.deleted, clusterID+"/"+policyID)
	return nil
}

func (f *fakeOCM) CreateAddonUpgradePolicy(_ context.Context, _ string, policy *model.AddonUpgradePolicy) error {
	f.created = append(f.created, policy)
	return nil
}

func (f *fakeOCM) DeleteAddonUpgradePolicy(_ context.Context, clusterID, policyID string) error {
	f.deleted = append(f.deleted, clusterID+"/"+policyID)
	return nil
}

func (f *fakeOCM) CreateControlPlaneUpgradePolicy(_ context.Context, _ string, policy *model.ControlPlaneUpgradePolicy) error {
	f.created = append(f.created, policy)
	return nil
}

func (f *fakeOCM) DeleteControlPlaneUpgradePolicy(_ context.Context, clusterID, policyID string) error {
	f.deleted = append(f.deleted, clusterID+"/"+policyID)
	return nil
}

func (f *fakeOCM) CreateNodePoolUpgradePolicy(_ context.Context, _ string, policy *model.NodePoolUpgradePolicy) error {
	f.created = append(f.created, policy)
	return nil
}

func (f *fakeOCM) DeleteNodePoolUpgradePolicy(_ context.Context, clusterID, policyID string) error {
	f.deleted = append(f.deleted, clusterID+"/"+policyID)
	return nil
}

func managedCluster(id, version string, available ...string) model.ClusterDetails {
	return model.ClusterDetails{
		ID:                id,
		Name:              id,
		Version:           version,
		AvailableUpgrades: available,
		Labels: map[string]string{
			"fleetgate.sh/workloads": "web",
			"fleetgate.sh/schedule":  "* * * * *",
		},
	}
}

var _ = Describe("RunCycle", func() {
	var (
		api   *fakeOCM
		store *state.MemoryStore
		now   time.Time
		org   model.Organization
	)

	newRunner := func(opts Options) *Runner {
		return New(api, store, gates.NewEngine(api, gates.Config{}), opts)
	}

	BeforeEach(func() {
		api = newFakeOCM()
		store = state.NewMemoryStore()
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		org = model.Organization{
			ID:              "org-main",
			Environment:     "production",
			ClusterSelector: "fleetgate.sh/org=main",
		}
	})

	It("schedules an upgrade end to end and persists the history", func() {
		api.clusters["fleetgate.sh/org=main"] = []model.ClusterDetails{
			managedCluster("c1", "4.12.17", "4.12.19"),
		}

		err := newRunner(Options{}).RunCycle(context.Background(), []model.Organization{org}, now)
		Expect(err).NotTo(HaveOccurred())

		Expect(api.created).To(HaveLen(1))
		Expect(api.created[0].TargetVersion()).To(Equal("4.12.19"))
		Expect(api.created[0].ClusterID()).To(Equal("c1"))

		data, err := history.Load(store, history.Key("production", "org-main", ""))
		Expect(err).NotTo(HaveOccurred())
		Expect(data.WorkloadHistory("4.12.17", "web")).NotTo(BeNil())
		Expect(data.CheckIn).To(BeTemporally("==", now))
	})

	It("applies nothing and persists nothing under dry run", func() {
		api.clusters["fleetgate.sh/org=main"] = []model.ClusterDetails{
			managedCluster("c1", "4.12.17", "4.12.19"),
		}

		err := newRunner(Options{DryRun: true}).RunCycle(context.Background(), []model.Organization{org}, now)
		Expect(err).NotTo(HaveOccurred())

		Expect(api.created).To(BeEmpty())
		Expect(api.agreed).To(BeEmpty())
		_, ok, err := store.Get(history.Key("production", "org-main", ""))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("emits a decision event per applied action", func() {
		api.clusters["fleetgate.sh/org=main"] = []model.ClusterDetails{
			managedCluster("c1", "4.12.17", "4.12.19"),
		}

		events := make(chan model.DecisionEventPayload, 10)
		err := newRunner(Options{Events: events, SchedulerVersion: "test"}).
			RunCycle(context.Background(), []model.Organization{org}, now)
		Expect(err).NotTo(HaveOccurred())

		Expect(events).To(HaveLen(1))
		event := <-events
		Expect(event.Organization).To(Equal("org-main"))
		Expect(event.Cluster).To(Equal("c1"))
		Expect(event.Action).To(Equal(model.ActionCreate))
		Expect(event.Version).To(Equal("4.12.19"))
		Expect(event.Source.SchedulerVersion).To(Equal("test"))
	})

	It("excludes malformed clusters without aborting the organization", func() {
		broken := managedCluster("broken", "4.12.17", "4.12.19")
		broken.Labels["fleetgate.sh/schedule"] = "not a schedule"
		api.clusters["fleetgate.sh/org=main"] = []model.ClusterDetails{
			broken,
			managedCluster("healthy", "4.12.17", "4.12.19"),
		}

		err := newRunner(Options{}).RunCycle(context.Background(), []model.Organization{org}, now)
		Expect(err).NotTo(HaveOccurred())

		Expect(api.created).To(HaveLen(1))
		Expect(api.created[0].ClusterID()).To(Equal("healthy"))
	})

	It("isolates a failing organization from the rest of the cycle", func() {
		failing := model.Organization{
			ID:              "org-broken",
			Environment:     "production",
			ClusterSelector: "fleetgate.sh/org=broken",
			Sectors: []model.SectorConfig{
				{Name: "a", DependsOn: []string{"b"}},
				{Name: "b", DependsOn: []string{"a"}},
			},
		}
		api.clusters["fleetgate.sh/org=main"] = []model.ClusterDetails{
			managedCluster("c1", "4.12.17", "4.12.19"),
		}

		err := newRunner(Options{}).RunCycle(context.Background(), []model.Organization{failing, org}, now)
		Expect(err).NotTo(HaveOccurred())

		Expect(api.created).To(HaveLen(1), "the healthy organization must still reconcile")
	})

	It("agrees pending version gates before the upgrade is scheduled", func() {
		api.clusters["fleetgate.sh/org=main"] = []model.ClusterDetails{
			managedCluster("c1", "4.12.17", "4.13.1"),
		}
		api.gates = []model.VersionGate{
			{ID: "g-413", Label: "api.fleetgate.sh/gate-sts", VersionPrefix: "4.13"},
		}

		err := newRunner(Options{}).RunCycle(context.Background(), []model.Organization{org}, now)
		Expect(err).NotTo(HaveOccurred())

		Expect(api.agreed).To(ContainElement("g-413/c1"))
		Expect(api.created).To(HaveLen(1))
		Expect(api.created[0].TargetVersion()).To(Equal("4.13.1"))
	})

	It("merges inherited soak without persisting it", func() {
		canary := model.Organization{
			ID:                 "org-canary",
			Environment:        "production",
			ClusterSelector:    "fleetgate.sh/org=canary",
			PublishVersionData: []string{"org-main"},
		}
		_ = canary
		org.InheritVersionData = []string{"org-canary"}

		cluster := managedCluster("c1", "4.12.17", "4.12.19")
		cluster.Labels["fleetgate.sh/soak-days"] = "7"
		api.clusters["fleetgate.sh/org=main"] = []model.ClusterDetails{cluster}

		// org-main already knows the candidate pair with three soak days;
		// org-canary contributes ten more through inheritance.
		seed := func(orgID string, soak float64) {
			data := history.New()
			data.Update([]model.ConfiguredUpgradePolicy{{
				ClusterUpgradeSpec: model.ClusterUpgradeSpec{Workloads: []string{"web"}},
				Cluster:            model.ClusterDetails{ID: orgID + "-seed", Name: orgID + "-seed", Version: "4.12.19"},
			}}, now)
			data.WorkloadHistory("4.12.19", "web").SoakDays = soak
			Expect(history.Save(context.Background(), store, history.Key("production", orgID, ""), data, false)).To(Succeed())
		}
		seed("org-main", 3)
		seed("org-canary", 10)

		err := newRunner(Options{}).RunCycle(context.Background(), []model.Organization{org}, now)
		Expect(err).NotTo(HaveOccurred())

		Expect(api.created).To(HaveLen(1), "13 inherited soak days satisfy the 7 day requirement")

		persisted, err := history.Load(store, history.Key("production", "org-main", ""))
		Expect(err).NotTo(HaveOccurred())
		Expect(persisted.SoakDays("4.12.19", "web")).To(Equal(3.0),
			"inherited soak must never leak into the persisted record")
	})

	It("blocks the upgrade when local soak alone is not enough", func() {
		cluster := managedCluster("c1", "4.12.17", "4.12.19")
		cluster.Labels["fleetgate.sh/soak-days"] = "7"
		api.clusters["fleetgate.sh/org=main"] = []model.ClusterDetails{cluster}

		err := newRunner(Options{}).RunCycle(context.Background(), []model.Organization{org}, now)
		Expect(err).NotTo(HaveOccurred())

		Expect(api.created).To(BeEmpty())
	})

	It("leaves existing non-blocked policies alone", func() {
		api.clusters["fleetgate.sh/org=main"] = []model.ClusterDetails{
			managedCluster("c1", "4.12.17", "4.12.19"),
		}
		nextRun := now.Add(time.Hour)
		api.policies["c1"] = []model.UpgradePolicy{
			&model.ClusterUpgradePolicy{PolicyBase: model.PolicyBase{
				ID: "p1", Cluster: "c1", Version: "4.12.19", NextRun: &nextRun,
			}},
		}

		err := newRunner(Options{}).RunCycle(context.Background(), []model.Organization{org}, now)
		Expect(err).NotTo(HaveOccurred())

		Expect(api.created).To(BeEmpty())
		Expect(api.deleted).To(BeEmpty())
	})

	It("schedules addon upgrades under their own history key", func() {
		cluster := managedCluster("c1", "4.12.17", "4.12.19")
		cluster.Labels["fleetgate.sh/addons"] = "logging-operator"
		api.clusters["fleetgate.sh/org=main"] = []model.ClusterDetails{cluster}

		err := newRunner(Options{}).RunCycle(context.Background(), []model.Organization{org}, now)
		Expect(err).NotTo(HaveOccurred())

		kinds := map[model.PolicyKind]int{}
		for _, p := range api.created {
			kinds[p.PolicyKind()]++
		}
		Expect(kinds[model.PolicyKindCluster]).To(Equal(1))
		Expect(kinds[model.PolicyKindAddon]).To(Equal(1))

		_, ok, err := store.Get(history.Key("production", "org-main", "logging-operator"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("propagates nothing when listing clusters fails for one organization", func() {
		api.listErr = errors.New("service unavailable")

		err := newRunner(Options{}).RunCycle(context.Background(), []model.Organization{org}, now)
		Expect(err).NotTo(HaveOccurred(), "organization failures are logged, not returned")
		Expect(api.created).To(BeEmpty())
	})

	It("fails the whole cycle when version gates cannot be fetched", func() {
		gateAPI := &gateFailingOCM{fakeOCM: api}

		r := New(gateAPI, store, gates.NewEngine(gateAPI, gates.Config{}), Options{})
		err := r.RunCycle(context.Background(), []model.Organization{org}, now)
		Expect(err).To(HaveOccurred())
	})
})

type gateFailingOCM struct {
	*fakeOCM
}

func (g *gateFailingOCM) GetVersionGates(context.Context) ([]model.VersionGate, error) {
	return nil, fmt.Errorf("service unavailable")
}
