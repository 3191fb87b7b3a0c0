// Package runner drives one reconcile cycle per organization: it resolves the
// organization's clusters into desired upgrade specs, refreshes the soak-time
// history, processes version gates and applies the policy diff against the
// cluster-management service. Organizations are isolated from each other; one
// failing organization never stops the cycle for the rest.
package runner

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/sets"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/fleetgate-sh/scheduler/internal/gates"
	"github.com/fleetgate-sh/scheduler/internal/history"
	"github.com/fleetgate-sh/scheduler/internal/metrics"
	"github.com/fleetgate-sh/scheduler/internal/model"
	"github.com/fleetgate-sh/scheduler/internal/policy"
	"github.com/fleetgate-sh/scheduler/internal/scheduler"
	"github.com/fleetgate-sh/scheduler/internal/sector"
	"github.com/fleetgate-sh/scheduler/internal/state"
	"github.com/fleetgate-sh/scheduler/internal/version"
)

// API is the full cluster-management surface one reconcile cycle consumes.
// *ocm.Client satisfies it.
type API interface {
	ListClusters(ctx context.Context, selector labels.Selector) ([]model.ClusterDetails, error)
	GetUpgradePolicies(ctx context.Context, clusterID string) ([]model.UpgradePolicy, error)
	GetAddonUpgradePolicies(ctx context.Context, clusterID string) ([]model.UpgradePolicy, error)
	GetVersionGates(ctx context.Context) ([]model.VersionGate, error)

	gates.API
	scheduler.API
}

// Options tune a Runner beyond its wiring.
type Options struct {
	DryRun           bool
	SchedulerVersion string
	// Events receives one payload per applied policy action. Nil disables
	// decision events.
	Events chan<- model.DecisionEventPayload
}

// Runner executes reconcile cycles. It is not safe for concurrent use; the
// mutex lock table semantics assume a single cycle at a time.
type Runner struct {
	api        API
	store      state.Store
	gateEngine *gates.Engine
	opts       Options
}

// New wires a Runner from the cluster-management client, the state store and
// the gate engine.
func New(api API, store state.Store, gateEngine *gates.Engine, opts Options) *Runner {
	return &Runner{api: api, store: store, gateEngine: gateEngine, opts: opts}
}

// RunCycle reconciles every organization once. Per-organization failures are
// logged and counted but do not abort the cycle; only a failure to fetch the
// service-wide version gates does.
func (r *Runner) RunCycle(ctx context.Context, orgs []model.Organization, now time.Time) error {
	versionGates, err := r.api.GetVersionGates(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch version gates: %w", err)
	}

	for _, org := range orgs {
		logger := log.FromContext(ctx).WithValues("organization", org.ID, "environment", org.Environment)

		if err := r.reconcileOrganization(log.IntoContext(ctx, logger), org, versionGates, now); err != nil {
			logger.Error(err, "organization reconcile failed")
			metrics.ReconcileTotal.WithLabelValues(org.ID, metrics.ResultError).Inc()
			continue
		}
		metrics.ReconcileTotal.WithLabelValues(org.ID, metrics.ResultSuccess).Inc()
	}

	return nil
}

func (r *Runner) reconcileOrganization(ctx context.Context, org model.Organization, versionGates []model.VersionGate, now time.Time) error {
	logger := log.FromContext(ctx)

	selector, err := labels.Parse(org.ClusterSelector)
	if err != nil {
		return fmt.Errorf("invalid cluster selector %q: %w", org.ClusterSelector, err)
	}
	clusters, err := r.api.ListClusters(ctx, selector)
	if err != nil {
		return err
	}

	graph, err := sector.BuildGraph(org.Sectors)
	if err != nil {
		return err
	}

	desired, addonDesired := r.resolveDesired(ctx, org, graph, clusters)
	metrics.ClustersManaged.WithLabelValues(org.Environment, org.ID).Set(float64(len(desired)))
	if len(desired) == 0 {
		logger.V(1).Info("no managed clusters, nothing to do")
		return nil
	}

	key := history.Key(org.Environment, org.ID, "")
	data, err := history.Load(r.store, key)
	if err != nil {
		return err
	}
	data.Update(desired, now)

	// Inherited soak and stats only live in a per-cycle view; the record
	// that gets persisted stays purely local so soak never double-counts.
	view := data.Clone()
	for _, other := range org.InheritVersionData {
		otherData, err := history.Load(r.store, history.Key(org.Environment, other, ""))
		if err != nil {
			return err
		}
		view.Aggregate(otherData, other)
	}

	for _, p := range desired {
		if err := r.gateEngine.Process(ctx, org.ID, p.Cluster, versionGates, r.opts.DryRun); err != nil {
			return err
		}
	}

	agreements := map[string]sets.Set[string]{}
	var current, currentAddon []model.UpgradePolicy
	for _, p := range desired {
		agreed, err := r.api.GetVersionAgreements(ctx, p.Cluster.ID)
		if err != nil {
			return err
		}
		agreements[p.Cluster.ID] = sets.New(agreed...)

		policies, err := r.api.GetUpgradePolicies(ctx, p.Cluster.ID)
		if err != nil {
			return err
		}
		current = append(current, policies...)

		if len(addonDesired) == 0 {
			continue
		}
		addonPolicies, err := r.api.GetAddonUpgradePolicies(ctx, p.Cluster.ID)
		if err != nil {
			return err
		}
		currentAddon = append(currentAddon, addonPolicies...)
	}

	input := scheduler.Input{
		Current:    current,
		Desired:    desired,
		Org:        &org,
		History:    view,
		Sectors:    graph,
		Gates:      versionGates,
		Agreements: agreements,
		Now:        now,
	}
	diffs, err := scheduler.NewClusterScheduler().CalculateDiff(ctx, input)
	if err != nil {
		return err
	}

	addonData := map[string]*history.VersionData{}
	for _, addonID := range slices.Sorted(maps.Keys(addonDesired)) {
		addonDiffs, data, err := r.addonDiff(ctx, org, addonID, addonDesired[addonID], currentAddon, graph, versionGates, agreements, now)
		if err != nil {
			return err
		}
		diffs = append(diffs, addonDiffs...)
		addonData[addonID] = data
	}

	if err := scheduler.Act(ctx, r.api, diffs, r.opts.DryRun); err != nil {
		return err
	}

	for _, diff := range diffs {
		metrics.PolicyActionsTotal.WithLabelValues(org.ID, string(diff.Action), string(diff.Policy.PolicyKind())).Inc()
		if r.opts.Events != nil {
			r.opts.Events <- model.NewDecisionEventPayload(diff, org.Environment, org.ID, r.opts.SchedulerVersion, r.opts.DryRun)
		}
	}
	reportRemainingSoak(org, desired, view)

	if err := history.Save(ctx, r.store, key, data, r.opts.DryRun); err != nil {
		return err
	}
	for addonID, data := range addonData {
		if err := history.Save(ctx, r.store, history.Key(org.Environment, org.ID, addonID), data, r.opts.DryRun); err != nil {
			return err
		}
	}

	return nil
}

// resolveDesired turns the observed clusters into the organization's desired
// upgrade specs. Clusters with malformed policy labels are excluded
// individually; clusters without policy labels are ignored.
func (r *Runner) resolveDesired(ctx context.Context, org model.Organization, graph *sector.Graph, clusters []model.ClusterDetails) ([]model.ConfiguredUpgradePolicy, map[string][]model.ConfiguredUpgradePolicy) {
	logger := log.FromContext(ctx)

	var desired []model.ConfiguredUpgradePolicy
	addonDesired := map[string][]model.ConfiguredUpgradePolicy{}

	for _, cluster := range clusters {
		spec, errs := policy.ParseClusterUpgradeSpec(cluster.Labels)
		if len(errs) > 0 {
			for _, fieldErr := range errs {
				logger.Error(fieldErr, "invalid upgrade policy label, excluding cluster", "cluster", cluster.Name)
			}
			continue
		}
		if spec == nil {
			continue
		}

		p := model.ConfiguredUpgradePolicy{ClusterUpgradeSpec: *spec, Cluster: cluster}
		desired = append(desired, p)

		if name := p.Conditions.Sector; name != "" {
			if sec := graph.Sector(name); sec != nil {
				sec.AddSpec(p)
			} else {
				logger.Info("cluster references a sector the organization does not declare",
					"cluster", cluster.Name, "sector", name)
			}
		}

		for _, addonID := range policy.Addons(cluster.Labels) {
			ap := p
			ap.AddonID = addonID
			addonDesired[addonID] = append(addonDesired[addonID], ap)
		}
	}

	return desired, addonDesired
}

// addonDiff runs the diff engine for one addon. Addon soak history is tracked
// under its own state key; addons version-track the cluster they run on.
func (r *Runner) addonDiff(ctx context.Context, org model.Organization, addonID string, desired []model.ConfiguredUpgradePolicy, current []model.UpgradePolicy, graph *sector.Graph, versionGates []model.VersionGate, agreements map[string]sets.Set[string], now time.Time) ([]model.PolicyDiff, *history.VersionData, error) {
	data, err := history.Load(r.store, history.Key(org.Environment, org.ID, addonID))
	if err != nil {
		return nil, nil, err
	}
	data.Update(desired, now)

	input := scheduler.Input{
		Current:    current,
		Desired:    desired,
		Org:        &org,
		History:    data,
		Sectors:    graph,
		Gates:      versionGates,
		Agreements: agreements,
		Now:        now,
	}
	diffs, err := scheduler.NewAddonScheduler(addonID).CalculateDiff(ctx, input)
	if err != nil {
		return nil, nil, err
	}

	return diffs, data, nil
}

// reportRemainingSoak exports, per cluster, how much soak its best available
// candidate still needs. Zero means the soak condition no longer blocks.
func reportRemainingSoak(org model.Organization, desired []model.ConfiguredUpgradePolicy, data *history.VersionData) {
	for _, p := range desired {
		if p.Conditions.SoakDays == nil || len(p.Cluster.AvailableUpgrades) == 0 {
			continue
		}

		candidate := ""
		for _, available := range p.Cluster.AvailableUpgrades {
			if version.Compare(available, candidate) > 0 {
				candidate = available
			}
		}

		remaining := 0.0
		for _, workload := range p.Workloads {
			remaining = math.Max(remaining, *p.Conditions.SoakDays-data.SoakDays(candidate, workload))
		}
		metrics.RemainingSoakDays.WithLabelValues(org.ID, p.Cluster.Name, candidate).Set(remaining)
	}
}
