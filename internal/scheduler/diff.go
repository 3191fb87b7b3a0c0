// Package scheduler holds the per-organization diff engine: it turns desired
// upgrade specs plus observed upgrade policies into a minimal ordered list of
// create/delete actions, and applies them against the cluster-management
// service.
package scheduler

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/robfig/cron/v3"
	"k8s.io/apimachinery/pkg/util/sets"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/fleetgate-sh/scheduler/internal/gates"
	"github.com/fleetgate-sh/scheduler/internal/history"
	"github.com/fleetgate-sh/scheduler/internal/model"
	"github.com/fleetgate-sh/scheduler/internal/sector"
	"github.com/fleetgate-sh/scheduler/internal/version"
)

// The cluster-management service refuses policies scheduled too close to
// now, and addon upgrades cannot be pre-scheduled at all, so each kind gets
// its own lead time and lookahead window.
const (
	clusterLeadTime  = 5 * time.Minute
	clusterLookahead = 2 * time.Hour

	addonLeadTime  = 1 * time.Minute
	addonLookahead = 10 * time.Minute
)

// Scheduler computes the policy diff for one organization and one policy
// kind. It carries no state between CalculateDiff invocations; the per-cycle
// mutex lock table lives inside a single call.
type Scheduler struct {
	leadTime  time.Duration
	lookahead time.Duration
	addonID   string // empty for cluster upgrades
}

// NewClusterScheduler returns the diff engine for cluster upgrades.
func NewClusterScheduler() *Scheduler {
	return &Scheduler{leadTime: clusterLeadTime, lookahead: clusterLookahead}
}

// NewAddonScheduler returns the diff engine for one addon's upgrades.
func NewAddonScheduler(addonID string) *Scheduler {
	return &Scheduler{leadTime: addonLeadTime, lookahead: addonLookahead, addonID: addonID}
}

// Input bundles everything one diff computation consumes. The clock is an
// explicit input so decisions stay deterministic.
type Input struct {
	// Current are the upgrade policies observed on the cluster-management
	// service right now.
	Current []model.UpgradePolicy
	// Desired are the enriched upgrade specs of the organization.
	Desired []model.ConfiguredUpgradePolicy
	Org     *model.Organization
	History *history.VersionData
	Sectors *sector.Graph
	// Gates are the service's version gates; Agreements maps cluster id to
	// the gate ids already agreed for it.
	Gates      []model.VersionGate
	Agreements map[string]sets.Set[string]
	Now        time.Time
}

// relevant filters observed policies down to the kind this scheduler owns.
func (s *Scheduler) relevant(p model.UpgradePolicy) bool {
	if s.addonID != "" {
		addon, ok := p.(*model.AddonUpgradePolicy)
		return ok && addon.AddonID == s.addonID
	}
	kind := p.PolicyKind()
	return kind == model.PolicyKindCluster || kind == model.PolicyKindControlPlane
}

// CalculateDiff produces the ordered create/delete actions for one cycle.
// Desired policies are processed most-behind, least-soaked first, which
// matters because mutex locks are consumed greedily in that order. Deletes
// are emitted before creates.
func (s *Scheduler) CalculateDiff(ctx context.Context, in Input) ([]model.PolicyDiff, error) {
	logger := log.FromContext(ctx)

	currentByCluster := map[string]model.UpgradePolicy{}
	for _, current := range in.Current {
		if !s.relevant(current) {
			continue
		}
		if _, dup := currentByCluster[current.ClusterID()]; dup {
			return nil, fmt.Errorf("cluster %s has more than one active %s upgrade policy", current.ClusterID(), current.PolicyKind())
		}
		currentByCluster[current.ClusterID()] = current
	}

	desired := slices.Clone(in.Desired)
	slices.SortStableFunc(desired, func(a, b model.ConfiguredUpgradePolicy) int {
		if c := version.Compare(a.Cluster.Version, b.Cluster.Version); c != 0 {
			return c
		}
		sa, sb := currentSoak(in.History, a), currentSoak(in.History, b)
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		default:
			return 0
		}
	})

	// Seed the lock table from clusters that already hold a policy, then
	// update it as creates are emitted.
	locks := map[string]string{}
	upgrading := map[string]int{}
	for _, p := range desired {
		if _, ok := currentByCluster[p.Cluster.ID]; !ok {
			continue
		}
		for mutex := range p.Conditions.Mutexes {
			locks[mutex] = p.Cluster.ID
		}
		if p.Conditions.Sector != "" {
			upgrading[p.Conditions.Sector]++
		}
	}

	var diffs []model.PolicyDiff

	for _, p := range desired {
		logger := logger.WithValues("cluster", p.Cluster.Name)

		if existing, ok := currentByCluster[p.Cluster.ID]; ok {
			if !s.versionBlocked(in.Org, p, existing.TargetVersion()) {
				logger.V(1).Info("cluster already has an upgrade policy", "version", existing.TargetVersion())
				continue
			}
			if next := existing.NextRunTime(); next != nil && next.Before(in.Now) {
				logger.Info("active policy targets a blocked version but the upgrade already started, leaving it alone",
					"version", existing.TargetVersion())
				continue
			}
			logger.Info("deleting policy targeting blocked version", "version", existing.TargetVersion())
			diffs = append(diffs, model.PolicyDiff{Action: model.ActionDelete, Policy: existing})
			// The cluster may still qualify for a fresh, non-blocked
			// schedule below.
		}

		next, due, err := s.nextScheduleTime(p.Schedule, in.Now)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule for cluster %s: %w", p.Cluster.Name, err)
		}
		if !due {
			logger.V(1).Info("next schedule beyond lookahead window, skipping", "next", next)
			continue
		}

		if mutex, holder, held := heldMutex(locks, p); held {
			logger.V(1).Info("mutex held by another cluster, skipping", "mutex", mutex, "holder", holder)
			continue
		}

		if p.Conditions.Sector != "" && in.Sectors != nil {
			if sec := in.Sectors.Sector(p.Conditions.Sector); sec != nil &&
				sec.MaxParallelUpgrades > 0 && upgrading[sec.Name] >= sec.MaxParallelUpgrades {
				logger.V(1).Info("sector at maximum parallel upgrades, skipping", "sector", sec.Name)
				continue
			}
		}

		target := s.selectVersion(ctx, in, p)
		if target == "" {
			continue
		}

		created := s.buildCreate(in, p, target, next)
		logger.Info("scheduling upgrade", "version", target, "next", next, "kind", created.PolicyKind())
		diffs = append(diffs, model.PolicyDiff{Action: model.ActionCreate, Policy: created})

		for mutex := range p.Conditions.Mutexes {
			locks[mutex] = p.Cluster.ID
		}
		if p.Conditions.Sector != "" {
			upgrading[p.Conditions.Sector]++
		}
	}

	// Deletes first: free up locks and slots before creating new policies.
	slices.SortStableFunc(diffs, func(a, b model.PolicyDiff) int {
		return actionRank(a.Action) - actionRank(b.Action)
	})

	return diffs, nil
}

func actionRank(a model.PolicyAction) int {
	if a == model.ActionDelete {
		return 0
	}
	return 1
}

// currentSoak is the soak a cluster has accumulated on its current version,
// summed over its workloads. Used only for processing order.
func currentSoak(data *history.VersionData, p model.ConfiguredUpgradePolicy) float64 {
	total := 0.0
	if data == nil {
		return total
	}
	for _, workload := range p.Workloads {
		total += data.SoakDays(p.Cluster.Version, workload)
	}
	return total
}

// nextScheduleTime computes the first cron occurrence at least leadTime
// ahead of now; due is false when it falls beyond the lookahead window.
func (s *Scheduler) nextScheduleTime(schedule string, now time.Time) (next time.Time, due bool, err error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return time.Time{}, false, err
	}

	next = sched.Next(now.Add(s.leadTime))
	return next, !next.After(now.Add(s.lookahead)), nil
}

// heldMutex reports whether any of the policy's mutexes is held by a
// different cluster this cycle.
func heldMutex(locks map[string]string, p model.ConfiguredUpgradePolicy) (mutex, holder string, held bool) {
	for m := range p.Conditions.Mutexes {
		if owner, ok := locks[m]; ok && owner != p.Cluster.ID {
			return m, owner, true
		}
	}
	return "", "", false
}

// versionBlocked checks the candidate against the organization's and the
// cluster's blocked-version patterns.
func (s *Scheduler) versionBlocked(org *model.Organization, p model.ConfiguredUpgradePolicy, candidate string) bool {
	patterns := p.Conditions.BlockedVersions
	if org != nil {
		patterns = append(slices.Clone(patterns), org.BlockedVersions...)
	}
	for _, pattern := range patterns {
		// Patterns are validated when the configuration is parsed; a
		// pattern that fails to compile here simply never matches.
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		if re.MatchString(candidate) {
			return true
		}
	}
	return false
}

// selectVersion walks the cluster's reachable versions in descending order
// and returns the highest non-blocked one that satisfies the upgrade
// conditions, or the empty string when none qualifies.
func (s *Scheduler) selectVersion(ctx context.Context, in Input, p model.ConfiguredUpgradePolicy) string {
	logger := log.FromContext(ctx).WithValues("cluster", p.Cluster.Name)

	available := slices.Clone(p.Cluster.AvailableUpgrades)
	slices.SortFunc(available, func(a, b string) int {
		return version.Compare(b, a)
	})

	for _, candidate := range available {
		if s.versionBlocked(in.Org, p, candidate) {
			logger.V(1).Info("version blocked", "version", candidate)
			continue
		}
		if !s.versionConditionsMet(candidate, in, p) {
			logger.V(1).Info("version conditions not met", "version", candidate)
			continue
		}
		return candidate
	}

	return ""
}

// buildCreate assembles the policy variant to create: addon policies for
// addon schedulers, control-plane policies for hosted clusters and cluster
// policies otherwise. Cluster-level variants carry the unagreed gates between
// the current and target minor so they can be pre-agreed with the same
// action.
func (s *Scheduler) buildCreate(in Input, p model.ConfiguredUpgradePolicy, target string, next time.Time) model.UpgradePolicy {
	base := model.PolicyBase{
		Cluster:      p.Cluster.ID,
		Version:      target,
		NextRun:      &next,
		ScheduleType: model.ScheduleTypeManual,
	}

	if s.addonID != "" {
		return &model.AddonUpgradePolicy{PolicyBase: base, AddonID: s.addonID}
	}

	agreed := in.Agreements[p.Cluster.ID]
	if agreed == nil {
		agreed = sets.New[string]()
	}
	toAgree := gates.GatesForUpgrade(in.Gates, p.Cluster, agreed, target)

	if p.Cluster.Topology == model.TopologyHostedControlPlane {
		return &model.ControlPlaneUpgradePolicy{PolicyBase: base, GatesToAgree: toAgree}
	}
	return &model.ClusterUpgradePolicy{PolicyBase: base, GatesToAgree: toAgree}
}
