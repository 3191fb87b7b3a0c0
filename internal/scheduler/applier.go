package scheduler

import (
	"context"
	"fmt"
	"slices"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/fleetgate-sh/scheduler/internal/model"
)

// API is the slice of the cluster-management client the applier drives.
type API interface {
	CreateUpgradePolicy(ctx context.Context, clusterID string, policy *model.ClusterUpgradePolicy) error
	DeleteUpgradePolicy(ctx context.Context, clusterID, policyID string) error

	CreateAddonUpgradePolicy(ctx context.Context, clusterID string, policy *model.AddonUpgradePolicy) error
	DeleteAddonUpgradePolicy(ctx context.Context, clusterID, policyID string) error

	CreateControlPlaneUpgradePolicy(ctx context.Context, clusterID string, policy *model.ControlPlaneUpgradePolicy) error
	DeleteControlPlaneUpgradePolicy(ctx context.Context, clusterID, policyID string) error

	CreateNodePoolUpgradePolicy(ctx context.Context, clusterID string, policy *model.NodePoolUpgradePolicy) error
	DeleteNodePoolUpgradePolicy(ctx context.Context, clusterID, policyID string) error

	CreateVersionAgreement(ctx context.Context, gateID, clusterID string) error
}

// Act applies a diff list against the cluster-management service. The list is
// re-sorted deletes-first even when the diff engine already produced that
// order. Each diff is applied independently: a failure stops the remaining
// diffs but already applied ones stand; policy CRUD is idempotent across
// cycles. Under dry run only the decisions are logged.
func Act(ctx context.Context, api API, diffs []model.PolicyDiff, dryRun bool) error {
	logger := log.FromContext(ctx)

	ordered := slices.Clone(diffs)
	slices.SortStableFunc(ordered, func(a, b model.PolicyDiff) int {
		return actionRank(a.Action) - actionRank(b.Action)
	})

	for _, diff := range ordered {
		logger := logger.WithValues(
			"action", diff.Action,
			"kind", diff.Policy.PolicyKind(),
			"cluster", diff.Policy.ClusterID(),
			"version", diff.Policy.TargetVersion(),
		)

		if dryRun {
			logger.Info("dry run, policy action not applied")
			continue
		}

		if err := apply(ctx, api, diff); err != nil {
			return fmt.Errorf("failed to %s %s upgrade policy for cluster %s: %w",
				diff.Action, diff.Policy.PolicyKind(), diff.Policy.ClusterID(), err)
		}
		logger.Info("policy action applied")
	}

	return nil
}

func apply(ctx context.Context, api API, diff model.PolicyDiff) error {
	switch p := diff.Policy.(type) {
	case *model.ClusterUpgradePolicy:
		if diff.Action == model.ActionDelete {
			return api.DeleteUpgradePolicy(ctx, p.Cluster, p.ID)
		}
		if err := agreeGates(ctx, api, p.Cluster, p.GatesToAgree); err != nil {
			return err
		}
		return api.CreateUpgradePolicy(ctx, p.Cluster, p)

	case *model.AddonUpgradePolicy:
		if diff.Action == model.ActionDelete {
			return api.DeleteAddonUpgradePolicy(ctx, p.Cluster, p.ID)
		}
		return api.CreateAddonUpgradePolicy(ctx, p.Cluster, p)

	case *model.ControlPlaneUpgradePolicy:
		if diff.Action == model.ActionDelete {
			return api.DeleteControlPlaneUpgradePolicy(ctx, p.Cluster, p.ID)
		}
		if err := agreeGates(ctx, api, p.Cluster, p.GatesToAgree); err != nil {
			return err
		}
		return api.CreateControlPlaneUpgradePolicy(ctx, p.Cluster, p)

	case *model.NodePoolUpgradePolicy:
		if diff.Action == model.ActionDelete {
			return api.DeleteNodePoolUpgradePolicy(ctx, p.Cluster, p.ID)
		}
		return api.CreateNodePoolUpgradePolicy(ctx, p.Cluster, p)

	default:
		return fmt.Errorf("unsupported policy kind %q", diff.Policy.PolicyKind())
	}
}

// agreeGates pre-agrees the gates attached to a create action so that the
// service accepts the new policy.
func agreeGates(ctx context.Context, api API, clusterID string, toAgree []model.VersionGate) error {
	for _, gate := range toAgree {
		if err := api.CreateVersionAgreement(ctx, gate.ID, clusterID); err != nil {
			return fmt.Errorf("failed to agree version gate %s: %w", gate.Label, err)
		}
	}
	return nil
}
