package gates

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/fleetgate-sh/scheduler/internal/model"
)

// NoopHandler agrees every gate without remediation. Used for gate labels
// that are informational checkpoints only.
type NoopHandler struct{}

func (NoopHandler) ResponsibleFor(model.ClusterDetails) bool { return true }

func (NoopHandler) Handle(ctx context.Context, orgID string, cluster model.ClusterDetails, gate model.VersionGate, dryRun bool) (bool, error) {
	log.FromContext(ctx).V(1).Info("agreeing gate without remediation",
		"organization", orgID,
		"cluster", cluster.Name,
		"gate", gate.Label,
	)
	return true, nil
}

// CredentialProvisioner prepares whatever remote credential a gated minor
// version requires before the gate may be agreed.
type CredentialProvisioner interface {
	EnsureCredential(ctx context.Context, orgID string, cluster model.ClusterDetails, versionPrefix string) error
}

// CredentialHandler remediates credential gates by provisioning the required
// credential first. A provisioning failure leaves the gate unacknowledged;
// the next cycle retries.
type CredentialHandler struct {
	Provisioner CredentialProvisioner
	// Topology restricts responsibility to clusters of one topology; empty
	// accepts all.
	Topology string
}

func (h *CredentialHandler) ResponsibleFor(cluster model.ClusterDetails) bool {
	return h.Topology == "" || h.Topology == cluster.Topology
}

func (h *CredentialHandler) Handle(ctx context.Context, orgID string, cluster model.ClusterDetails, gate model.VersionGate, dryRun bool) (bool, error) {
	logger := log.FromContext(ctx).WithValues("cluster", cluster.Name, "gate", gate.Label)

	if dryRun {
		logger.Info("dry run, not provisioning credential")
		return true, nil
	}

	if err := h.Provisioner.EnsureCredential(ctx, orgID, cluster, gate.VersionPrefix); err != nil {
		logger.Error(err, "credential provisioning failed")
		return false, nil
	}

	return true, nil
}
