// Package gates implements the version gate approval state machine. A gate
// moves Unacknowledged -> Handling when it blocks a minor version on the
// cluster's upgrade path, then Handling -> Agreed when its handler succeeds
// (and the run is not dry), or Handling -> Failed, leaving it unacknowledged
// for the next cycle.
package gates

import (
	"context"

	"k8s.io/apimachinery/pkg/util/sets"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/fleetgate-sh/scheduler/internal/model"
	"github.com/fleetgate-sh/scheduler/internal/version"
)

// API is the slice of the cluster-management client the engine needs.
type API interface {
	GetVersionAgreements(ctx context.Context, clusterID string) ([]string, error)
	CreateVersionAgreement(ctx context.Context, gateID, clusterID string) error
}

// Handler processes one gate label. Handlers are registered explicitly at
// engine construction; there is no process-wide registry.
type Handler interface {
	// ResponsibleFor reports whether this handler wants to process gates
	// for the given cluster. Clusters nobody is responsible for are
	// skipped, not failed.
	ResponsibleFor(cluster model.ClusterDetails) bool
	// Handle performs whatever remediation the gate requires. Returning
	// ok=false leaves the gate unacknowledged for the next cycle; an error
	// aborts the organization's cycle.
	Handle(ctx context.Context, orgID string, cluster model.ClusterDetails, gate model.VersionGate, dryRun bool) (ok bool, err error)
}

// Config wires gate labels to their handlers.
type Config struct {
	// Handlers maps a gate label to the handler responsible for it.
	Handlers map[string]Handler
	// Default applies to gate labels with no registered handler. Nil means
	// NoopHandler.
	Default Handler
}

// Engine computes which gates a cluster has to agree and drives their
// handlers.
type Engine struct {
	api            API
	handlers       map[string]Handler
	defaultHandler Handler
}

// NewEngine builds an engine from an explicit handler configuration.
func NewEngine(api API, cfg Config) *Engine {
	def := cfg.Default
	if def == nil {
		def = NoopHandler{}
	}
	return &Engine{
		api:            api,
		handlers:       cfg.Handlers,
		defaultHandler: def,
	}
}

// GatesToAgree returns the gates the cluster is expected to agree: gates that
// apply to its topology, are not yet agreed, sit strictly above the cluster's
// current minor version and are reachable through an available upgrade.
// Same-minor (z-stream) upgrades never trigger a gate here.
func GatesToAgree(gates []model.VersionGate, cluster model.ClusterDetails, agreed sets.Set[string]) []model.VersionGate {
	var out []model.VersionGate

	for _, gate := range gates {
		if !gate.AppliesTo(cluster) || agreed.Has(gate.ID) {
			continue
		}
		if version.CompareMinor(cluster.Version, gate.VersionPrefix) >= 0 {
			continue
		}
		onPath := false
		for _, available := range cluster.AvailableUpgrades {
			if version.CompareMinor(available, gate.VersionPrefix) >= 0 {
				onPath = true
				break
			}
		}
		if onPath {
			out = append(out, gate)
		}
	}

	return out
}

// GatesForUpgrade returns the unagreed gates that sit between the cluster's
// current version (exclusive) and the target version (inclusive), so they can
// be pre-agreed as part of creating the upgrade policy.
func GatesForUpgrade(gates []model.VersionGate, cluster model.ClusterDetails, agreed sets.Set[string], target string) []model.VersionGate {
	var out []model.VersionGate

	for _, gate := range gates {
		if !gate.AppliesTo(cluster) || agreed.Has(gate.ID) {
			continue
		}
		if version.CompareMinor(cluster.Version, gate.VersionPrefix) >= 0 {
			continue
		}
		if version.CompareMinor(target, gate.VersionPrefix) < 0 {
			continue
		}
		out = append(out, gate)
	}

	return out
}

// Process runs the state machine for one cluster against the given gate set.
// Handler failures are logged and retried on the next cycle; API errors
// propagate and abort the organization's cycle.
func (e *Engine) Process(ctx context.Context, orgID string, cluster model.ClusterDetails, gates []model.VersionGate, dryRun bool) error {
	logger := log.FromContext(ctx).WithValues("cluster", cluster.Name)

	agreements, err := e.api.GetVersionAgreements(ctx, cluster.ID)
	if err != nil {
		return err
	}
	agreed := sets.New(agreements...)

	for _, gate := range GatesToAgree(gates, cluster, agreed) {
		handler, ok := e.handlers[gate.Label]
		if !ok {
			handler = e.defaultHandler
		}
		if !handler.ResponsibleFor(cluster) {
			logger.V(1).Info("no handler responsible for gate, skipping", "gate", gate.Label)
			continue
		}

		handled, err := handler.Handle(ctx, orgID, cluster, gate, dryRun)
		if err != nil {
			return err
		}
		if !handled {
			logger.Info("gate handling failed, leaving unacknowledged", "gate", gate.Label, "versionPrefix", gate.VersionPrefix)
			continue
		}
		if dryRun {
			logger.Info("dry run, not recording gate agreement", "gate", gate.Label)
			continue
		}

		if err := e.api.CreateVersionAgreement(ctx, gate.ID, cluster.ID); err != nil {
			return err
		}
		logger.Info("version gate agreed", "gate", gate.Label, "versionPrefix", gate.VersionPrefix)
	}

	return nil
}
