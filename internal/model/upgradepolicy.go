package model

import "time"

// PolicyKind tags the upgrade policy variants supported by the
// cluster-management service.
type PolicyKind string

const (
	PolicyKindCluster      PolicyKind = "cluster"
	PolicyKindAddon        PolicyKind = "addon"
	PolicyKindControlPlane PolicyKind = "control-plane"
	PolicyKindNodePool     PolicyKind = "node-pool"
)

// Schedule types understood by the cluster-management service.
const (
	ScheduleTypeManual    = "manual"
	ScheduleTypeAutomatic = "automatic"
)

// UpgradePolicy is the tagged union over policy variants that exist right now
// on the cluster-management service, or that the scheduler wants to create.
// Variant-specific behavior dispatches on PolicyKind, not on type assertions
// buried in business logic.
type UpgradePolicy interface {
	PolicyKind() PolicyKind
	// PolicyID is the external id assigned by the cluster-management
	// service; empty for policies the scheduler is about to create.
	PolicyID() string
	ClusterID() string
	TargetVersion() string
	// NextRunTime is when the service will start the upgrade, nil if not
	// yet scheduled.
	NextRunTime() *time.Time
}

// PolicyBase carries the fields shared by every upgrade policy variant.
type PolicyBase struct {
	ID           string
	Cluster      string // cluster id
	Version      string // target version
	NextRun      *time.Time
	Schedule     string // cron expression, only for automatic policies
	ScheduleType string
}

func (p PolicyBase) PolicyID() string        { return p.ID }
func (p PolicyBase) ClusterID() string       { return p.Cluster }
func (p PolicyBase) TargetVersion() string   { return p.Version }
func (p PolicyBase) NextRunTime() *time.Time { return p.NextRun }

// ClusterUpgradePolicy upgrades the cluster control plane and workers in one
// step (classic topology).
type ClusterUpgradePolicy struct {
	PolicyBase
	// GatesToAgree are the unacknowledged version gates that must be
	// agreed as part of creating this policy.
	GatesToAgree []VersionGate
}

func (p *ClusterUpgradePolicy) PolicyKind() PolicyKind { return PolicyKindCluster }

// AddonUpgradePolicy upgrades a single addon on a cluster.
type AddonUpgradePolicy struct {
	PolicyBase
	AddonID string
}

func (p *AddonUpgradePolicy) PolicyKind() PolicyKind { return PolicyKindAddon }

// ControlPlaneUpgradePolicy upgrades the hosted control plane of a cluster.
type ControlPlaneUpgradePolicy struct {
	PolicyBase
	GatesToAgree []VersionGate
}

func (p *ControlPlaneUpgradePolicy) PolicyKind() PolicyKind { return PolicyKindControlPlane }

// NodePoolUpgradePolicy upgrades one node pool of a hosted-control-plane
// cluster.
type NodePoolUpgradePolicy struct {
	PolicyBase
	NodePool string
}

func (p *NodePoolUpgradePolicy) PolicyKind() PolicyKind { return PolicyKindNodePool }

// PolicyAction is what the diff engine decided to do with a policy.
type PolicyAction string

const (
	ActionCreate PolicyAction = "create"
	ActionDelete PolicyAction = "delete"
)

// PolicyDiff pairs an action with the policy it applies to. It is the diff
// engine's output unit and the applier's input unit.
type PolicyDiff struct {
	Action PolicyAction
	Policy UpgradePolicy
}
