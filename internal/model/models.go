package model

import (
	"k8s.io/apimachinery/pkg/util/sets"
)

// TopologyHostedControlPlane marks clusters whose control plane is hosted by
// the service; their upgrades are split into control-plane and node-pool
// policies.
const TopologyHostedControlPlane = "hosted-control-plane"

// ClusterDetails is the view of one managed cluster as observed from the
// cluster-management service.
type ClusterDetails struct {
	ID                string
	ExternalID        string
	Name              string
	Version           string // currently running version
	Channel           string
	AvailableUpgrades []string // versions reachable by a direct upgrade
	Topology          string   // e.g. "hosted-control-plane", empty for classic
	Labels            map[string]string
}

// UpgradeConditions are the preconditions a candidate version has to satisfy
// before an upgrade policy is created for a cluster.
type UpgradeConditions struct {
	// SoakDays is the minimum accumulated soak time required for the
	// candidate version on every workload of the cluster. Nil disables the
	// check.
	SoakDays *float64
	// Sector names the sector the cluster belongs to. Empty disables
	// sector dependency gating.
	Sector string
	// Mutexes are named locks; at most one upgrade may be scheduled per
	// lock name per reconcile cycle.
	Mutexes sets.Set[string]
	// BlockedVersions are regular expressions; matching versions are never
	// scheduled for this cluster.
	BlockedVersions []string
}

// ClusterUpgradeSpec is one cluster's configured upgrade policy, decoded from
// its label set.
type ClusterUpgradeSpec struct {
	Workloads  []string
	Schedule   string // cron expression
	Conditions UpgradeConditions
}

// ConfiguredUpgradePolicy joins a ClusterUpgradeSpec with the observation of
// the cluster from the cluster-management service. It is the unit the diff
// engine iterates over.
type ConfiguredUpgradePolicy struct {
	ClusterUpgradeSpec
	Cluster ClusterDetails
	// AddonID is set for addon upgrade flows; empty for cluster upgrades.
	AddonID string
}

// SectorConfig describes one sector of an organization's deployment topology.
type SectorConfig struct {
	Name                string
	DependsOn           []string
	MaxParallelUpgrades int // 0 means unlimited
}

// Organization is rebuilt fresh every reconcile cycle from the fleet
// configuration; it is never persisted.
type Organization struct {
	ID          string
	Name        string
	Environment string
	// ClusterSelector is a label selector matching the clusters owned by
	// this organization on the cluster-management service.
	ClusterSelector string
	// BlockedVersions are organization-wide blocked version patterns,
	// applied on top of any per-cluster patterns.
	BlockedVersions []string
	// InheritVersionData names organizations whose version history is
	// merged into this organization's inherited stats each cycle.
	InheritVersionData []string
	// PublishVersionData names organizations allowed to inherit from this
	// organization. Inheritance must be reciprocal.
	PublishVersionData []string
	Sectors            []SectorConfig
}
