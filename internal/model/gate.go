package model

// VersionGate is a checkpoint the cluster-management service requires
// explicit agreement for before allowing an upgrade across a minor version
// boundary.
type VersionGate struct {
	ID string
	// Label identifies the domain-specific check behind the gate, e.g.
	// "api.fleetgate.sh/gate-credentials".
	Label string
	// VersionPrefix is the minor version the gate blocks, e.g. "4.13".
	VersionPrefix string
	// Topology restricts the gate to clusters of a given topology; empty
	// means the gate applies to every cluster.
	Topology string
}

// AppliesTo reports whether the gate is relevant for the given cluster's
// topology.
func (g VersionGate) AppliesTo(cluster ClusterDetails) bool {
	return g.Topology == "" || g.Topology == cluster.Topology
}
