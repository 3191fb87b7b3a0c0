// Package sector models the inter-sector dependency graph of an
// organization's deployment topology. Sectors impose upgrade ordering: a
// version has to prove itself in a sector's dependencies before clusters in
// the sector itself may pick it up.
package sector

import (
	"slices"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/fleetgate-sh/scheduler/internal/model"
	"github.com/fleetgate-sh/scheduler/internal/version"
)

// ConfigError is a fatal sector configuration fault, raised when the
// dependency relation is not a DAG.
type ConfigError struct {
	// Cycle is the dependency path that reached itself.
	Cycle []string
}

func (e *ConfigError) Error() string {
	return "sector dependency cycle: " + strings.Join(e.Cycle, " -> ")
}

// Sector is a node in the dependency graph. The upgrade specs of the clusters
// currently assigned to the sector are attached per reconcile cycle.
type Sector struct {
	Name                string
	MaxParallelUpgrades int // 0 means unlimited

	deps  []*Sector
	specs []model.ConfiguredUpgradePolicy
}

// Dependencies returns the sectors this sector depends on.
func (s *Sector) Dependencies() []*Sector {
	return s.deps
}

// AddSpec assigns a cluster's upgrade spec to this sector for the current
// cycle.
func (s *Sector) AddSpec(p model.ConfiguredUpgradePolicy) {
	s.specs = append(s.specs, p)
}

// Specs returns the upgrade specs currently assigned to this sector.
func (s *Sector) Specs() []model.ConfiguredUpgradePolicy {
	return s.specs
}

// reportsWorkload is true if at least one cluster in the sector is actively
// reporting a version for the workload.
func (s *Sector) reportsWorkload(workload string) bool {
	for _, p := range s.specs {
		if p.Cluster.Version == "" {
			continue
		}
		if slices.Contains(p.Workloads, workload) {
			return true
		}
	}
	return false
}

// MinWorkloadVersion returns the lowest version currently reported for the
// workload within this sector, or the empty string when no cluster reports
// it.
func (s *Sector) MinWorkloadVersion(workload string) string {
	min := ""
	for _, p := range s.specs {
		if p.Cluster.Version == "" || !slices.Contains(p.Workloads, workload) {
			continue
		}
		min = version.Min(min, p.Cluster.Version)
	}
	return min
}

// Graph is an arena of sectors addressed by name. Dependencies are stored as
// references into the arena so that cycle detection does not chase object
// back-references.
type Graph struct {
	sectors map[string]*Sector
	order   []string // insertion order, for deterministic traversal
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{sectors: map[string]*Sector{}}
}

// BuildGraph constructs and validates a graph from an organization's sector
// configuration. Dependencies on sectors that are not declared themselves are
// created implicitly with default settings.
func BuildGraph(configs []model.SectorConfig) (*Graph, error) {
	g := NewGraph()

	for _, c := range configs {
		s := g.ensure(c.Name)
		s.MaxParallelUpgrades = c.MaxParallelUpgrades
	}

	for _, c := range configs {
		s := g.sectors[c.Name]
		for _, dep := range c.DependsOn {
			s.deps = append(s.deps, g.ensure(dep))
		}
	}

	if err := g.ValidateDependencies(); err != nil {
		return nil, err
	}

	return g, nil
}

func (g *Graph) ensure(name string) *Sector {
	if s, ok := g.sectors[name]; ok {
		return s
	}
	s := &Sector{Name: name}
	g.sectors[name] = s
	g.order = append(g.order, name)
	return s
}

// Sector returns the named sector, or nil when it is not part of the graph.
func (g *Graph) Sector(name string) *Sector {
	return g.sectors[name]
}

// ValidateDependencies checks that no sector can reach itself by following
// dependencies. A violation is a fatal configuration error for the owning
// organization.
func (g *Graph) ValidateDependencies() error {
	for _, name := range g.order {
		if err := g.visit(g.sectors[name], sets.New[string](), []string{}); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) visit(s *Sector, onPath sets.Set[string], path []string) error {
	if onPath.Has(s.Name) {
		return &ConfigError{Cycle: append(path, s.Name)}
	}
	onPath.Insert(s.Name)
	path = append(path, s.Name)

	for _, dep := range s.deps {
		if err := g.visit(dep, onPath, path); err != nil {
			return err
		}
	}

	onPath.Delete(s.Name)
	return nil
}

// DependencyFrontier returns, for each dependency branch of s, the nearest
// sectors that have at least one cluster actively reporting a version for
// the workload. Branches without any data recurse into their own
// dependencies, yielding the smallest frontier of sectors with real data to
// gate against.
func (g *Graph) DependencyFrontier(s *Sector, workload string) []*Sector {
	seen := sets.New[string]()
	var frontier []*Sector

	var visit func(dep *Sector)
	visit = func(dep *Sector) {
		if seen.Has(dep.Name) {
			return
		}
		seen.Insert(dep.Name)

		if dep.reportsWorkload(workload) {
			frontier = append(frontier, dep)
			return
		}
		for _, d := range dep.deps {
			visit(d)
		}
	}

	for _, dep := range s.deps {
		visit(dep)
	}

	return frontier
}

// FrontierMinVersion returns the lowest version reported for the workload
// across the dependency frontier of s, or the empty string when the frontier
// has no data for it.
func (g *Graph) FrontierMinVersion(s *Sector, workload string) string {
	min := ""
	for _, dep := range g.DependencyFrontier(s, workload) {
		min = version.Min(min, dep.MinWorkloadVersion(workload))
	}
	return min
}
