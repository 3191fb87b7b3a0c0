// Package history tracks how long each (version, workload) pair has been
// soaking across an organization's fleet. The record is append-only: soak
// time never decreases and reporting clusters are never removed.
package history

import (
	"maps"
	"slices"
	"time"

	"github.com/fleetgate-sh/scheduler/internal/model"
	"github.com/fleetgate-sh/scheduler/internal/version"
)

// WorkloadHistory is the soak record of one (version, workload) pair.
type WorkloadHistory struct {
	// SoakDays accumulates elapsed days contributed by every reporting
	// cluster. Monotonically non-decreasing.
	SoakDays float64 `json:"soakDays"`
	// Reporting is the ordered set of cluster names currently reporting
	// this version/workload combination. Inherited entries are prefixed
	// with "{organization}/".
	Reporting []string `json:"reporting,omitempty"`
}

func (h *WorkloadHistory) reports(cluster string) bool {
	return slices.Contains(h.Reporting, cluster)
}

// VersionWorkloads maps workload name to its soak record for one version.
type VersionWorkloads struct {
	Workloads map[string]*WorkloadHistory `json:"workloads"`
}

// Stats summarizes the fleet's version floor. Inherited holds the floor
// computed from other organizations' data; it is rebuilt every cycle and
// never persisted.
type Stats struct {
	MinVersion            string            `json:"minVersion,omitempty"`
	MinVersionPerWorkload map[string]string `json:"minVersionPerWorkload,omitempty"`
	Inherited             *Stats            `json:"-"`
}

// VersionData is one organization's complete version history, persisted as a
// single blob in the state store.
type VersionData struct {
	CheckIn  time.Time                    `json:"checkIn"`
	Versions map[string]*VersionWorkloads `json:"versions"`
	Stats    *Stats                       `json:"stats,omitempty"`
}

// New returns an empty VersionData.
func New() *VersionData {
	return &VersionData{Versions: map[string]*VersionWorkloads{}}
}

// WorkloadHistory returns the soak record for (version, workload), or nil
// when none exists yet.
func (v *VersionData) WorkloadHistory(ver, workload string) *WorkloadHistory {
	vw, ok := v.Versions[ver]
	if !ok {
		return nil
	}
	return vw.Workloads[workload]
}

// SoakDays returns the accumulated soak days for (version, workload), zero
// when nothing has been recorded.
func (v *VersionData) SoakDays(ver, workload string) float64 {
	h := v.WorkloadHistory(ver, workload)
	if h == nil {
		return 0
	}
	return h.SoakDays
}

func (v *VersionData) ensure(ver, workload string) *WorkloadHistory {
	vw, ok := v.Versions[ver]
	if !ok {
		vw = &VersionWorkloads{Workloads: map[string]*WorkloadHistory{}}
		v.Versions[ver] = vw
	}
	h, ok := vw.Workloads[workload]
	if !ok {
		h = &WorkloadHistory{}
		vw.Workloads[workload] = h
	}
	return h
}

// Update folds the current cycle's desired policies into the history. Every
// cluster already reporting a (version, workload) pair contributes the time
// elapsed since the last check-in; clusters observed for the first time are
// added to the reporting set and contribute nothing yet.
func (v *VersionData) Update(desired []model.ConfiguredUpgradePolicy, now time.Time) {
	elapsedDays := 0.0
	if !v.CheckIn.IsZero() && now.After(v.CheckIn) {
		elapsedDays = now.Sub(v.CheckIn).Seconds() / 86400
	}

	for _, p := range desired {
		ver := p.Cluster.Version
		if ver == "" {
			continue
		}
		for _, workload := range p.Workloads {
			h := v.ensure(ver, workload)
			if h.reports(p.Cluster.Name) {
				h.SoakDays += elapsedDays
			} else {
				h.Reporting = append(h.Reporting, p.Cluster.Name)
			}
		}
	}

	v.updateStats(desired)
	v.CheckIn = now
}

func (v *VersionData) updateStats(desired []model.ConfiguredUpgradePolicy) {
	perWorkload := map[string]string{}
	for _, p := range desired {
		if p.Cluster.Version == "" {
			continue
		}
		for _, workload := range p.Workloads {
			perWorkload[workload] = version.Min(perWorkload[workload], p.Cluster.Version)
		}
	}

	min := ""
	for _, m := range perWorkload {
		min = version.Min(min, m)
	}

	// Inherited stats are computed from other organizations and survive a
	// stats refresh within the same cycle.
	var inherited *Stats
	if v.Stats != nil {
		inherited = v.Stats.Inherited
	}

	v.Stats = &Stats{
		MinVersion:            min,
		MinVersionPerWorkload: perWorkload,
		Inherited:             inherited,
	}
}

// Clone returns a deep copy. The reconcile loop aggregates inherited data
// into a clone so the record that gets persisted stays purely local.
func (v *VersionData) Clone() *VersionData {
	out := &VersionData{CheckIn: v.CheckIn, Versions: map[string]*VersionWorkloads{}}
	for ver, vw := range v.Versions {
		cw := &VersionWorkloads{Workloads: map[string]*WorkloadHistory{}}
		for workload, h := range vw.Workloads {
			cw.Workloads[workload] = &WorkloadHistory{
				SoakDays:  h.SoakDays,
				Reporting: slices.Clone(h.Reporting),
			}
		}
		out.Versions[ver] = cw
	}
	if v.Stats != nil {
		out.Stats = &Stats{
			MinVersion:            v.Stats.MinVersion,
			MinVersionPerWorkload: maps.Clone(v.Stats.MinVersionPerWorkload),
		}
	}
	return out
}

// Aggregate merges another organization's history into this one. Soak time
// and reporting clusters are imported only for (version, workload) pairs this
// organization already knows about, so unrelated organizations cannot grow
// the record without bound. The other organization's stats become (or refine)
// the inherited floor.
func (v *VersionData) Aggregate(other *VersionData, scopeLabel string) {
	for ver, vw := range other.Versions {
		for workload, oh := range vw.Workloads {
			h := v.WorkloadHistory(ver, workload)
			if h == nil {
				continue
			}
			h.SoakDays += oh.SoakDays
			for _, name := range oh.Reporting {
				h.Reporting = append(h.Reporting, scopeLabel+"/"+name)
			}
		}
	}

	if other.Stats == nil {
		return
	}
	if v.Stats == nil {
		v.Stats = &Stats{}
	}

	if v.Stats.Inherited == nil {
		inherited := &Stats{
			MinVersion:            other.Stats.MinVersion,
			MinVersionPerWorkload: map[string]string{},
		}
		for workload, m := range other.Stats.MinVersionPerWorkload {
			inherited.MinVersionPerWorkload[workload] = m
		}
		v.Stats.Inherited = inherited
		return
	}

	inherited := v.Stats.Inherited
	inherited.MinVersion = version.Min(inherited.MinVersion, other.Stats.MinVersion)
	if inherited.MinVersionPerWorkload == nil {
		inherited.MinVersionPerWorkload = map[string]string{}
	}
	for workload, m := range other.Stats.MinVersionPerWorkload {
		inherited.MinVersionPerWorkload[workload] = version.Min(inherited.MinVersionPerWorkload[workload], m)
	}
}

// ValidateAgainstInherited reports whether the candidate version stays within
// the inherited version floor for the given workloads. Without inherited
// stats there is nothing to violate.
func (v *VersionData) ValidateAgainstInherited(candidate string, workloads []string) bool {
	if v.Stats == nil || v.Stats.Inherited == nil {
		return true
	}
	inherited := v.Stats.Inherited

	for _, workload := range workloads {
		if min, ok := inherited.MinVersionPerWorkload[workload]; ok {
			if version.Compare(candidate, min) > 0 {
				return false
			}
			continue
		}
		if inherited.MinVersion != "" && version.Compare(candidate, inherited.MinVersion) > 0 {
			return false
		}
	}

	return true
}
