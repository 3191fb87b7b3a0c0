package scheduler

import (
	"github.com/fleetgate-sh/scheduler/internal/model"
	"github.com/fleetgate-sh/scheduler/internal/version"
)

// versionConditionsMet checks the sector and soak conditions for one
// candidate version.
//
// Sector gating requires the candidate to stay within the inherited version
// floor and, for every workload, within the lowest version reported across
// the sector's dependency frontier. A frontier without data for a workload
// does not block.
//
// Soak gating requires every workload to have accumulated at least the
// configured soak days on the candidate version.
func (s *Scheduler) versionConditionsMet(candidate string, in Input, p model.ConfiguredUpgradePolicy) bool {
	if p.Conditions.Sector != "" {
		if in.History != nil && !in.History.ValidateAgainstInherited(candidate, p.Workloads) {
			return false
		}
		if in.Sectors != nil {
			if sec := in.Sectors.Sector(p.Conditions.Sector); sec != nil {
				for _, workload := range p.Workloads {
					min := in.Sectors.FrontierMinVersion(sec, workload)
					if min == "" {
						continue
					}
					if version.Compare(candidate, min) > 0 {
						return false
					}
				}
			}
		}
	}

	if p.Conditions.SoakDays != nil {
		for _, workload := range p.Workloads {
			soaked := 0.0
			if in.History != nil {
				soaked = in.History.SoakDays(candidate, workload)
			}
			if soaked < *p.Conditions.SoakDays {
				return false
			}
		}
	}

	return true
}
