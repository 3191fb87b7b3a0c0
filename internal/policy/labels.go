// Package policy decodes the label-encoded upgrade policy of a cluster into
// a typed spec. Parsing collects per-field errors instead of failing fast; a
// malformed cluster excludes only that cluster from the organization's
// desired state.
package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/fleetgate-sh/scheduler/internal/model"
)

// LabelPrefix namespaces every scheduler label on a cluster.
const LabelPrefix = "fleetgate.sh/"

const (
	labelWorkloads       = LabelPrefix + "workloads"
	labelSchedule        = LabelPrefix + "schedule"
	labelSoakDays        = LabelPrefix + "soak-days"
	labelSector          = LabelPrefix + "sector"
	labelMutexes         = LabelPrefix + "mutexes"
	labelBlockedVersions = LabelPrefix + "blocked-versions"
	labelAddons          = LabelPrefix + "addons"
)

// FieldError describes one invalid label value.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Managed reports whether the cluster declares an upgrade policy at all.
func Managed(clusterLabels map[string]string) bool {
	_, ok := clusterLabels[labelSchedule]
	if !ok {
		_, ok = clusterLabels[labelWorkloads]
	}
	return ok
}

// ParseClusterUpgradeSpec decodes a cluster's labels. It returns the spec and
// every field error found; callers treat a non-empty error list as fatal for
// the cluster only. Returns (nil, nil) for clusters without any policy
// labels.
func ParseClusterUpgradeSpec(clusterLabels map[string]string) (*model.ClusterUpgradeSpec, []FieldError) {
	if !Managed(clusterLabels) {
		return nil, nil
	}

	var errs []FieldError
	spec := &model.ClusterUpgradeSpec{}

	spec.Workloads = splitAndTrim(clusterLabels[labelWorkloads])
	if len(spec.Workloads) == 0 {
		errs = append(errs, FieldError{Field: labelWorkloads, Message: "at least one workload is required"})
	}

	spec.Schedule = strings.TrimSpace(clusterLabels[labelSchedule])
	if spec.Schedule == "" {
		errs = append(errs, FieldError{Field: labelSchedule, Message: "a cron schedule is required"})
	} else if _, err := cron.ParseStandard(spec.Schedule); err != nil {
		errs = append(errs, FieldError{Field: labelSchedule, Message: fmt.Sprintf("invalid cron expression %q: %v", spec.Schedule, err)})
	}

	if raw, ok := clusterLabels[labelSoakDays]; ok {
		days, err := strconv.Atoi(strings.TrimSpace(raw))
		switch {
		case err != nil:
			errs = append(errs, FieldError{Field: labelSoakDays, Message: fmt.Sprintf("not an integer: %q", raw)})
		case days < 0:
			errs = append(errs, FieldError{Field: labelSoakDays, Message: "must not be negative"})
		default:
			soak := float64(days)
			spec.Conditions.SoakDays = &soak
		}
	}

	spec.Conditions.Sector = strings.TrimSpace(clusterLabels[labelSector])
	spec.Conditions.Mutexes = sets.New(splitAndTrim(clusterLabels[labelMutexes])...)

	for _, pattern := range splitAndTrim(clusterLabels[labelBlockedVersions]) {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, FieldError{Field: labelBlockedVersions, Message: fmt.Sprintf("invalid pattern %q: %v", pattern, err)})
			continue
		}
		spec.Conditions.BlockedVersions = append(spec.Conditions.BlockedVersions, pattern)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return spec, nil
}

// Addons returns the addon ids the cluster schedules upgrades for.
func Addons(clusterLabels map[string]string) []string {
	return splitAndTrim(clusterLabels[labelAddons])
}

// splitAndTrim splits a comma-separated string and trims whitespace from each
// element.
func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
