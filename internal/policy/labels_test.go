package policy

import (
	"testing"
)

func TestParseClusterUpgradeSpec_Unmanaged(t *testing.T) {
	spec, errs := ParseClusterUpgradeSpec(map[string]string{"unrelated": "label"})
	if spec != nil || errs != nil {
		t.Errorf("Expected (nil, nil) for an unmanaged cluster, got (%+v, %v)", spec, errs)
	}
}

func TestParseClusterUpgradeSpec_Full(t *testing.T) {
	spec, errs := ParseClusterUpgradeSpec(map[string]string{
		labelWorkloads:       "web, batch",
		labelSchedule:        "0 7 * * 1",
		labelSoakDays:        "7",
		labelSector:          "main",
		labelMutexes:         "db-primary,shared-ingress",
		labelBlockedVersions: `4\.13\..*`,
	})
	if len(errs) > 0 {
		t.Fatalf("Expected no errors, got: %v", errs)
	}

	if len(spec.Workloads) != 2 || spec.Workloads[0] != "web" || spec.Workloads[1] != "batch" {
		t.Errorf("Expected workloads [web batch], got %v", spec.Workloads)
	}
	if spec.Schedule != "0 7 * * 1" {
		t.Errorf("Expected schedule to be kept, got %q", spec.Schedule)
	}
	if spec.Conditions.SoakDays == nil || *spec.Conditions.SoakDays != 7 {
		t.Errorf("Expected 7 soak days, got %v", spec.Conditions.SoakDays)
	}
	if spec.Conditions.Sector != "main" {
		t.Errorf("Expected sector main, got %q", spec.Conditions.Sector)
	}
	if !spec.Conditions.Mutexes.Has("db-primary") || !spec.Conditions.Mutexes.Has("shared-ingress") {
		t.Errorf("Expected both mutexes, got %v", spec.Conditions.Mutexes)
	}
	if len(spec.Conditions.BlockedVersions) != 1 {
		t.Errorf("Expected one blocked version pattern, got %v", spec.Conditions.BlockedVersions)
	}
}

func TestParseClusterUpgradeSpec_MinimalPolicy(t *testing.T) {
	spec, errs := ParseClusterUpgradeSpec(map[string]string{
		labelWorkloads: "web",
		labelSchedule:  "@weekly",
	})
	if len(errs) > 0 {
		t.Fatalf("Expected no errors, got: %v", errs)
	}
	if spec.Conditions.SoakDays != nil {
		t.Error("Expected the soak condition to be disabled")
	}
	if spec.Conditions.Sector != "" {
		t.Error("Expected no sector")
	}
}

func TestParseClusterUpgradeSpec_CollectsAllErrors(t *testing.T) {
	tests := []struct {
		name      string
		labels    map[string]string
		wantField string
	}{
		{
			name: "missing workloads",
			labels: map[string]string{
				labelSchedule: "0 7 * * 1",
			},
			wantField: labelWorkloads,
		},
		{
			name: "invalid cron",
			labels: map[string]string{
				labelWorkloads: "web",
				labelSchedule:  "not a schedule",
			},
			wantField: labelSchedule,
		},
		{
			name: "soak days not an integer",
			labels: map[string]string{
				labelWorkloads: "web",
				labelSchedule:  "0 7 * * 1",
				labelSoakDays:  "seven",
			},
			wantField: labelSoakDays,
		},
		{
			name: "negative soak days",
			labels: map[string]string{
				labelWorkloads: "web",
				labelSchedule:  "0 7 * * 1",
				labelSoakDays:  "-1",
			},
			wantField: labelSoakDays,
		},
		{
			name: "invalid blocked version pattern",
			labels: map[string]string{
				labelWorkloads:       "web",
				labelSchedule:        "0 7 * * 1",
				labelBlockedVersions: "4.13.[",
			},
			wantField: labelBlockedVersions,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, errs := ParseClusterUpgradeSpec(tt.labels)
			if spec != nil {
				t.Errorf("Expected no spec for malformed labels, got %+v", spec)
			}
			if len(errs) == 0 {
				t.Fatal("Expected field errors, got none")
			}
			found := false
			for _, e := range errs {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("Expected an error on %q, got %v", tt.wantField, errs)
			}
		})
	}
}

func TestParseClusterUpgradeSpec_MultipleErrorsAtOnce(t *testing.T) {
	_, errs := ParseClusterUpgradeSpec(map[string]string{
		labelSchedule: "nope",
		labelSoakDays: "many",
	})
	if len(errs) < 3 {
		t.Errorf("Expected errors for workloads, schedule and soak days, got %v", errs)
	}
}

func TestAddons(t *testing.T) {
	addons := Addons(map[string]string{labelAddons: "logging-operator, mesh"})
	if len(addons) != 2 || addons[0] != "logging-operator" || addons[1] != "mesh" {
		t.Errorf("Expected [logging-operator mesh], got %v", addons)
	}
	if got := Addons(map[string]string{}); got != nil {
		t.Errorf("Expected nil without the addons label, got %v", got)
	}
}
