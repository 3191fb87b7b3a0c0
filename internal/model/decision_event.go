package model

import (
	"time"

	"github.com/google/uuid"
)

// SourceMetadata identifies the scheduler instance that produced an event.
type SourceMetadata struct {
	SchedulerVersion string `json:"schedulerVersion"`
}

// DecisionEventPayload is emitted once per applied policy action so that
// downstream consumers can audit fleet upgrade decisions.
type DecisionEventPayload struct {
	EventID      string         `json:"eventId"`
	OccurredAt   time.Time      `json:"occurredAt"`
	Environment  string         `json:"environment"`
	Organization string         `json:"organization"`
	Cluster      string         `json:"cluster"`
	Action       PolicyAction   `json:"action"`
	Kind         PolicyKind     `json:"kind"`
	Version      string         `json:"version"`
	DryRun       bool           `json:"dryRun"`
	Source       SourceMetadata `json:"source"`
}

// NewDecisionEventPayload builds the event for one policy diff.
func NewDecisionEventPayload(diff PolicyDiff, environment, organization, schedulerVersion string, dryRun bool) DecisionEventPayload {
	return DecisionEventPayload{
		EventID:      uuid.New().String(),
		OccurredAt:   time.Now().UTC(),
		Environment:  environment,
		Organization: organization,
		Cluster:      diff.Policy.ClusterID(),
		Action:       diff.Action,
		Kind:         diff.Policy.PolicyKind(),
		Version:      diff.Policy.TargetVersion(),
		DryRun:       dryRun,
		Source:       SourceMetadata{SchedulerVersion: schedulerVersion},
	}
}
