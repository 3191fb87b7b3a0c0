package hooks

import (
	"context"

	"github.com/fleetgate-sh/scheduler/internal/model"
)

// EventPublisher delivers upgrade decision events to an external consumer.
type EventPublisher interface {
	Publish(ctx context.Context, event model.DecisionEventPayload) error
}
