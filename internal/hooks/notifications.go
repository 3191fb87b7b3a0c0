package hooks

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/fleetgate-sh/scheduler/internal/model"
)

// EventPublisherQueue drains decision events from the reconcile loop and
// fans them out to every registered publisher.
type EventPublisherQueue struct {
	EventChan  <-chan model.DecisionEventPayload
	publishers []EventPublisher
}

func NewEventPublisherQueue(eventChan <-chan model.DecisionEventPayload, publishers []EventPublisher) *EventPublisherQueue {
	return &EventPublisherQueue{
		EventChan:  eventChan,
		publishers: publishers,
	}
}

// Loop runs until the event channel is closed. Publish failures are logged
// and dropped; decision events are an audit stream, not the source of truth.
func (eq *EventPublisherQueue) Loop() {
	ctx := context.Background()
	logger := log.FromContext(ctx)

	logger.Info("Decision event publisher queue started", "publishers", len(eq.publishers))

	for event := range eq.EventChan {
		for _, publisher := range eq.publishers {
			if err := publisher.Publish(ctx, event); err != nil {
				logger.Error(err, "failed to publish decision event",
					"eventID", event.EventID,
					"cluster", event.Cluster,
				)
			}
		}
	}
}
