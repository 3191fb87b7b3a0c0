package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub/v2"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/fleetgate-sh/scheduler/internal/model"
)

// Publisher sends upgrade decision events to Google Cloud Pub/Sub.
type Publisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topicPath string
}

// ParseTopicPath parses a full Pub/Sub topic path and returns projectID and
// topicID. Expected format: projects/<project>/topics/<topic>
func ParseTopicPath(topicPath string) (projectID, topicID string, err error) {
	parts := strings.Split(topicPath, "/")
	if len(parts) != 4 || parts[0] != "projects" || parts[2] != "topics" {
		return "", "", fmt.Errorf("invalid topic path %q: expected format projects/<project>/topics/<topic>", topicPath)
	}
	return parts[1], parts[3], nil
}

// NewPublisher creates a Google Cloud Pub/Sub publisher.
//
// Authentication is handled via Application Default Credentials (ADC):
//   - Workload Identity: auto-detected from the metadata server
//   - Service account JSON key: set GOOGLE_APPLICATION_CREDENTIALS
//   - Default credentials: gcloud auth application-default login
func NewPublisher(ctx context.Context, topicPath string) (*Publisher, error) {
	projectID, topicID, err := ParseTopicPath(topicPath)
	if err != nil {
		return nil, err
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	// Ordering per cluster keeps a delete and the create that follows it
	// in the order they were applied.
	publisher := client.Publisher(topicID)
	publisher.EnableMessageOrdering = true

	return &Publisher{
		client:    client,
		publisher: publisher,
		topicPath: topicPath,
	}, nil
}

// Publish sends one decision event to Pub/Sub.
func (p *Publisher) Publish(ctx context.Context, event model.DecisionEventPayload) error {
	logger := log.FromContext(ctx)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal decision event: %w", err)
	}

	orderingKey := fmt.Sprintf("%s/%s", event.Organization, event.Cluster)

	attributes := map[string]string{
		"environment":  event.Environment,
		"organization": event.Organization,
		"cluster":      event.Cluster,
		"action":       string(event.Action),
		"kind":         string(event.Kind),
	}

	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attributes,
		OrderingKey: orderingKey,
	})

	msgID, err := result.Get(ctx)
	if err != nil {
		logger.Error(err, "Failed to publish decision event to Pub/Sub",
			"topic", p.topicPath,
			"eventID", event.EventID,
		)
		return fmt.Errorf("failed to publish decision event to pubsub: %w", err)
	}

	logger.Info("Decision event published to Google Pub/Sub",
		"topic", p.topicPath,
		"eventID", event.EventID,
		"messageID", msgID,
		"cluster", event.Cluster,
		"action", event.Action,
		"version", event.Version,
	)

	return nil
}

// Stop stops the publisher and closes the client.
func (p *Publisher) Stop() {
	if p.publisher != nil {
		p.publisher.Stop()
	}
	if p.client != nil {
		_ = p.client.Close()
	}
}
