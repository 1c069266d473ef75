package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"

	"github.com/swasthyasetu/platform/internal/kurrentdb"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

// Event represents a domain event
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Source        string    `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`

	// Actor information
	ActorID   types.ID `json:"actor_id,omitempty"`
	ActorRole string   `json:"actor_role,omitempty"`

	Data any `json:"data"`
}

// NewEvent creates a new event with auto-generated ID and timestamp
func NewEvent(eventType, source string, data any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// WithActor sets the actor information on the event
func (e Event) WithActor(actorID types.ID, role string) Event {
	e.ActorID = actorID
	e.ActorRole = role
	return e
}

// WithCorrelation sets the correlation ID for request tracing
func (e Event) WithCorrelation(correlationID string) Event {
	e.CorrelationID = correlationID
	return e
}

// Bus publishes events to KurrentDB, one stream per event type
type Bus struct {
	client *kurrentdb.Client
	prefix string
}

// NewBus creates a new event bus on an existing KurrentDB client
func NewBus(client *kurrentdb.Client, prefix string) *Bus {
	if prefix == "" {
		prefix = "swasthya"
	}
	return &Bus{client: client, prefix: prefix}
}

// StreamName returns the stream an event type is appended to, e.g.
// consent.updated -> swasthya-consent-updated
func (b *Bus) StreamName(eventType string) string {
	return fmt.Sprintf("%s-%s", b.prefix, strings.ReplaceAll(eventType, ".", "-"))
}

// Publish publishes an event to the bus
func (b *Bus) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	eventID, err := uuid.Parse(event.ID)
	if err != nil {
		eventID = uuid.New()
	}

	// $correlationId lets KurrentDB's $by_correlation_id projection group
	// every event raised by one request
	metadata, err := json.Marshal(map[string]string{
		"$correlationId": event.CorrelationID,
		"source":         event.Source,
		"actor_role":     event.ActorRole,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}

	esdbEvent := esdb.EventData{
		EventType:   event.Type,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		Metadata:    metadata,
		EventID:     eventID,
	}

	_, err = b.client.DB().AppendToStream(ctx, b.StreamName(event.Type), esdb.AppendToStreamOptions{
		ExpectedRevision: esdb.Any{},
	}, esdbEvent)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Health checks the event bus connection
func (b *Bus) Health(ctx context.Context) error {
	return b.client.HealthCheck(ctx)
}
