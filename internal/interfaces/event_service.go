package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventRunState carries a models.RunSnapshot without records on every state change
	EventRunState EventType = "run_state"
	// EventRunProgress carries models.Progress after each finished item
	EventRunProgress EventType = "run_progress"
	// EventRecordUpdated carries a RecordEvent when a record is appended or refreshed
	EventRecordUpdated EventType = "record_updated"
	// EventRecordRemoved carries a RecordEvent with only the id set
	EventRecordRemoved EventType = "record_removed"
	// EventRunLog carries a models.RunLogEntry for the ribbon activity panel
	EventRunLog EventType = "run_log"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// SubscriptionID identifies one registered handler
type SubscriptionID uint64

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) (SubscriptionID, error)

	// Unsubscribe removes the handler registered under id
	Unsubscribe(eventType EventType, id SubscriptionID) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
