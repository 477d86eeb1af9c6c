package interfaces

import "context"

// EventType identifies a category of published event.
type EventType string

const (
	// EventDeliveryTransition is published on every document flow transition.
	EventDeliveryTransition EventType = "delivery_transition"

	// EventCacheInvalidated is published when grant cache entries are removed
	// outside normal expiry (explicit invalidation or janitor sweep).
	EventCacheInvalidated EventType = "cache_invalidated"
)

// Event is a published event with an arbitrary payload.
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event) error

// EventService provides pub/sub between the delivery core and the
// presentation layer. Rendering is entirely the subscriber's concern.
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error
	Publish(ctx context.Context, event Event) error
	PublishSync(ctx context.Context, event Event) error
	Close() error
}
