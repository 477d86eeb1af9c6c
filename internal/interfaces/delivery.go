package interfaces

import (
	"context"

	"github.com/ternarybob/docgate/internal/models"
)

// DeliveryService is the single entry point invoked when a document is
// selected. It decides the minimal path to an openable reference and drives
// the asynchronous flow, publishing transitions to the event service.
type DeliveryService interface {
	// Open starts (or joins) the delivery flow for a document. It returns
	// immediately; progress and the final outcome are published as
	// EventDeliveryTransition events.
	Open(ctx context.Context, lessonID string, doc models.Document) error

	// RetryProcessing issues an explicit processing retry for a FAILED
	// document and re-enters the delivery flow.
	RetryProcessing(ctx context.Context, lessonID string, doc models.Document) error

	// CancelView tears down all live flows for a lesson so late responses
	// cannot mutate state for an unmounted consumer.
	CancelView(lessonID string)

	// InvalidateLesson drops all cached grants for a lesson and publishes an
	// EventCacheInvalidated event.
	InvalidateLesson(ctx context.Context, lessonID string) error
}
