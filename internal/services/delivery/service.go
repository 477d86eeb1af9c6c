// Package delivery implements the orchestrator: the single entry point
// invoked when a document is selected. It inspects protection level, cache
// state, and processing state to decide the minimal path to an openable
// reference, coordinating the status poller and access broker.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/docgate/internal/api"
	"github.com/ternarybob/docgate/internal/interfaces"
	"github.com/ternarybob/docgate/internal/models"
	"github.com/ternarybob/docgate/internal/services/access"
	"github.com/ternarybob/docgate/internal/services/status"
)

// flow tracks one document's live delivery flow. At most one flow exists per
// document; distinct documents run independently.
type flow struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Service orchestrates document delivery flows.
type Service struct {
	status *status.Service
	access *access.Service
	grants interfaces.GrantCache
	events interfaces.EventService
	logger arbor.ILogger

	mu    sync.Mutex
	flows map[string]*flow
}

// NewService creates a new delivery orchestrator.
func NewService(statusSvc *status.Service, accessSvc *access.Service, grants interfaces.GrantCache, events interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		status: statusSvc,
		access: accessSvc,
		grants: grants,
		events: events,
		logger: logger,
		flows:  make(map[string]*flow),
	}
}

// Open starts (or joins) the delivery flow for a document, in priority order:
// unprotected documents open directly from catalog data, a fresh cache entry
// opens without network calls, and only then is the processing status
// checked and an access grant requested. Progress is published as
// EventDeliveryTransition events; Open itself returns immediately.
func (s *Service) Open(ctx context.Context, lessonID string, doc models.Document) error {
	if doc.ID == "" {
		return errors.New("document id is required")
	}
	if !doc.ProtectionLevel.Valid() {
		return fmt.Errorf("unknown protection level %q for document %s", doc.ProtectionLevel, doc.ID)
	}

	// Unprotected: the catalog reference is directly usable. No status or
	// access requests, ever.
	if doc.ProtectionLevel == models.ProtectionNone {
		s.publish(ctx, models.DeliveryEvent{
			LessonID:   lessonID,
			DocumentID: doc.ID,
			State:      models.DeliveryOpened,
			URL:        doc.URL,
			Cached:     true,
		})
		return nil
	}

	// Cache hit: reuse the grant, no network calls.
	if grant, ok := s.grants.Lookup(ctx, lessonID, doc.ID); ok {
		rateLimit := grant.RateLimit
		if rateLimit == nil {
			if info, ok := s.access.LastRateLimit(doc.ID); ok {
				rateLimit = &info
			}
		}
		s.publish(ctx, models.DeliveryEvent{
			LessonID:   lessonID,
			DocumentID: doc.ID,
			State:      models.DeliveryOpened,
			URL:        grant.URL,
			RateLimit:  rateLimit,
			Cached:     true,
		})
		return nil
	}

	key := lessonID + "/" + doc.ID

	s.mu.Lock()
	if _, ok := s.flows[key]; ok {
		s.mu.Unlock()
		s.logger.Debug().
			Str("lesson_id", lessonID).
			Str("document_id", doc.ID).
			Msg("Delivery flow already in progress, joining")
		return nil
	}
	flowCtx, cancel := context.WithCancel(ctx)
	f := &flow{cancel: cancel, done: make(chan struct{})}
	s.flows[key] = f
	s.mu.Unlock()

	go s.run(flowCtx, f, key, lessonID, doc)

	return nil
}

// run drives one document's flow from Checking to a terminal state.
func (s *Service) run(ctx context.Context, f *flow, key, lessonID string, doc models.Document) {
	defer func() {
		f.cancel()
		close(f.done)
		s.mu.Lock()
		delete(s.flows, key)
		s.mu.Unlock()
	}()

	s.publish(ctx, models.DeliveryEvent{
		LessonID:   lessonID,
		DocumentID: doc.ID,
		State:      models.DeliveryChecking,
	})

	sub, err := s.status.Watch(ctx, lessonID, doc.ID, doc.ProtectionLevel)
	if err != nil {
		s.fail(ctx, lessonID, doc.ID, err)
		return
	}
	defer sub.Cancel()

	for st := range sub.Updates() {
		switch st.Status {
		case models.ProcessingFailed:
			// Access is never requested for a failed document.
			s.fail(ctx, lessonID, doc.ID, &ProcessingFailedError{
				Message:  st.ProcessingError,
				CanRetry: st.CanRetryProcessing,
			})
			return

		case models.ProcessingCompleted:
			s.requestAccess(ctx, lessonID, doc)
			return

		default:
			update := st
			s.publish(ctx, models.DeliveryEvent{
				LessonID:   lessonID,
				DocumentID: doc.ID,
				State:      models.DeliveryPolling,
				Status:     &update,
			})
		}
	}

	if err := sub.Err(); err != nil {
		if ctx.Err() != nil {
			// View torn down; a late result must not reach the consumer.
			return
		}
		s.fail(ctx, lessonID, doc.ID, err)
	}
}

// requestAccess is the RequestingAccess state: the broker is called exactly
// once per flow, only after COMPLETED was observed.
func (s *Service) requestAccess(ctx context.Context, lessonID string, doc models.Document) {
	s.publish(ctx, models.DeliveryEvent{
		LessonID:   lessonID,
		DocumentID: doc.ID,
		State:      models.DeliveryRequestingAccess,
	})

	grant, err := s.access.RequestAccess(ctx, lessonID, doc.ID, doc.ProtectionLevel)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.fail(ctx, lessonID, doc.ID, err)
		return
	}

	s.publish(ctx, models.DeliveryEvent{
		LessonID:   lessonID,
		DocumentID: doc.ID,
		State:      models.DeliveryOpened,
		URL:        grant.URL,
		RateLimit:  grant.RateLimit,
	})
}

// fail publishes the single Errored transition for a flow. A failure in one
// flow never touches sibling documents.
func (s *Service) fail(ctx context.Context, lessonID, documentID string, err error) {
	event := models.DeliveryEvent{
		LessonID:   lessonID,
		DocumentID: documentID,
		State:      models.DeliveryErrored,
		Error:      err.Error(),
	}

	var procErr *ProcessingFailedError
	if errors.As(err, &procErr) {
		event.CanRetry = procErr.CanRetry
	}

	var rlErr *api.RateLimitError
	if errors.As(err, &rlErr) {
		event.RateLimit = &models.RateLimitInfo{
			Limit:     rlErr.Limit,
			Remaining: rlErr.Remaining,
			ResetAt:   rlErr.ResetAt,
		}
	}

	s.logger.Warn().
		Err(err).
		Str("lesson_id", lessonID).
		Str("document_id", documentID).
		Msg("Delivery flow errored")

	s.publish(ctx, event)
}

func (s *Service) publish(ctx context.Context, event models.DeliveryEvent) {
	err := s.events.PublishSync(ctx, interfaces.Event{
		Type:    interfaces.EventDeliveryTransition,
		Payload: event,
	})
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("document_id", event.DocumentID).
			Str("state", string(event.State)).
			Msg("Failed to publish delivery transition")
	}
}

// RetryProcessing issues an explicit processing retry for a FAILED document
// and re-enters the delivery flow.
func (s *Service) RetryProcessing(ctx context.Context, lessonID string, doc models.Document) error {
	st, err := s.status.Retry(ctx, lessonID, doc.ID)
	if err != nil {
		s.fail(ctx, lessonID, doc.ID, err)
		return err
	}

	s.logger.Info().
		Str("lesson_id", lessonID).
		Str("document_id", doc.ID).
		Str("status", string(st.Status)).
		Msg("Processing retry accepted, re-entering delivery flow")

	return s.Open(ctx, lessonID, doc)
}

// CancelView tears down all live flows for a lesson so that late-arriving
// responses cannot mutate state for an unmounted consumer. Cached grants are
// left intact; they expire on their own TTLs.
func (s *Service) CancelView(lessonID string) {
	prefix := lessonID + "/"

	s.mu.Lock()
	var cancelled []*flow
	for key, f := range s.flows {
		if strings.HasPrefix(key, prefix) {
			f.cancel()
			cancelled = append(cancelled, f)
		}
	}
	s.mu.Unlock()

	for _, f := range cancelled {
		<-f.done
	}

	if len(cancelled) > 0 {
		s.logger.Debug().
			Str("lesson_id", lessonID).
			Int("flows", len(cancelled)).
			Msg("Cancelled delivery flows for lesson view")
	}
}

// InvalidateLesson explicitly drops all cached grants for a lesson and
// publishes a cache invalidation event.
func (s *Service) InvalidateLesson(ctx context.Context, lessonID string) error {
	if err := s.grants.InvalidateLesson(ctx, lessonID); err != nil {
		return err
	}

	return s.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventCacheInvalidated,
		Payload: map[string]interface{}{"lessonId": lessonID},
	})
}

// Ensure Service implements the DeliveryService interface
var _ interfaces.DeliveryService = (*Service)(nil)
