// Package status polls a document's server-side processing lifecycle until
// it reaches a terminal state. Polling is exposed as a cancellable
// subscription rather than ad hoc timers, so teardown releases the loop on
// every exit path.
package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/docgate/internal/api"
	"github.com/ternarybob/docgate/internal/interfaces"
	"github.com/ternarybob/docgate/internal/models"
)

const (
	// DefaultInterval is the fixed interval between status polls.
	DefaultInterval = 10 * time.Second

	// DefaultMaxTransientRetry is how many transient failures are tolerated
	// before the subscription gives up. Retries happen on the polling
	// interval; there is no backoff escalation.
	DefaultMaxTransientRetry = 3
)

// Result cache windows for COMPLETED, aligned to downstream grant lifetime.
// FAILED is never cached so a subsequent watch always re-checks the server.
const (
	completedTTLNone      = time.Minute
	completedTTLWatermark = 30 * time.Minute
	completedTTLFull      = 50 * time.Minute
)

// ErrAlreadyWatching is returned when a watch is requested for a document
// that already has a live subscription.
var ErrAlreadyWatching = errors.New("status watch already active for document")

// cachedResult holds a terminal COMPLETED status with its expiry.
type cachedResult struct {
	status    models.ProcessingStatus
	expiresAt time.Time
}

// Service watches processing status via repeated polling with a fixed
// interval and a per-document single-watcher guarantee.
type Service struct {
	client   interfaces.StatusClient
	logger   arbor.ILogger
	interval time.Duration
	maxRetry int
	now      func() time.Time

	mu       sync.Mutex
	watching map[string]struct{}
	results  map[string]cachedResult
}

// Option configures the Service.
type Option func(*Service)

// WithInterval sets the polling interval.
func WithInterval(interval time.Duration) Option {
	return func(s *Service) {
		s.interval = interval
	}
}

// WithMaxTransientRetry sets the transient failure budget.
func WithMaxTransientRetry(max int) Option {
	return func(s *Service) {
		s.maxRetry = max
	}
}

// NewService creates a new status polling service.
func NewService(client interfaces.StatusClient, logger arbor.ILogger, opts ...Option) *Service {
	s := &Service{
		client:   client,
		logger:   logger,
		interval: DefaultInterval,
		maxRetry: DefaultMaxTransientRetry,
		now:      time.Now,
		watching: make(map[string]struct{}),
		results:  make(map[string]cachedResult),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Subscription is a handle on a running status watch. Updates are delivered
// on Updates(); once that channel closes, Err reports why the watch stopped
// (nil after a clean terminal status). Cancel releases the watch early.
type Subscription struct {
	updates chan models.ProcessingStatus
	cancel  context.CancelFunc

	mu  sync.Mutex
	err error
}

// Updates returns the status stream. It closes when the watch stops.
func (s *Subscription) Updates() <-chan models.ProcessingStatus {
	return s.updates
}

// Err returns the terminal error, valid after Updates has closed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel stops the watch. Safe to call multiple times and after the watch
// has already stopped.
func (s *Subscription) Cancel() {
	s.cancel()
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Watch starts polling the document's processing status. The first request
// is issued immediately; while status is PENDING or PROCESSING the request
// is re-issued on the fixed interval; the watch stops itself on COMPLETED or
// FAILED. A fresh cached COMPLETED result is delivered without any network
// request. At most one live watch exists per document.
func (s *Service) Watch(ctx context.Context, lessonID, documentID string, level models.ProtectionLevel) (*Subscription, error) {
	if documentID == "" {
		return nil, errors.New("document id is required")
	}

	key := lessonID + "/" + documentID

	s.mu.Lock()
	if cached, ok := s.results[key]; ok && s.now().Before(cached.expiresAt) {
		s.mu.Unlock()
		return cachedSubscription(cached.status), nil
	}
	if _, ok := s.watching[key]; ok {
		s.mu.Unlock()
		return nil, ErrAlreadyWatching
	}
	s.watching[key] = struct{}{}
	s.mu.Unlock()

	watchCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		updates: make(chan models.ProcessingStatus),
		cancel:  cancel,
	}

	go s.run(watchCtx, sub, key, lessonID, documentID, level)

	return sub, nil
}

// cachedSubscription wraps an already-known terminal status as a finished
// subscription.
func cachedSubscription(status models.ProcessingStatus) *Subscription {
	sub := &Subscription{
		updates: make(chan models.ProcessingStatus, 1),
		cancel:  func() {},
	}
	sub.updates <- status
	close(sub.updates)
	return sub
}

// run is the polling loop. Exactly one status request is outstanding at a
// time; the loop is strictly sequential.
func (s *Service) run(ctx context.Context, sub *Subscription, key, lessonID, documentID string, level models.ProtectionLevel) {
	defer func() {
		close(sub.updates)
		s.mu.Lock()
		delete(s.watching, key)
		s.mu.Unlock()
	}()

	attempts := 0
	for {
		status, err := s.client.GetStatus(ctx, lessonID, documentID)
		if err != nil {
			if ctx.Err() != nil {
				sub.fail(ctx.Err())
				return
			}
			if api.Terminal(err) {
				s.logger.Warn().
					Err(err).
					Str("lesson_id", lessonID).
					Str("document_id", documentID).
					Msg("Status poll failed terminally")
				sub.fail(err)
				return
			}

			attempts++
			if attempts >= s.maxRetry {
				sub.fail(fmt.Errorf("status poll failed after %d attempts: %w", attempts, err))
				return
			}
			s.logger.Warn().
				Err(err).
				Int("attempt", attempts).
				Str("document_id", documentID).
				Msg("Transient status poll failure, retrying on interval")
			if !s.sleep(ctx, sub) {
				return
			}
			continue
		}
		attempts = 0

		select {
		case sub.updates <- *status:
		case <-ctx.Done():
			sub.fail(ctx.Err())
			return
		}

		switch status.Status {
		case models.ProcessingCompleted:
			s.cacheResult(key, *status, level)
			return
		case models.ProcessingFailed:
			return
		}

		if !s.sleep(ctx, sub) {
			return
		}
	}
}

// sleep waits one polling interval, reporting false when the watch was
// cancelled while waiting.
func (s *Service) sleep(ctx context.Context, sub *Subscription) bool {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		sub.fail(ctx.Err())
		return false
	}
}

// cacheResult stores a COMPLETED status for the level-derived window.
func (s *Service) cacheResult(key string, status models.ProcessingStatus, level models.ProtectionLevel) {
	ttl := completedTTL(level)
	if ttl <= 0 {
		return
	}

	s.mu.Lock()
	s.results[key] = cachedResult{
		status:    status,
		expiresAt: s.now().Add(ttl),
	}
	s.mu.Unlock()
}

// Invalidate drops any cached result for the document.
func (s *Service) Invalidate(lessonID, documentID string) {
	s.mu.Lock()
	delete(s.results, lessonID+"/"+documentID)
	s.mu.Unlock()
}

// Retry issues the explicit processing retry signal, moving a FAILED
// document back to PENDING server-side, and drops the cached result so the
// next watch re-checks server state.
func (s *Service) Retry(ctx context.Context, lessonID, documentID string) (*models.ProcessingStatus, error) {
	status, err := s.client.RetryProcessing(ctx, lessonID, documentID)
	if err != nil {
		return nil, err
	}

	s.Invalidate(lessonID, documentID)

	s.logger.Info().
		Str("lesson_id", lessonID).
		Str("document_id", documentID).
		Str("status", string(status.Status)).
		Msg("Processing retry issued")

	return status, nil
}

// completedTTL maps a protection level to its COMPLETED cache window.
func completedTTL(level models.ProtectionLevel) time.Duration {
	switch level {
	case models.ProtectionWatermark:
		return completedTTLWatermark
	case models.ProtectionFull:
		return completedTTLFull
	default:
		return completedTTLNone
	}
}
