// Package access implements the access broker: it requests time-limited
// access grants for protected documents once processing has completed,
// records quota metadata, and writes results into the grant cache.
package access

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
	"github.com/ternarybob/docgate/internal/services/cache"
)

// Service brokers access grants for protected documents.
type Service struct {
	client interfaces.AccessClient
	cache  interfaces.GrantCache
	logger arbor.ILogger
	now    func() time.Time

	mu        sync.RWMutex
	lastQuota map[string]models.RateLimitInfo
}

// NewService creates a new access broker.
func NewService(client interfaces.AccessClient, grants interfaces.GrantCache, logger arbor.ILogger) *Service {
	return &Service{
		client:    client,
		cache:     grants,
		logger:    logger,
		now:       time.Now,
		lastQuota: make(map[string]models.RateLimitInfo),
	}
}

// RequestAccess requests a grant for a protected document and caches it with
// a TTL derived from the protection level. Callers invoke this only after
// observing a COMPLETED processing status; NONE documents never come here.
func (s *Service) RequestAccess(ctx context.Context, lessonID, documentID string, level models.ProtectionLevel) (*models.AccessGrant, error) {
	if !level.Protected() {
		return nil, errors.New("access grants only apply to protected documents")
	}

	grant, err := s.client.RequestAccess(ctx, lessonID, documentID)
	if err != nil {
		var rlErr *api.RateLimitError
		if errors.As(err, &rlErr) {
			// Record the exhausted quota so the UI can show when access
			// becomes available again.
			s.recordQuota(documentID, models.RateLimitInfo{
				Limit:     rlErr.Limit,
				Remaining: rlErr.Remaining,
				ResetAt:   rlErr.ResetAt,
			})
		}
		return nil, err
	}

	if grant.RateLimit != nil {
		s.recordQuota(documentID, *grant.RateLimit)
	}

	ttl := cache.GrantTTL(level, grant, s.now())
	if err := s.cache.Store(ctx, lessonID, documentID, grant, ttl); err != nil {
		// The grant itself is usable; a cache write failure only costs reuse.
		s.logger.Warn().
			Err(err).
			Str("lesson_id", lessonID).
			Str("document_id", documentID).
			Msg("Failed to cache access grant")
	}

	s.logger.Info().
		Str("lesson_id", lessonID).
		Str("document_id", documentID).
		Str("protection_level", string(level)).
		Str("expires_at", grant.ExpiresAt.Format(time.RFC3339)).
		Msg("Access grant obtained")

	return grant, nil
}

// LastRateLimit returns the most recently observed quota metadata for a
// document, for UI display. Returns false when no quota has been seen.
func (s *Service) LastRateLimit(documentID string) (models.RateLimitInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.lastQuota[documentID]
	return info, ok
}

func (s *Service) recordQuota(documentID string, info models.RateLimitInfo) {
	s.mu.Lock()
	s.lastQuota[documentID] = info
	s.mu.Unlock()

	s.logger.Debug().
		Str("document_id", documentID).
		Str("quota", fmt.Sprintf("%d/%d", info.Remaining, info.Limit)).
		Msg("Recorded rate limit quota")
}
