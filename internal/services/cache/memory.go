package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/docgate/internal/interfaces"
	"github.com/ternarybob/docgate/internal/models"
)

// memoryEntry wraps a cached grant with its expiry.
type memoryEntry struct {
	lessonID  string
	grant     models.AccessGrant
	expiresAt time.Time
}

// MemoryStore is an in-memory grant cache. Entries are evicted lazily on
// lookup and eagerly via SweepExpired.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	logger  arbor.ILogger
	now     func() time.Time
}

// NewMemoryStore creates an in-memory grant cache.
func NewMemoryStore(logger arbor.ILogger) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		logger:  logger,
		now:     time.Now,
	}
}

// Lookup returns the cached grant, treating expired entries as absent and
// evicting them.
func (s *MemoryStore) Lookup(ctx context.Context, lessonID, documentID string) (*models.AccessGrant, bool) {
	key := entryKey(lessonID, documentID)

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if !s.now().Before(entry.expiresAt) {
		s.mu.Lock()
		// Re-check under write lock; another flow may have replaced the entry.
		if current, ok := s.entries[key]; ok && current.expiresAt.Equal(entry.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()

		s.logger.Debug().
			Str("lesson_id", lessonID).
			Str("document_id", documentID).
			Msg("Evicted expired grant on lookup")
		return nil, false
	}

	grant := entry.grant
	return &grant, true
}

// Store writes a grant, clamping the TTL to the grant's own expiry.
func (s *MemoryStore) Store(ctx context.Context, lessonID, documentID string, grant *models.AccessGrant, ttl time.Duration) error {
	now := s.now()
	if !grant.ExpiresAt.IsZero() {
		if remaining := grant.ExpiresAt.Sub(now); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		// Nothing worth caching; an already-expired grant must not be served.
		return nil
	}

	s.mu.Lock()
	s.entries[entryKey(lessonID, documentID)] = memoryEntry{
		lessonID:  lessonID,
		grant:     *grant,
		expiresAt: now.Add(ttl),
	}
	s.mu.Unlock()

	s.logger.Debug().
		Str("lesson_id", lessonID).
		Str("document_id", documentID).
		Str("ttl", ttl.String()).
		Msg("Stored access grant")
	return nil
}

// Invalidate removes a single entry.
func (s *MemoryStore) Invalidate(ctx context.Context, lessonID, documentID string) error {
	s.mu.Lock()
	delete(s.entries, entryKey(lessonID, documentID))
	s.mu.Unlock()
	return nil
}

// InvalidateLesson removes all entries for a lesson.
func (s *MemoryStore) InvalidateLesson(ctx context.Context, lessonID string) error {
	s.mu.Lock()
	for key, entry := range s.entries {
		if entry.lessonID == lessonID {
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()
	return nil
}

// SweepExpired removes all expired entries and returns the count removed.
func (s *MemoryStore) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	removed := 0
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	s.mu.Unlock()

	return removed, nil
}

// Close releases the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.entries = make(map[string]memoryEntry)
	s.mu.Unlock()
	return nil
}

// Ensure MemoryStore implements the GrantCache interface
var _ interfaces.GrantCache = (*MemoryStore)(nil)
