package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/docgate/internal/common"
	"github.com/ternarybob/docgate/internal/interfaces"
	"github.com/ternarybob/docgate/internal/models"
)

// grantRecord is the persisted shape of a cache entry.
type grantRecord struct {
	Key        string `badgerhold:"key"`
	LessonID   string `badgerhold:"index"`
	DocumentID string
	Grant      models.AccessGrant
	ExpiresAt  time.Time
}

// BadgerStore is a badger-backed grant cache. Persistence lets WATERMARK
// grants with tens-of-minutes TTLs survive a client restart.
type BadgerStore struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	now    func() time.Time
}

// NewBadgerStore opens a badger-backed grant cache at the configured path.
func NewBadgerStore(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerStore, error) {
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("Deleting existing cache database (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to delete cache database directory")
			}
		}
	}

	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil // Disable default badger logger to use arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache database: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Grant cache database initialized")

	return &BadgerStore{
		store:  store,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Lookup returns the cached grant, treating expired records as absent and
// deleting them.
func (s *BadgerStore) Lookup(ctx context.Context, lessonID, documentID string) (*models.AccessGrant, bool) {
	key := entryKey(lessonID, documentID)

	var record grantRecord
	err := s.store.Get(key, &record)
	if err == badgerhold.ErrNotFound {
		return nil, false
	}
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("lesson_id", lessonID).
			Str("document_id", documentID).
			Msg("Failed to read cached grant")
		return nil, false
	}

	if !s.now().Before(record.ExpiresAt) {
		if err := s.store.Delete(key, &grantRecord{}); err != nil && err != badgerhold.ErrNotFound {
			s.logger.Warn().Err(err).Str("key", key).Msg("Failed to evict expired grant")
		}
		return nil, false
	}

	grant := record.Grant
	return &grant, true
}

// Store writes a grant, clamping the TTL to the grant's own expiry.
func (s *BadgerStore) Store(ctx context.Context, lessonID, documentID string, grant *models.AccessGrant, ttl time.Duration) error {
	now := s.now()
	if !grant.ExpiresAt.IsZero() {
		if remaining := grant.ExpiresAt.Sub(now); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return nil
	}

	key := entryKey(lessonID, documentID)
	record := grantRecord{
		Key:        key,
		LessonID:   lessonID,
		DocumentID: documentID,
		Grant:      *grant,
		ExpiresAt:  now.Add(ttl),
	}

	if err := s.store.Upsert(key, &record); err != nil {
		return fmt.Errorf("failed to store grant: %w", err)
	}

	s.logger.Debug().
		Str("lesson_id", lessonID).
		Str("document_id", documentID).
		Str("ttl", ttl.String()).
		Msg("Stored access grant")
	return nil
}

// Invalidate removes a single entry.
func (s *BadgerStore) Invalidate(ctx context.Context, lessonID, documentID string) error {
	err := s.store.Delete(entryKey(lessonID, documentID), &grantRecord{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to invalidate grant: %w", err)
	}
	return nil
}

// InvalidateLesson removes all entries for a lesson.
func (s *BadgerStore) InvalidateLesson(ctx context.Context, lessonID string) error {
	err := s.store.DeleteMatching(&grantRecord{}, badgerhold.Where("LessonID").Eq(lessonID))
	if err != nil {
		return fmt.Errorf("failed to invalidate lesson grants: %w", err)
	}
	return nil
}

// SweepExpired removes all expired records and returns the count removed.
func (s *BadgerStore) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()

	var expired []grantRecord
	if err := s.store.Find(&expired, badgerhold.Where("ExpiresAt").Le(now)); err != nil {
		return 0, fmt.Errorf("failed to query expired grants: %w", err)
	}

	removed := 0
	for _, record := range expired {
		if err := s.store.Delete(record.Key, &grantRecord{}); err != nil {
			s.logger.Warn().Err(err).Str("key", record.Key).Msg("Failed to delete expired grant during sweep")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info().Int("count", removed).Msg("Swept expired grants")
	}

	return removed, nil
}

// Close closes the database connection.
func (s *BadgerStore) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// Ensure BadgerStore implements the GrantCache interface
var _ interfaces.GrantCache = (*BadgerStore)(nil)
