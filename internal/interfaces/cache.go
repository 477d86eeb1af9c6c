// Package interfaces provides service interfaces for dependency injection.
package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/docgate/internal/models"
)

// GrantCache stores access grants keyed by (lessonID, documentID) with
// per-entry expiry. An expired entry is treated as absent and evicted on
// lookup. Backing stores are swappable: in-memory for a single session,
// badger for persistence across restarts.
type GrantCache interface {
	// Lookup returns the cached grant for the document, or false if no
	// entry exists or the entry has expired.
	Lookup(ctx context.Context, lessonID, documentID string) (*models.AccessGrant, bool)

	// Store writes a grant with the given TTL, replacing any existing entry.
	// The effective TTL for a grant with an ExpiresAt is clamped so the
	// entry can never outlive the grant it wraps.
	Store(ctx context.Context, lessonID, documentID string, grant *models.AccessGrant, ttl time.Duration) error

	// Invalidate removes the entry for a single document, if present.
	Invalidate(ctx context.Context, lessonID, documentID string) error

	// InvalidateLesson removes all entries for a lesson (view teardown).
	InvalidateLesson(ctx context.Context, lessonID string) error

	// SweepExpired removes all expired entries and returns the count removed.
	SweepExpired(ctx context.Context) (int, error)

	// Close releases the backing store.
	Close() error
}
