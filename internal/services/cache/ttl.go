// Package cache provides the grant cache layer: keyed storage mapping
// (lesson, document) to a previously obtained access grant with per-entry
// expiry. TTLs are derived from the document's protection level.
package cache

import (
	"time"

	"github.com/ternarybob/docgate/internal/models"
)

const (
	// WatermarkTTL is the cache window for watermark-protected grants.
	WatermarkTTL = 30 * time.Minute

	// FullTTL is the nominal cache window for fully protected grants. The
	// effective TTL is clamped to the grant's own expiry.
	FullTTL = 50 * time.Minute
)

// GrantTTL returns the effective cache TTL for a grant at the given
// protection level. NONE documents are never cached (zero TTL). For FULL
// protection the TTL never exceeds grant.ExpiresAt - now, so a cache entry
// cannot outlive the grant it wraps.
func GrantTTL(level models.ProtectionLevel, grant *models.AccessGrant, now time.Time) time.Duration {
	switch level {
	case models.ProtectionWatermark:
		return WatermarkTTL
	case models.ProtectionFull:
		ttl := FullTTL
		if grant != nil && !grant.ExpiresAt.IsZero() {
			if remaining := grant.ExpiresAt.Sub(now); remaining < ttl {
				ttl = remaining
			}
		}
		if ttl < 0 {
			ttl = 0
		}
		return ttl
	}
	return 0
}

// entryKey builds the composite cache key for a (lesson, document) pair.
func entryKey(lessonID, documentID string) string {
	return lessonID + "/" + documentID
}
