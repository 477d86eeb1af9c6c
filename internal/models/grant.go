package models

import "time"

// RateLimitInfo is quota metadata returned with an access grant for
// FULL-protection documents. It is surfaced to the presentation layer
// so the user can see remaining quota.
type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// AccessGrant is a time-limited reference permitting retrieval of a processed
// document. Grants are ephemeral: they live only inside the grant cache and
// are replaced, never mutated.
type AccessGrant struct {
	URL       string         `json:"url"`
	ExpiresAt time.Time      `json:"expiresAt"`
	RateLimit *RateLimitInfo `json:"rateLimitInfo,omitempty"`
}

// Expired reports whether the grant is unusable at the given time.
func (g *AccessGrant) Expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && !now.Before(g.ExpiresAt)
}
