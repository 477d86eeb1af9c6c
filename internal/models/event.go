package models

// DeliveryState identifies a transition in a document delivery flow as seen
// by the presentation layer.
type DeliveryState string

const (
	DeliveryChecking         DeliveryState = "checking"
	DeliveryPolling          DeliveryState = "polling"
	DeliveryRequestingAccess DeliveryState = "requesting_access"
	DeliveryOpened           DeliveryState = "opened"
	DeliveryErrored          DeliveryState = "errored"
)

// Terminal reports whether the flow has finished.
func (s DeliveryState) Terminal() bool {
	return s == DeliveryOpened || s == DeliveryErrored
}

// DeliveryEvent is the payload published on every flow transition. The
// presentation layer renders it; docgate never renders anything itself.
type DeliveryEvent struct {
	LessonID   string        `json:"lessonId"`
	DocumentID string        `json:"documentId"`
	State      DeliveryState `json:"state"`

	// URL is set when State is opened.
	URL string `json:"url,omitempty"`

	// Status carries the latest processing status while polling.
	Status *ProcessingStatus `json:"status,omitempty"`

	// Error is the human-readable failure message when State is errored.
	Error string `json:"error,omitempty"`

	// CanRetry is set alongside Error when the server allows an explicit
	// processing retry.
	CanRetry bool `json:"canRetry,omitempty"`

	// RateLimit carries quota metadata for the quota bar when present.
	RateLimit *RateLimitInfo `json:"rateLimitInfo,omitempty"`

	// Cached indicates the opened URL came from the grant cache or the
	// catalog directly, with no network round-trip.
	Cached bool `json:"cached,omitempty"`
}
