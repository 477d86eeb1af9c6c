// Package models defines the core data types shared across docgate services.
package models

// ProtectionLevel classifies how a document may be accessed. NONE documents
// open directly from catalog data; WATERMARK and FULL documents require a
// server-mediated, time-limited access grant.
type ProtectionLevel string

const (
	ProtectionNone      ProtectionLevel = "NONE"
	ProtectionWatermark ProtectionLevel = "WATERMARK"
	ProtectionFull      ProtectionLevel = "FULL"
)

// Valid reports whether the protection level is one of the known values.
func (p ProtectionLevel) Valid() bool {
	switch p {
	case ProtectionNone, ProtectionWatermark, ProtectionFull:
		return true
	}
	return false
}

// Protected reports whether access requires a server-mediated grant.
func (p ProtectionLevel) Protected() bool {
	return p == ProtectionWatermark || p == ProtectionFull
}

// Document is an immutable catalog fact describing a lesson-attached document.
// It is owned by the catalog collaborator and read-only to docgate.
type Document struct {
	ID              string          `json:"id"`
	Filename        string          `json:"filename"`
	ProtectionLevel ProtectionLevel `json:"protectionLevel"`

	// URL is the catalog-provided reference, usable directly only when
	// ProtectionLevel is NONE.
	URL string `json:"url,omitempty"`
}

// ProcessingState is the server-side lifecycle state of a document before it
// can be served in protected form.
type ProcessingState string

const (
	ProcessingPending   ProcessingState = "PENDING"
	ProcessingRunning   ProcessingState = "PROCESSING"
	ProcessingCompleted ProcessingState = "COMPLETED"
	ProcessingFailed    ProcessingState = "FAILED"
)

// Terminal reports whether no further status transitions are expected
// (short of an explicit retry, which moves FAILED back to PENDING).
func (s ProcessingState) Terminal() bool {
	return s == ProcessingCompleted || s == ProcessingFailed
}

// ProcessingStatus is the client-side view of a document's server-side
// processing lifecycle, as returned by the status endpoint.
type ProcessingStatus struct {
	DocumentID         string          `json:"documentId"`
	Filename           string          `json:"filename"`
	ProtectionLevel    ProtectionLevel `json:"protectionLevel"`
	Status             ProcessingState `json:"processingStatus"`
	ProcessingError    string          `json:"processingError,omitempty"`
	ProcessingAttempts int             `json:"processingAttempts"`
	CanRetryProcessing bool            `json:"canRetryProcessing"`
}
