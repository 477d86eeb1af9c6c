package interfaces

import (
	"context"

	"github.com/ternarybob/docgate/internal/models"
)

// TokenProvider supplies the current bearer token. Token issuance and refresh
// belong to the authentication collaborator; docgate only reads the token.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StatusClient reads a document's server-side processing lifecycle.
type StatusClient interface {
	// GetStatus fetches the current processing status for a document.
	GetStatus(ctx context.Context, lessonID, documentID string) (*models.ProcessingStatus, error)

	// RetryProcessing signals the server to move a FAILED document back to
	// PENDING. Only valid when the last observed status had
	// CanRetryProcessing set.
	RetryProcessing(ctx context.Context, lessonID, documentID string) (*models.ProcessingStatus, error)
}

// AccessClient obtains time-limited access grants for protected documents.
type AccessClient interface {
	// RequestAccess requests an access grant. The server only honors this
	// once processing has completed.
	RequestAccess(ctx context.Context, lessonID, documentID string) (*models.AccessGrant, error)
}
