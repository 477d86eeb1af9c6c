package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/docgate/internal/api"
	"github.com/ternarybob/docgate/internal/models"
	"github.com/ternarybob/docgate/internal/services/cache"
)

// MockAccessClient is a mock implementation of AccessClient
type MockAccessClient struct {
	mock.Mock
}

func (m *MockAccessClient) RequestAccess(ctx context.Context, lessonID, documentID string) (*models.AccessGrant, error) {
	args := m.Called(ctx, lessonID, documentID)
	if grant, ok := args.Get(0).(*models.AccessGrant); ok {
		return grant, args.Error(1)
	}
	return nil, args.Error(1)
}

func TestRequestAccessCachesGrant(t *testing.T) {
	client := &MockAccessClient{}
	grants := cache.NewMemoryStore(arbor.NewLogger())
	service := NewService(client, grants, arbor.NewLogger())

	grant := &models.AccessGrant{
		URL:       "https://cdn/d1?sig=abc",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	client.On("RequestAccess", mock.Anything, "l1", "d1").Return(grant, nil).Once()

	got, err := service.RequestAccess(context.Background(), "l1", "d1", models.ProtectionWatermark)
	require.NoError(t, err)
	assert.Equal(t, grant.URL, got.URL)

	cached, ok := grants.Lookup(context.Background(), "l1", "d1")
	require.True(t, ok, "grant must be written to the cache")
	assert.Equal(t, grant.URL, cached.URL)

	client.AssertExpectations(t)
}

func TestRequestAccessRecordsQuota(t *testing.T) {
	client := &MockAccessClient{}
	service := NewService(client, cache.NewMemoryStore(arbor.NewLogger()), arbor.NewLogger())

	resetAt := time.Now().Add(30 * time.Minute)
	grant := &models.AccessGrant{
		URL:       "https://cdn/d3",
		ExpiresAt: time.Now().Add(time.Hour),
		RateLimit: &models.RateLimitInfo{Limit: 5, Remaining: 1, ResetAt: resetAt},
	}
	client.On("RequestAccess", mock.Anything, "l1", "d3").Return(grant, nil)

	_, err := service.RequestAccess(context.Background(), "l1", "d3", models.ProtectionFull)
	require.NoError(t, err)

	info, ok := service.LastRateLimit("d3")
	require.True(t, ok)
	assert.Equal(t, 5, info.Limit)
	assert.Equal(t, 1, info.Remaining)
}

func TestRequestAccessRateLimited(t *testing.T) {
	client := &MockAccessClient{}
	grants := cache.NewMemoryStore(arbor.NewLogger())
	service := NewService(client, grants, arbor.NewLogger())

	resetAt := time.Now().Add(10 * time.Minute)
	client.On("RequestAccess", mock.Anything, "l1", "d4").
		Return(nil, &api.RateLimitError{Limit: 5, Remaining: 0, ResetAt: resetAt})

	_, err := service.RequestAccess(context.Background(), "l1", "d4", models.ProtectionFull)

	var rlErr *api.RateLimitError
	require.ErrorAs(t, err, &rlErr)

	// Exhausted quota is still recorded for UI display.
	info, ok := service.LastRateLimit("d4")
	require.True(t, ok)
	assert.Equal(t, 0, info.Remaining)

	_, ok = grants.Lookup(context.Background(), "l1", "d4")
	assert.False(t, ok, "no grant may be cached on failure")
}

func TestRequestAccessRejectsUnprotected(t *testing.T) {
	client := &MockAccessClient{}
	service := NewService(client, cache.NewMemoryStore(arbor.NewLogger()), arbor.NewLogger())

	_, err := service.RequestAccess(context.Background(), "l1", "d1", models.ProtectionNone)
	assert.Error(t, err)
	client.AssertNotCalled(t, "RequestAccess")
}

func TestFullGrantCacheClampedToExpiry(t *testing.T) {
	client := &MockAccessClient{}
	grants := cache.NewMemoryStore(arbor.NewLogger())
	service := NewService(client, grants, arbor.NewLogger())

	// Grant expires well before the nominal FULL window.
	grant := &models.AccessGrant{
		URL:       "https://cdn/d5",
		ExpiresAt: time.Now().Add(-time.Second),
	}
	client.On("RequestAccess", mock.Anything, "l1", "d5").Return(grant, nil)

	_, err := service.RequestAccess(context.Background(), "l1", "d5", models.ProtectionFull)
	require.NoError(t, err)

	_, ok := grants.Lookup(context.Background(), "l1", "d5")
	assert.False(t, ok, "an already-expired grant must not be served from cache")
}
