package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/docgate/internal/interfaces"
	"github.com/ternarybob/docgate/internal/models"
	"github.com/ternarybob/docgate/internal/services/access"
	"github.com/ternarybob/docgate/internal/services/cache"
	"github.com/ternarybob/docgate/internal/services/events"
	"github.com/ternarybob/docgate/internal/services/status"
)

// fakeStatusClient replays a scripted status sequence, repeating the final
// step once exhausted, and counts requests.
type fakeStatusClient struct {
	mu     sync.Mutex
	states []models.ProcessingState
	detail models.ProcessingStatus
	calls  int
}

func (c *fakeStatusClient) GetStatus(ctx context.Context, lessonID, documentID string) (*models.ProcessingStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.calls
	if idx >= len(c.states) {
		idx = len(c.states) - 1
	}
	c.calls++

	st := c.detail
	st.DocumentID = documentID
	st.Status = c.states[idx]
	return &st, nil
}

func (c *fakeStatusClient) RetryProcessing(ctx context.Context, lessonID, documentID string) (*models.ProcessingStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &models.ProcessingStatus{DocumentID: documentID, Status: models.ProcessingPending}, nil
}

func (c *fakeStatusClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

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

// harness wires a full orchestrator over fake transports and collects every
// published transition.
type harness struct {
	service      *Service
	statusClient *fakeStatusClient
	accessClient *MockAccessClient
	grants       interfaces.GrantCache
	transitions  chan models.DeliveryEvent
}

func newHarness(t *testing.T, statusClient *fakeStatusClient) *harness {
	t.Helper()

	logger := arbor.NewLogger()
	accessClient := &MockAccessClient{}
	grants := cache.NewMemoryStore(logger)
	eventService := events.NewService(logger)
	t.Cleanup(func() { eventService.Close() })

	statusService := status.NewService(statusClient, logger, status.WithInterval(5*time.Millisecond))
	accessService := access.NewService(accessClient, grants, logger)
	service := NewService(statusService, accessService, grants, eventService, logger)

	transitions := make(chan models.DeliveryEvent, 64)
	err := eventService.Subscribe(interfaces.EventDeliveryTransition, func(ctx context.Context, event interfaces.Event) error {
		if transition, ok := event.Payload.(models.DeliveryEvent); ok {
			transitions <- transition
		}
		return nil
	})
	require.NoError(t, err)

	return &harness{
		service:      service,
		statusClient: statusClient,
		accessClient: accessClient,
		grants:       grants,
		transitions:  transitions,
	}
}

// waitFor reads transitions until one with the wanted state arrives,
// returning it along with everything seen on the way.
func (h *harness) waitFor(t *testing.T, state models.DeliveryState) (models.DeliveryEvent, []models.DeliveryEvent) {
	t.Helper()

	var seen []models.DeliveryEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case transition := <-h.transitions:
			seen = append(seen, transition)
			if transition.State == state {
				return transition, seen
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %s (saw %v)", state, seen)
		}
	}
}

// assertQuiet asserts no terminal transition arrives within the window.
func (h *harness) assertQuiet(t *testing.T, window time.Duration) {
	t.Helper()

	deadline := time.After(window)
	for {
		select {
		case transition := <-h.transitions:
			if transition.State.Terminal() {
				t.Fatalf("unexpected terminal transition after teardown: %+v", transition)
			}
		case <-deadline:
			return
		}
	}
}

func TestOpenUnprotectedOpensDirectly(t *testing.T) {
	// Scenario: protectionLevel=NONE with a catalog url.
	h := newHarness(t, &fakeStatusClient{states: []models.ProcessingState{models.ProcessingCompleted}})

	doc := models.Document{ID: "d1", Filename: "d1.pdf", ProtectionLevel: models.ProtectionNone, URL: "https://x/d1.pdf"}
	require.NoError(t, h.service.Open(context.Background(), "l1", doc))

	opened, seen := h.waitFor(t, models.DeliveryOpened)
	assert.Equal(t, "https://x/d1.pdf", opened.URL)
	assert.True(t, opened.Cached)
	assert.Len(t, seen, 1, "a direct open has exactly one transition")

	assert.Equal(t, 0, h.statusClient.callCount(), "NONE must never hit the status endpoint")
	h.accessClient.AssertNotCalled(t, "RequestAccess")
}

func TestOpenPollsThenRequestsAccess(t *testing.T) {
	// Scenario: WATERMARK document, PENDING -> PROCESSING -> COMPLETED.
	h := newHarness(t, &fakeStatusClient{states: []models.ProcessingState{
		models.ProcessingPending,
		models.ProcessingRunning,
		models.ProcessingCompleted,
	}})

	grant := &models.AccessGrant{URL: "https://cdn/d2?sig=s", ExpiresAt: time.Now().Add(time.Hour)}
	h.accessClient.On("RequestAccess", mock.Anything, "l1", "d2").Return(grant, nil).Once()

	doc := models.Document{ID: "d2", ProtectionLevel: models.ProtectionWatermark}
	require.NoError(t, h.service.Open(context.Background(), "l1", doc))

	opened, seen := h.waitFor(t, models.DeliveryOpened)
	assert.Equal(t, grant.URL, opened.URL)
	assert.False(t, opened.Cached)

	// checking -> polling (PENDING) -> polling (PROCESSING) -> requesting_access -> opened
	states := make([]models.DeliveryState, 0, len(seen))
	for _, transition := range seen {
		states = append(states, transition.State)
	}
	assert.Equal(t, []models.DeliveryState{
		models.DeliveryChecking,
		models.DeliveryPolling,
		models.DeliveryPolling,
		models.DeliveryRequestingAccess,
		models.DeliveryOpened,
	}, states)

	h.accessClient.AssertExpectations(t)

	// A second selection inside the cache window makes no new network calls.
	statusCalls := h.statusClient.callCount()
	require.NoError(t, h.service.Open(context.Background(), "l1", doc))
	reopened, _ := h.waitFor(t, models.DeliveryOpened)
	assert.True(t, reopened.Cached)
	assert.Equal(t, grant.URL, reopened.URL)
	assert.Equal(t, statusCalls, h.statusClient.callCount())
	h.accessClient.AssertNumberOfCalls(t, "RequestAccess", 1)
}

func TestOpenSurfacesQuota(t *testing.T) {
	// Scenario: FULL document whose grant carries rateLimitInfo 1/5.
	h := newHarness(t, &fakeStatusClient{states: []models.ProcessingState{models.ProcessingCompleted}})

	resetAt := time.Now().Add(30 * time.Minute)
	grant := &models.AccessGrant{
		URL:       "https://cdn/d3?sig=s",
		ExpiresAt: time.Now().Add(time.Hour),
		RateLimit: &models.RateLimitInfo{Limit: 5, Remaining: 1, ResetAt: resetAt},
	}
	h.accessClient.On("RequestAccess", mock.Anything, "l1", "d3").Return(grant, nil).Once()

	doc := models.Document{ID: "d3", ProtectionLevel: models.ProtectionFull}
	require.NoError(t, h.service.Open(context.Background(), "l1", doc))

	opened, _ := h.waitFor(t, models.DeliveryOpened)
	require.NotNil(t, opened.RateLimit)
	assert.Equal(t, 5, opened.RateLimit.Limit)
	assert.Equal(t, 1, opened.RateLimit.Remaining)

	// Reuse from cache: remaining must not decrease further.
	require.NoError(t, h.service.Open(context.Background(), "l1", doc))
	reopened, _ := h.waitFor(t, models.DeliveryOpened)
	assert.True(t, reopened.Cached)
	require.NotNil(t, reopened.RateLimit)
	assert.Equal(t, 1, reopened.RateLimit.Remaining)
	h.accessClient.AssertNumberOfCalls(t, "RequestAccess", 1)
}

func TestOpenFailedProcessingNeverRequestsAccess(t *testing.T) {
	// Scenario: FAILED with processingError "corrupt file", no retry.
	h := newHarness(t, &fakeStatusClient{
		states: []models.ProcessingState{models.ProcessingFailed},
		detail: models.ProcessingStatus{ProcessingError: "corrupt file", CanRetryProcessing: false},
	})

	doc := models.Document{ID: "d4", ProtectionLevel: models.ProtectionWatermark}
	require.NoError(t, h.service.Open(context.Background(), "l1", doc))

	errored, _ := h.waitFor(t, models.DeliveryErrored)
	assert.Equal(t, "corrupt file", errored.Error, "processingError text is surfaced verbatim")
	assert.False(t, errored.CanRetry)

	h.accessClient.AssertNotCalled(t, "RequestAccess")
}

func TestOpenRapidReselectionSingleFlight(t *testing.T) {
	h := newHarness(t, &fakeStatusClient{states: []models.ProcessingState{
		models.ProcessingPending,
		models.ProcessingCompleted,
	}})

	grant := &models.AccessGrant{URL: "https://cdn/d5", ExpiresAt: time.Now().Add(time.Hour)}
	h.accessClient.On("RequestAccess", mock.Anything, "l1", "d5").Return(grant, nil).Once()

	doc := models.Document{ID: "d5", ProtectionLevel: models.ProtectionWatermark}
	for i := 0; i < 5; i++ {
		require.NoError(t, h.service.Open(context.Background(), "l1", doc))
	}

	h.waitFor(t, models.DeliveryOpened)
	h.accessClient.AssertNumberOfCalls(t, "RequestAccess", 1)
}

func TestIndependentDocumentFlows(t *testing.T) {
	// One document fails; its sibling still opens.
	h := newHarness(t, &fakeStatusClient{states: []models.ProcessingState{models.ProcessingCompleted}})

	grant := &models.AccessGrant{URL: "https://cdn/ok", ExpiresAt: time.Now().Add(time.Hour)}
	h.accessClient.On("RequestAccess", mock.Anything, "l1", "ok").Return(grant, nil).Once()
	h.accessClient.On("RequestAccess", mock.Anything, "l1", "bad").
		Return(nil, &ProcessingFailedError{Message: "denied"}).Once()

	require.NoError(t, h.service.Open(context.Background(), "l1", models.Document{ID: "bad", ProtectionLevel: models.ProtectionFull}))
	require.NoError(t, h.service.Open(context.Background(), "l1", models.Document{ID: "ok", ProtectionLevel: models.ProtectionFull}))

	var sawOpened, sawErrored bool
	timeout := time.After(2 * time.Second)
	for !sawOpened || !sawErrored {
		select {
		case transition := <-h.transitions:
			switch {
			case transition.State == models.DeliveryOpened && transition.DocumentID == "ok":
				sawOpened = true
			case transition.State == models.DeliveryErrored && transition.DocumentID == "bad":
				sawErrored = true
			}
		case <-timeout:
			t.Fatalf("flows did not complete independently (opened=%v errored=%v)", sawOpened, sawErrored)
		}
	}
}

func TestCancelViewDropsLateResults(t *testing.T) {
	h := newHarness(t, &fakeStatusClient{states: []models.ProcessingState{models.ProcessingPending}})

	doc := models.Document{ID: "d6", ProtectionLevel: models.ProtectionWatermark}
	require.NoError(t, h.service.Open(context.Background(), "l1", doc))

	h.waitFor(t, models.DeliveryPolling)
	h.service.CancelView("l1")

	h.assertQuiet(t, 50*time.Millisecond)
	h.accessClient.AssertNotCalled(t, "RequestAccess")
}

func TestRetryProcessingReentersFlow(t *testing.T) {
	h := newHarness(t, &fakeStatusClient{states: []models.ProcessingState{models.ProcessingCompleted}})

	grant := &models.AccessGrant{URL: "https://cdn/d7", ExpiresAt: time.Now().Add(time.Hour)}
	h.accessClient.On("RequestAccess", mock.Anything, "l1", "d7").Return(grant, nil).Once()

	doc := models.Document{ID: "d7", ProtectionLevel: models.ProtectionWatermark}
	require.NoError(t, h.service.RetryProcessing(context.Background(), "l1", doc))

	opened, _ := h.waitFor(t, models.DeliveryOpened)
	assert.Equal(t, grant.URL, opened.URL)
}

func TestOpenRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, &fakeStatusClient{states: []models.ProcessingState{models.ProcessingCompleted}})

	err := h.service.Open(context.Background(), "l1", models.Document{ProtectionLevel: models.ProtectionNone})
	assert.Error(t, err, "missing document id")

	err = h.service.Open(context.Background(), "l1", models.Document{ID: "d1", ProtectionLevel: "SECRET"})
	assert.Error(t, err, "unknown protection level")
}
