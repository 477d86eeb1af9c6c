package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/docgate/internal/interfaces"
	"github.com/ternarybob/docgate/internal/models"
)

const (
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default client-side rate limit (requests per second).
	DefaultRateLimit = 10

	// maxTransientAttempts bounds how many times a request is issued when the
	// transport itself fails (connection reset, DNS blip). HTTP-level errors
	// are never retried here; the retry budget is for network failures only.
	maxTransientAttempts = 3
)

// Client is a delivery API client. It attaches the current bearer token to
// every request and maps HTTP failures to typed errors.
type Client struct {
	baseURL    string
	tokens     interfaces.TokenProvider
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom client-side rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the transport timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new delivery API client.
func NewClient(baseURL string, tokens interfaces.TokenProvider, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// do performs a request against the API and decodes the JSON response into
// result. result may be nil for endpoints with no interesting body.
func (c *Client) do(ctx context.Context, method, path string, result interface{}) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("request cancelled while rate limited: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, &AuthError{Endpoint: path, Err: fmt.Errorf("token lookup failed: %w", err)}
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("method", method).
			Str("endpoint", path).
			Msg("Delivery API request")
	}

	var resp *http.Response
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", uuid.New().String())

		resp, err = c.httpClient.Do(req)
		if err == nil {
			break
		}
		if ctx.Err() != nil || attempt >= maxTransientAttempts {
			return nil, fmt.Errorf("failed to execute request: %w", err)
		}
		if c.logger != nil {
			c.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Str("endpoint", path).
				Msg("Transient request failure, retrying")
		}
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, path); err != nil {
		return nil, err
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return resp, nil
}

// checkStatus maps non-2xx responses to typed errors.
func (c *Client) checkStatus(resp *http.Response, endpoint string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{StatusCode: resp.StatusCode, Endpoint: endpoint}
	case http.StatusNotFound:
		return &NotFoundError{Endpoint: endpoint}
	case http.StatusTooManyRequests:
		return rateLimitErrorFrom(resp, endpoint)
	}

	body, _ := io.ReadAll(resp.Body)
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    string(body),
		Endpoint:   endpoint,
	}
}

// rateLimitErrorFrom builds a RateLimitError from the X-RateLimit-* headers.
func rateLimitErrorFrom(resp *http.Response, endpoint string) *RateLimitError {
	rlErr := &RateLimitError{Endpoint: endpoint}
	if v, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit")); err == nil {
		rlErr.Limit = v
	}
	if v, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining")); err == nil {
		rlErr.Remaining = v
	}
	if v, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		rlErr.ResetAt = time.Unix(v, 0)
	}
	return rlErr
}

// GetStatus fetches the processing status for a document.
func (c *Client) GetStatus(ctx context.Context, lessonID, documentID string) (*models.ProcessingStatus, error) {
	path := fmt.Sprintf("/lessons/%s/documents/%s/status", lessonID, documentID)

	var status models.ProcessingStatus
	if _, err := c.do(ctx, http.MethodGet, path, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RetryProcessing signals the server to reset a FAILED document back to
// PENDING. Returns the status after the reset.
func (c *Client) RetryProcessing(ctx context.Context, lessonID, documentID string) (*models.ProcessingStatus, error) {
	path := fmt.Sprintf("/lessons/%s/documents/%s/retry", lessonID, documentID)

	var status models.ProcessingStatus
	if _, err := c.do(ctx, http.MethodPost, path, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// accessResponse is the wire shape of the access endpoint body.
type accessResponse struct {
	URL           string                `json:"url"`
	ExpiresAt     time.Time             `json:"expiresAt"`
	RateLimitInfo *models.RateLimitInfo `json:"rateLimitInfo,omitempty"`
}

// RequestAccess requests a time-limited access grant for a processed
// document. Quota metadata is taken from the response body when present,
// falling back to the X-RateLimit-* headers.
func (c *Client) RequestAccess(ctx context.Context, lessonID, documentID string) (*models.AccessGrant, error) {
	path := fmt.Sprintf("/lessons/%s/documents/%s/access", lessonID, documentID)

	var body accessResponse
	resp, err := c.do(ctx, http.MethodPost, path, &body)
	if err != nil {
		return nil, err
	}

	grant := &models.AccessGrant{
		URL:       body.URL,
		ExpiresAt: body.ExpiresAt,
		RateLimit: body.RateLimitInfo,
	}

	if grant.RateLimit == nil {
		if info := rateLimitInfoFrom(resp); info != nil {
			grant.RateLimit = info
		}
	}

	return grant, nil
}

// rateLimitInfoFrom reads quota metadata from response headers, returning
// nil when the server sent none.
func rateLimitInfoFrom(resp *http.Response) *models.RateLimitInfo {
	limitHeader := resp.Header.Get("X-RateLimit-Limit")
	if limitHeader == "" {
		return nil
	}

	info := &models.RateLimitInfo{}
	if v, err := strconv.Atoi(limitHeader); err == nil {
		info.Limit = v
	}
	if v, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining")); err == nil {
		info.Remaining = v
	}
	if v, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		info.ResetAt = time.Unix(v, 0)
	}
	return info
}

// StaticToken returns a TokenProvider that always yields the given token.
// Used when the hosting application manages token refresh itself.
func StaticToken(token string) interfaces.TokenProvider {
	return staticTokenProvider(token)
}

type staticTokenProvider string

func (p staticTokenProvider) Token(ctx context.Context) (string, error) {
	return string(p), nil
}

// Ensure Client implements the transport interfaces
var (
	_ interfaces.StatusClient = (*Client)(nil)
	_ interfaces.AccessClient = (*Client)(nil)
)
