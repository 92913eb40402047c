package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moodmash/client-go/internal/apierrors"
)

// Client defaults.
const (
	DefaultBaseURL    = "https://moodmash.app/api"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Config holds the struct-based client configuration.
type Config struct {
	// BaseURL is prepended verbatim to every endpoint path.
	BaseURL string
	// Token is the session bearer token. It may be empty and set later
	// with SetToken; authenticated endpoints fail until it is.
	Token string
	// HTTPClient overrides the default client (DefaultTimeout).
	HTTPClient *http.Client
	// MaxRetries is the number of retries after the first attempt.
	// Zero uses DefaultMaxRetries; a negative value disables retries.
	MaxRetries int
	// RetryDelay is the initial backoff delay. Zero uses DefaultRetryDelay.
	RetryDelay time.Duration
	// RetryOn lists the status codes that are retried. Nil uses
	// DefaultRetryableStatus.
	RetryOn []int
	// Logger receives request diagnostics. The zero value logs nothing.
	Logger *zerolog.Logger
}

// Client is the HTTP API client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      *RetryConfig
	maxRetries int
	retryDelay time.Duration
	logger     zerolog.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a client from an explicit Config.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		token:      cfg.Token,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     zerolog.Nop(),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if c.maxRetries == 0 {
		c.maxRetries = DefaultMaxRetries
	} else if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.retryDelay == 0 {
		c.retryDelay = DefaultRetryDelay
	}
	if cfg.Logger != nil {
		c.logger = *cfg.Logger
	}

	c.retry = DefaultRetryConfig()
	c.retry.MaxRetries = c.maxRetries
	c.retry.BaseDelay = c.retryDelay
	if cfg.RetryOn != nil {
		codes := make(map[int]bool, len(cfg.RetryOn))
		for _, code := range cfg.RetryOn {
			codes[code] = true
		}
		c.retry.RetryableOn = func(statusCode int) bool { return codes[statusCode] }
	}

	return c, nil
}

// Option configures the API client.
type Option func(*Config)

// WithBaseURL sets the base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithRetries sets the number of retries.
func WithRetries(retries int) Option {
	return func(c *Config) {
		if retries == 0 {
			retries = -1
		}
		c.MaxRetries = retries
	}
}

// WithRetryDelay sets the initial backoff delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) {
		c.RetryDelay = d
	}
}

// WithRetryOn sets the status codes that trigger a retry.
func WithRetryOn(codes []int) Option {
	return func(c *Config) {
		c.RetryOn = codes
	}
}

// WithTimeout sets the HTTP timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if c.HTTPClient == nil {
			c.HTTPClient = &http.Client{}
		}
		c.HTTPClient.Timeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = &logger
	}
}

// New creates a new API client using functional options.
func New(token string, opts ...Option) (*Client, error) {
	cfg := Config{Token: token}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewClient(cfg)
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetToken replaces the session token. An empty token signs the client out.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// HasToken reports whether a session token is set.
func (c *Client) HasToken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Do performs a JSON request, retrying transient failures with exponential
// backoff. body and result may be nil. A non-2xx response is returned as
// *apierrors.APIError; a transport failure as *apierrors.NetworkError.
//
// POST requests are only retried after 429: after a transport failure or a
// 5xx the server may already have stored the request, and sending it again
// would post a message twice.
func (c *Client) Do(ctx context.Context, method, path string, body, result any) error {
	token := c.currentToken()
	if token == "" {
		return apierrors.ErrMissingToken
	}

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = data
	}

	url := c.baseURL + path
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt >= c.maxRetries || !replayable(method) {
				return &apierrors.NetworkError{Err: err, URL: url, Attempt: attempt + 1}
			}
			c.logger.Debug().Err(err).Str("method", method).Str("path", path).
				Int("attempt", attempt+1).Msg("request failed, retrying")
			if err := c.retry.Wait(ctx, attempt); err != nil {
				return err
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			defer resp.Body.Close()
			return decodeResult(resp, result)
		}

		if c.retry.ShouldRetry(attempt, resp.StatusCode) &&
			(replayable(method) || resp.StatusCode == http.StatusTooManyRequests) {
			delay := c.retry.DelayFor(attempt, resp)
			drain(resp)
			c.logger.Debug().Int("status", resp.StatusCode).Str("method", method).Str("path", path).
				Int("attempt", attempt+1).Dur("delay", delay).Msg("retryable response")
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}

		apiErr := parseErrorResponse(resp)
		drain(resp)
		return apiErr
	}
}

// replayable reports whether a request can be repeated after the server may
// have processed it.
func replayable(method string) bool {
	return method != http.MethodPost
}

func decodeResult(resp *http.Response, result any) error {
	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var errResp struct {
		Error     string `json:"error"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	}

	requestID := resp.Header.Get("X-Request-Id")
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.RequestID != "" {
			requestID = errResp.RequestID
		}
		msg := errResp.Message
		if msg == "" {
			msg = errResp.Error
		}
		if msg != "" {
			return &apierrors.APIError{
				StatusCode: resp.StatusCode,
				Message:    msg,
				RequestID:  requestID,
			}
		}
	}

	return &apierrors.APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		RequestID:  requestID,
	}
}
