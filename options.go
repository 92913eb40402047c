package moodmash

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/moodmash/client-go/internal/api"
	"github.com/moodmash/client-go/internal/keystore"
)

const (
	defaultBaseURL = api.DefaultBaseURL
	defaultTimeout = api.DefaultTimeout
)

// clientConfig holds configuration for the client.
type clientConfig struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	retries    int // negative means the API client default
	retryOn    []int
	logger     zerolog.Logger
	now        func() time.Time

	keyStore     keystore.Store
	sessionStore keystore.Store

	// Polling configuration
	pollingInitialInterval   time.Duration
	pollingMaxBackoff        time.Duration
	pollingBackoffMultiplier float64
	pollingJitterFactor      float64
}

// Option configures the client.
type Option func(*clientConfig)

// WithBaseURL sets the API base URL. Endpoint paths are appended verbatim.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP request timeout.
// Default: 30 seconds
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithRetries sets the number of retries for API calls. Zero disables retries.
func WithRetries(count int) Option {
	return func(c *clientConfig) {
		c.retries = count
	}
}

// WithRetryOn sets the HTTP status codes that trigger a retry.
// Default: [408, 429, 500, 502, 503, 504]
func WithRetryOn(statusCodes []int) Option {
	return func(c *clientConfig) {
		c.retryOn = statusCodes
	}
}

// WithLogger sets the logger. Key material is never logged.
// Default: zerolog.Nop()
func WithLogger(logger zerolog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithKeyStore sets the durable store holding key material, key metadata
// and cached peer public keys. Clients for the same user that share a store
// follow last-writer-wins.
// Default: an in-memory store private to the client
func WithKeyStore(store keystore.Store) Option {
	return func(c *clientConfig) {
		c.keyStore = store
	}
}

// WithSessionStore sets the session-scoped store for the password-derived
// encryption key. It must not outlive the session.
// Default: an in-memory store private to the client
func WithSessionStore(store keystore.Store) Option {
	return func(c *clientConfig) {
		c.sessionStore = store
	}
}

// WithClock sets the time source used for key metadata and message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *clientConfig) {
		c.now = now
	}
}

// WithPollingInitialInterval sets the initial polling interval used by
// Conversation.Watch. This is the interval used while messages are arriving.
// Default: 2 seconds
func WithPollingInitialInterval(interval time.Duration) Option {
	return func(c *clientConfig) {
		c.pollingInitialInterval = interval
	}
}

// WithPollingMaxBackoff sets the maximum polling backoff interval.
// When no new messages arrive, the polling interval increases up to this maximum.
// Default: 30 seconds
func WithPollingMaxBackoff(maxBackoff time.Duration) Option {
	return func(c *clientConfig) {
		c.pollingMaxBackoff = maxBackoff
	}
}

// WithPollingBackoffMultiplier sets the backoff multiplier for polling.
// After each poll with no changes, the interval is multiplied by this factor.
// Default: 1.5
func WithPollingBackoffMultiplier(multiplier float64) Option {
	return func(c *clientConfig) {
		c.pollingBackoffMultiplier = multiplier
	}
}

// WithPollingJitterFactor sets the jitter factor for polling intervals.
// Random jitter up to this fraction of the interval is added to prevent
// synchronized polling across multiple clients. A negative factor disables
// jitter.
// Default: 0.3 (30%)
func WithPollingJitterFactor(factor float64) Option {
	return func(c *clientConfig) {
		c.pollingJitterFactor = factor
	}
}

// PollingConfig groups the polling settings used by Conversation.Watch.
type PollingConfig struct {
	InitialInterval   time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	JitterFactor      float64
}

// WithPollingConfig sets all polling options at once. Zero fields are
// ignored and keep their current value; a negative JitterFactor disables
// jitter.
func WithPollingConfig(cfg PollingConfig) Option {
	return func(c *clientConfig) {
		if cfg.InitialInterval > 0 {
			c.pollingInitialInterval = cfg.InitialInterval
		}
		if cfg.MaxBackoff > 0 {
			c.pollingMaxBackoff = cfg.MaxBackoff
		}
		if cfg.BackoffMultiplier > 0 {
			c.pollingBackoffMultiplier = cfg.BackoffMultiplier
		}
		if cfg.JitterFactor != 0 {
			c.pollingJitterFactor = cfg.JitterFactor
		}
	}
}

// validate checks the configuration after all options have been applied.
// Zero polling values select the defaults.
func (c *clientConfig) validate() error {
	if c.baseURL == "" {
		return errors.New("base URL is required")
	}
	u, err := url.Parse(c.baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base URL %q must be an absolute http(s) URL", c.baseURL)
	}
	if c.timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.timeout)
	}
	if c.now == nil {
		return errors.New("clock must not be nil")
	}
	if c.pollingInitialInterval < 0 || c.pollingMaxBackoff < 0 {
		return errors.New("polling intervals must not be negative")
	}
	if c.pollingInitialInterval > 0 && c.pollingMaxBackoff > 0 && c.pollingInitialInterval > c.pollingMaxBackoff {
		return fmt.Errorf("polling initial interval %v exceeds max backoff %v", c.pollingInitialInterval, c.pollingMaxBackoff)
	}
	if m := c.pollingBackoffMultiplier; m < 0 || (m > 0 && m < 1) {
		return fmt.Errorf("polling backoff multiplier must be at least 1, got %v", m)
	}
	if c.pollingJitterFactor > 1 {
		return fmt.Errorf("polling jitter factor must be at most 1, got %v", c.pollingJitterFactor)
	}
	return nil
}
