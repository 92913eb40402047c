package delivery

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/moodmash/client-go/internal/api"
)

// Fetcher returns the current list of secure messages.
type Fetcher func(ctx context.Context) ([]api.EncryptedMessage, error)

// EventHandler is invoked once for every message not seen before. Returning
// an error is logged and does not stop delivery; the message stays marked as
// seen.
type EventHandler func(ctx context.Context, msg *api.EncryptedMessage) error

// Strategy defines the interface for message delivery mechanisms.
//
// The typical lifecycle is:
//  1. Create a strategy with NewXxxStrategy(cfg)
//  2. Call Start(ctx, handler) to begin receiving messages
//  3. Call Stop() when done to release resources
type Strategy interface {
	// Start begins watching for messages. It returns immediately; delivery
	// is asynchronous and ends when ctx is done or Stop is called.
	Start(ctx context.Context, handler EventHandler) error

	// Stop shuts down the strategy. After Stop returns, no more messages
	// are delivered. Stop is idempotent.
	Stop() error

	// Name returns the strategy name for logging and debugging.
	Name() string
}

// Config holds configuration shared by all delivery strategies.
type Config struct {
	// Fetch lists messages. If nil, APIClient.GetMessages is used.
	Fetch Fetcher

	// APIClient is the API client used when Fetch is nil.
	APIClient *api.Client

	// SkipExisting marks the messages returned by the first poll as seen
	// without delivering them.
	SkipExisting bool

	// PollingInitialInterval is the starting interval between polls.
	// If zero, defaults to DefaultPollingInitialInterval.
	PollingInitialInterval time.Duration

	// PollingMaxBackoff is the maximum interval between polls.
	// If zero, defaults to DefaultPollingMaxBackoff.
	PollingMaxBackoff time.Duration

	// PollingBackoffMultiplier is the factor by which the interval
	// increases after each poll with no changes.
	// If zero, defaults to DefaultPollingBackoffMultiplier.
	PollingBackoffMultiplier float64

	// PollingJitterFactor is the maximum random jitter added to
	// poll intervals (as a fraction of the interval).
	// If zero, defaults to DefaultPollingJitterFactor.
	PollingJitterFactor float64

	// Logger receives poll failures. The zero value logs nothing.
	Logger *zerolog.Logger
}

// Default polling configuration values.
const (
	DefaultPollingInitialInterval   = 2 * time.Second
	DefaultPollingMaxBackoff        = 30 * time.Second
	DefaultPollingBackoffMultiplier = 1.5
	DefaultPollingJitterFactor      = 0.3
)

func (c Config) withDefaults() Config {
	if c.PollingInitialInterval <= 0 {
		c.PollingInitialInterval = DefaultPollingInitialInterval
	}
	if c.PollingMaxBackoff <= 0 {
		c.PollingMaxBackoff = DefaultPollingMaxBackoff
	}
	if c.PollingBackoffMultiplier <= 0 {
		c.PollingBackoffMultiplier = DefaultPollingBackoffMultiplier
	}
	if c.PollingJitterFactor < 0 {
		c.PollingJitterFactor = 0
	} else if c.PollingJitterFactor == 0 {
		c.PollingJitterFactor = DefaultPollingJitterFactor
	}
	if c.Fetch == nil && c.APIClient != nil {
		c.Fetch = c.APIClient.GetMessages
	}
	return c
}
