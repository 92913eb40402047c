package delivery

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"

	"github.com/moodmash/client-go/internal/api"
	"github.com/moodmash/client-go/internal/crypto"
)

// PollingStrategy implements message delivery via polling.
//
// The message endpoint has no change token, so each poll digests the set of
// message identities. An unchanged digest backs the interval off; a change
// resets it and delivers the messages not seen before.
type PollingStrategy struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	started  bool
	seen     map[string]struct{}
	lastHash string
	interval time.Duration
	primed   bool
}

// NewPollingStrategy creates a new polling strategy.
func NewPollingStrategy(cfg Config) *PollingStrategy {
	cfg = cfg.withDefaults()
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &PollingStrategy{
		cfg:      cfg,
		logger:   logger,
		seen:     make(map[string]struct{}),
		interval: cfg.PollingInitialInterval,
	}
}

// Name returns the strategy name.
func (p *PollingStrategy) Name() string {
	return "polling"
}

// Start begins polling. Calling Start on a running strategy is an error.
func (p *PollingStrategy) Start(ctx context.Context, handler EventHandler) error {
	if p.cfg.Fetch == nil {
		return fmt.Errorf("delivery: no message fetcher configured")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("delivery: %s strategy already started", p.Name())
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.pollLoop(ctx, handler, p.done)
	return nil
}

// Stop cancels polling and waits for the loop to exit. It must not be
// called from inside the handler.
func (p *PollingStrategy) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.started = false
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// Close is an alias for Stop.
func (p *PollingStrategy) Close() error {
	return p.Stop()
}

func (p *PollingStrategy) pollLoop(ctx context.Context, handler EventHandler, done chan struct{}) {
	defer close(done)

	for {
		p.poll(ctx, handler)

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.waitDuration()):
		}
	}
}

// poll runs a single fetch-compare-deliver cycle.
func (p *PollingStrategy) poll(ctx context.Context, handler EventHandler) {
	msgs, err := p.cfg.Fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("message poll failed")
		}
		p.backoff()
		return
	}

	hash := digest(msgs)
	if p.primed && hash == p.lastHash {
		p.backoff()
		return
	}
	p.lastHash = hash
	p.interval = p.cfg.PollingInitialInterval

	deliver := p.primed || !p.cfg.SkipExisting
	p.primed = true

	for i := range msgs {
		key := identity(&msgs[i])
		if _, ok := p.seen[key]; ok {
			continue
		}
		p.seen[key] = struct{}{}

		if !deliver || handler == nil {
			continue
		}
		if err := handler(ctx, &msgs[i]); err != nil {
			p.logger.Warn().Err(err).Str("message_id", msgs[i].ID).Msg("message handler failed")
		}
	}
}

func (p *PollingStrategy) backoff() {
	next := time.Duration(float64(p.interval) * p.cfg.PollingBackoffMultiplier)
	if next > p.cfg.PollingMaxBackoff {
		next = p.cfg.PollingMaxBackoff
	}
	p.interval = next
}

func (p *PollingStrategy) waitDuration() time.Duration {
	// Jitter spreads polls from many clients.
	jitter := time.Duration(rand.Float64() * p.cfg.PollingJitterFactor * float64(p.interval))
	return p.interval + jitter
}

// identity returns a stable key for a message. Server IDs are preferred;
// the nonce is unique per message otherwise.
func identity(m *api.EncryptedMessage) string {
	if m.ID != "" {
		return "id:" + m.ID
	}
	return fmt.Sprintf("n:%s:%s:%d", crypto.EncodeBase64(m.Nonce), m.Sender, m.Timestamp)
}

func digest(msgs []api.EncryptedMessage) string {
	keys := make([]string, len(msgs))
	for i := range msgs {
		keys[i] = identity(&msgs[i])
	}
	sort.Strings(keys)

	h := blake3.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
