package moodmash

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/moodmash/client-go/internal/api"
	"github.com/moodmash/client-go/internal/delivery"
)

// Subscription represents an active subscription that can be unsubscribed.
type Subscription interface {
	// Unsubscribe stops the subscription. No callback runs after it returns.
	Unsubscribe()
}

// MessageCallback is called for each new incoming message. conv is the
// conversation with the sender, which also records the message.
type MessageCallback func(conv *Conversation, msg MessageDisplay)

// ErrMonitorRunning is returned by MessageMonitor.Start on a running monitor.
var ErrMonitorRunning = errors.New("message monitor already running")

// MessageMonitor watches incoming messages from every peer with a single
// polling loop and dispatches them to subscribers. Use it for notifications
// across conversations; Conversation.Watch covers a single peer.
type MessageMonitor struct {
	client *Client
	subs   *subscriptionManager

	mu       sync.Mutex
	strategy delivery.Strategy
	stop     func() bool
}

// internalSubscription implements the Subscription interface.
type internalSubscription struct {
	cancel func()
}

func (s *internalSubscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

// MonitorMessages returns a monitor for messages addressed to the user. It
// does nothing until Start is called.
func (c *Client) MonitorMessages() *MessageMonitor {
	return &MessageMonitor{
		client: c,
		subs:   newSubscriptionManager(),
	}
}

// OnMessage registers callback for messages from peerID, or from any peer
// when peerID is empty. Callbacks run on the polling goroutine, in arrival
// order.
func (m *MessageMonitor) OnMessage(peerID string, callback MessageCallback) Subscription {
	return &internalSubscription{cancel: m.subs.subscribe(peerID, callback)}
}

// Start begins polling. Messages already on the server are not delivered.
// Decrypting needs only the key pair, so a locked session is fine. The
// monitor stops when ctx is done, Stop is called, or the client is closed.
func (m *MessageMonitor) Start(ctx context.Context) error {
	c := m.client
	if err := c.checkClosed(); err != nil {
		return err
	}
	if !c.Authenticated() {
		return ErrNotAuthenticated
	}
	if !c.keys.HasKeys() {
		return configError("monitor messages", ErrKeysUnavailable)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.strategy != nil {
		return ErrMonitorRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	strategy := c.newPollingStrategy()
	if err := strategy.Start(ctx, m.handle); err != nil {
		cancel()
		return fmt.Errorf("start message polling: %w", err) //coverage:ignore
	}
	stopOnClose := context.AfterFunc(c.closeCtx, cancel)
	m.strategy = strategy
	m.stop = func() bool {
		cancel()
		return stopOnClose()
	}

	c.logger.Debug().Str("strategy", strategy.Name()).Msg("monitoring messages")
	return nil
}

// handle decrypts one incoming message and dispatches it.
func (m *MessageMonitor) handle(ctx context.Context, msg *api.EncryptedMessage) error {
	c := m.client
	self := c.UserID()
	if msg.Recipient != self || msg.Sender == self || msg.Sender == "" {
		return nil
	}

	conv, err := c.Conversation(msg.Sender)
	if err != nil {
		return err
	}
	peerKey, err := c.lookupPublicKey(ctx, msg.Sender)
	if err != nil {
		c.logger.Warn().Err(err).Str("sender", msg.Sender).Msg("sender key lookup failed")
	}

	secret := c.keys.SecretKey()
	defer zero(secret)

	d := conv.decrypt(msg, secret, peerKey)
	conv.add(d)
	m.subs.notify(msg.Sender, conv, d)
	return nil
}

// Running reports whether Start succeeded and Stop has not been called
// since. A monitor whose context ended still reports true until Stop.
func (m *MessageMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strategy != nil
}

// Stop stops polling and removes every subscription. The monitor can be
// started again afterwards with new subscriptions.
func (m *MessageMonitor) Stop() error {
	m.mu.Lock()
	strategy, stop := m.strategy, m.stop
	m.strategy, m.stop = nil, nil
	m.mu.Unlock()

	m.subs.clear()
	if strategy == nil {
		return nil
	}
	stop()
	return strategy.Stop()
}
