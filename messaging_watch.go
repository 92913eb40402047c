package moodmash

import (
	"context"
	"fmt"

	"github.com/moodmash/client-go/internal/api"
	"github.com/moodmash/client-go/internal/delivery"
)

// Watch polls for new messages in the conversation and calls fn for each
// message that arrives after Watch starts. Messages already on the server
// are not replayed; call Fetch for those. Watch blocks until ctx is done or
// the client is closed, and returns nil in both cases.
//
// Example:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
//	defer cancel()
//
//	err := conv.Watch(ctx, func(m moodmash.MessageDisplay) {
//	    fmt.Printf("%s: %s\n", m.Sender, m.Content)
//	})
func (cv *Conversation) Watch(ctx context.Context, fn func(MessageDisplay)) error {
	peerKey, err := cv.ensureReady(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(cv.client.closeCtx, cancel)
	defer stop()

	strategy := cv.client.newPollingStrategy()
	handler := func(ctx context.Context, msg *api.EncryptedMessage) error {
		if !cv.involves(msg) {
			return nil
		}
		secret := cv.client.keys.SecretKey()
		defer zero(secret)

		d := cv.decrypt(msg, secret, peerKey)
		cv.add(d)
		if fn != nil {
			fn(d)
		}
		return nil
	}

	if err := strategy.Start(ctx, handler); err != nil {
		return fmt.Errorf("start message polling: %w", err) //coverage:ignore
	}
	cv.client.logger.Debug().
		Str("recipient_id", cv.recipientID).
		Str("strategy", strategy.Name()).
		Msg("watching conversation")

	<-ctx.Done()
	return strategy.Stop()
}

// newPollingStrategy creates a polling strategy over the message endpoint.
func (c *Client) newPollingStrategy() delivery.Strategy {
	return delivery.NewPollingStrategy(delivery.Config{
		APIClient:                c.apiClient,
		SkipExisting:             true,
		PollingInitialInterval:   c.cfg.pollingInitialInterval,
		PollingMaxBackoff:        c.cfg.pollingMaxBackoff,
		PollingBackoffMultiplier: c.cfg.pollingBackoffMultiplier,
		PollingJitterFactor:      c.cfg.pollingJitterFactor,
		Logger:                   &c.logger,
	})
}
