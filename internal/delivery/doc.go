// Package delivery watches the secure message endpoint for new messages.
//
// The server offers no push channel for messages, so [PollingStrategy]
// polls with adaptive backoff: intervals grow from 2s to 30s while nothing
// changes and reset as soon as the message set does. Jitter prevents
// thundering herd when many clients poll.
//
//	strategy := delivery.NewPollingStrategy(delivery.Config{APIClient: apiClient})
//	strategy.Start(ctx, func(ctx context.Context, msg *api.EncryptedMessage) error {
//	    // Decrypt and display msg
//	    return nil
//	})
//	defer strategy.Stop()
//
// Each message is delivered at most once per strategy, keyed by server ID.
package delivery
