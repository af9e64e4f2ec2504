package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/scout-progress/internal/domain"
	"github.com/scout-progress/internal/ledger"
)

// Notifier broadcasts verified submissions over Redis pub/sub so every
// server instance can push them to its own websocket clients
type Notifier struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a pub/sub notifier on the default channel
func NewNotifier(client *redis.Client, logger *slog.Logger) *Notifier {
	return &Notifier{
		client:  client,
		channel: verifiedChannel,
		logger:  logger,
	}
}

// Notify publishes rec to all listening instances
func (n *Notifier) Notify(ctx context.Context, rec domain.SubmissionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding submission: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("publishing verified submission: %w", err)
	}
	return nil
}

// Listen relays published submissions into feed until ctx is cancelled.
// The subscription is confirmed before ready is closed.
func (n *Notifier) Listen(ctx context.Context, feed *ledger.Feed, ready chan<- struct{}) error {
	sub := n.client.Subscribe(ctx, n.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", n.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	n.logger.Info("listening for verified submissions", "channel", n.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var rec domain.SubmissionRecord
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				n.logger.Error("failed to decode verified submission", "error", err)
				continue
			}
			feed.Publish(rec)
		}
	}
}
