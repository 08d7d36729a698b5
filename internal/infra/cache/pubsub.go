package cache

import (
	"context"
	"fmt"

	"forum/internal/store"

	"github.com/redis/go-redis/v9"
)

// Notifier carries comment change signals over Redis pub/sub, so every
// server process sees writes made by every other one.
type Notifier struct {
	client *redis.Client
	prefix string
}

var _ store.Notifier = (*Notifier)(nil)

func (c *RedisCache) Notifier() *Notifier {
	return &Notifier{client: c.client, prefix: "forum:changes:"}
}

func (n *Notifier) channel(topicID string) string {
	return n.prefix + topicID
}

func (n *Notifier) Publish(ctx context.Context, topicID string) error {
	return n.client.Publish(ctx, n.channel(topicID), "1").Err()
}

func (n *Notifier) Listen(ctx context.Context, topicID string) (<-chan store.Signal, error) {
	ps := n.client.Subscribe(ctx, n.channel(topicID))
	// Receive waits for the subscription confirmation, so no publish made
	// after Listen returns can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", n.channel(topicID), err)
	}

	out := make(chan store.Signal, 1)
	go func() {
		defer close(out)
		defer ps.Close()
		// The first confirmation was consumed above, so any later one means
		// the client reconnected and may have missed publishes meanwhile.
		msgs := ps.ChannelWithSubscriptions()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					select {
					case <-out:
					default:
					}
					out <- store.Signal{Err: store.ErrStreamClosed}
					return
				}
				if sub, isSub := msg.(*redis.Subscription); isSub && sub.Kind != "subscribe" {
					continue
				}
				select {
				case out <- store.Signal{}:
				default:
				}
			}
		}
	}()
	return out, nil
}
