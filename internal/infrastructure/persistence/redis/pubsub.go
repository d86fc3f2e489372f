package redis

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/messaging"
)

// PubSub adapts a go-redis client to messaging.RedisClient.
type PubSub struct {
	client *redis.Client

	mu   sync.Mutex
	subs []*redis.PubSub
}

var _ messaging.RedisClient = (*PubSub)(nil)

// NewPubSub creates a PubSub over the cache's client.
func NewPubSub(cache *Cache) *PubSub {
	return &PubSub{client: cache.client}
}

// Publish publishes a message to a channel.
func (p *PubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	return p.client.Publish(ctx, channel, message).Err()
}

// Subscribe subscribes to channels and forwards messages until ctx is done
// or the PubSub is closed.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	sub := p.client.Subscribe(ctx, channels...)

	// Wait for the subscription confirmation so no message published after
	// Subscribe returns is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	out := make(chan messaging.RedisMessage, 64)
	go func() {
		defer close(out)
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					_ = sub.Close()
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes all subscriptions. The shared client is owned by the Cache.
func (p *PubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, sub := range p.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.subs = nil
	return firstErr
}
