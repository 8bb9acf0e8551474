package pubsub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker on Redis pub/sub. Redis creates a channel
// implicitly on first publish or subscribe, which matches the Broker
// contract directly.
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channel)

	// Receive the subscription confirmation so that a broken connection
	// surfaces here, where the caller can still refuse to continue.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	return &redisSubscription{ps: ps, channel: channel}, nil
}

type redisSubscription struct {
	ps      *redis.PubSub
	channel string
	closed  atomic.Bool
}

func (s *redisSubscription) Poll(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if s.closed.Load() {
		return nil, errors.New("subscription closed")
	}

	msg, err := s.ps.ReceiveTimeout(ctx, timeout)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		return nil, fmt.Errorf("poll %s: %w", s.channel, err)
	}

	switch m := msg.(type) {
	case *redis.Message:
		return []byte(m.Payload), nil
	default:
		// subscription confirmations and pongs are not messages
		return nil, nil
	}
}

func (s *redisSubscription) Unsubscribe(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.ps.Unsubscribe(ctx, s.channel); err != nil {
		_ = s.ps.Close()
		return fmt.Errorf("unsubscribe from %s: %w", s.channel, err)
	}
	return s.ps.Close()
}
