package pubsub

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const memSubBuffer = 256

// MemoryBroker is a channel-backed Broker for tests and single-process
// deployments, the in-memory counterpart to RedisBroker the same way the
// memory queue mirrors the Redis queue.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[string][]*memorySubscription
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string][]*memorySubscription)}
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[channel] {
		select {
		case sub.buf <- payload:
		default:
			// fire-and-forget: a subscriber that cannot keep up loses
			// the message, same as a late subscriber on a real broker
			slog.Warn("dropping message, subscriber buffer full", "channel", channel)
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub := &memorySubscription{
		broker:  b,
		channel: channel,
		buf:     make(chan []byte, memSubBuffer),
	}

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()

	return sub, nil
}

func (b *MemoryBroker) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.channel]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.channel]) == 0 {
		delete(b.subs, sub.channel)
	}
}

type memorySubscription struct {
	broker  *MemoryBroker
	channel string
	buf     chan []byte
	once    sync.Once
}

func (s *memorySubscription) Poll(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload, ok := <-s.buf:
		if !ok {
			return nil, nil
		}
		return payload, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *memorySubscription) Unsubscribe(ctx context.Context) error {
	s.once.Do(func() {
		s.broker.remove(s)
	})
	return nil
}
