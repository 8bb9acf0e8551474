// Package status relays typed agent events over the pub/sub broker. It is
// the only place events are serialized for the wire, so the publish and
// subscribe sides can never disagree on the encoding.
package status

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tbelova/jobpilot/internal/event"
	"github.com/tbelova/jobpilot/internal/pubsub"
)

// Repository publishes and consumes agent events on run-scoped channels.
// A Repository may hold at most one live subscription per channel; relays
// construct their own Repository per connection.
type Repository struct {
	broker pubsub.Broker

	mu   sync.Mutex
	subs map[string]pubsub.Subscription
}

func New(broker pubsub.Broker) *Repository {
	return &Repository{
		broker: broker,
		subs:   make(map[string]pubsub.Subscription),
	}
}

// PublishEvent serializes the event and publishes it on the run's channel.
// Broker and serialization failures are logged and reported as false, not
// propagated: the channel is best-effort and the durable record stays
// authoritative. Callers that care must check the return value.
func (r *Repository) PublishEvent(ctx context.Context, runID string, ev *event.Event, kind event.ChannelKind) bool {
	channel := event.ChannelName(runID, kind)

	payload, err := ev.Encode()
	if err != nil {
		slog.Error("failed to encode event", "event_type", ev.Type, "run_id", runID, "error", err)
		return false
	}

	if err := r.broker.Publish(ctx, channel, payload); err != nil {
		slog.Error("failed to publish event", "event_type", ev.Type, "channel", channel, "error", err)
		return false
	}

	slog.Debug("published event", "event_type", ev.Type, "channel", channel)
	return true
}

// SubscribeToChannel opens a subscription on the run's channel. Unlike
// publish failures, a subscribe failure is returned: a relay cannot
// usefully continue without a subscription.
func (r *Repository) SubscribeToChannel(ctx context.Context, runID string, kind event.ChannelKind) error {
	channel := event.ChannelName(runID, kind)

	sub, err := r.broker.Subscribe(ctx, channel)
	if err != nil {
		slog.Error("failed to subscribe to channel", "channel", channel, "error", err)
		return err
	}

	r.mu.Lock()
	r.subs[channel] = sub
	r.mu.Unlock()

	slog.Info("subscribed to channel", "channel", channel)
	return nil
}

// GetMessage polls the subscription opened for (runID, kind) and decodes
// the next payload. Timeouts, poll errors, and malformed payloads all
// yield nil; only a decoded event is ever returned.
func (r *Repository) GetMessage(ctx context.Context, runID string, kind event.ChannelKind, timeout time.Duration) *event.Event {
	channel := event.ChannelName(runID, kind)

	r.mu.Lock()
	sub, ok := r.subs[channel]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	payload, err := sub.Poll(ctx, timeout)
	if err != nil {
		// a canceled context is how relays signal disconnect, not a fault
		if errors.Is(err, context.Canceled) {
			return nil
		}
		slog.Error("failed to poll channel", "channel", channel, "error", err)
		return nil
	}
	if payload == nil {
		return nil
	}

	ev, err := event.Decode(payload)
	if err != nil {
		slog.Warn("dropping malformed event payload", "channel", channel, "error", err)
		return nil
	}
	return ev
}

// UnsubscribeFromChannel releases the subscription for (runID, kind).
// Safe to call when no subscription exists or after it is already closed.
func (r *Repository) UnsubscribeFromChannel(ctx context.Context, runID string, kind event.ChannelKind) {
	channel := event.ChannelName(runID, kind)

	r.mu.Lock()
	sub, ok := r.subs[channel]
	delete(r.subs, channel)
	r.mu.Unlock()
	if !ok {
		return
	}

	if err := sub.Unsubscribe(ctx); err != nil {
		slog.Error("failed to unsubscribe from channel", "channel", channel, "error", err)
		return
	}
	slog.Info("unsubscribed from channel", "channel", channel)
}

// CleanupChannel releases everything the repository holds for a run's
// channel. Idempotent: every exit path of a relay or executor may call it
// without checking whether another path got there first.
func (r *Repository) CleanupChannel(ctx context.Context, runID string, kind event.ChannelKind) {
	r.UnsubscribeFromChannel(ctx, runID, kind)
	slog.Debug("cleaned up channel resources", "run_id", runID, "channel_kind", kind)
}
