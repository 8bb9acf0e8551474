package pubsub

import (
	"context"
	"time"
)

// Broker is a named, ephemeral publish/subscribe channel. Channels come
// into existence on first publish or subscribe; there is no provisioning
// step. Delivery is fire-and-forget: a publish with no subscriber attached
// succeeds and the message is simply never observed.
type Broker interface {
	// Publish sends a payload to everyone currently subscribed to the
	// channel. It never blocks waiting for a subscriber.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe opens a subscription bound to the channel. Multiple
	// concurrent subscriptions to the same channel each receive a copy.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription is a single consumer's handle on a channel. Handles must
// not be shared between goroutines polling concurrently.
type Subscription interface {
	// Poll blocks up to timeout waiting for the next message. A timeout
	// returns (nil, nil) rather than an error so callers can re-check
	// liveness between polls.
	Poll(ctx context.Context, timeout time.Duration) ([]byte, error)

	// Unsubscribe releases the subscription. Calling it on an already
	// closed handle is a no-op.
	Unsubscribe(ctx context.Context) error
}
