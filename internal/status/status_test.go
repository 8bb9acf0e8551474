package status

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tbelova/jobpilot/internal/event"
	"github.com/tbelova/jobpilot/internal/pubsub"
)

func TestRepository_PublishAndReceive(t *testing.T) {
	broker := pubsub.NewMemoryBroker()
	publisher := New(broker)
	subscriber := New(broker)
	ctx := context.Background()

	if err := subscriber.SubscribeToChannel(ctx, "run-1", event.KindProgress); err != nil {
		t.Fatalf("SubscribeToChannel: %v", err)
	}
	defer subscriber.CleanupChannel(ctx, "run-1", event.KindProgress)

	if ok := publisher.PublishEvent(ctx, "run-1", event.NewLLMOutput("run-1", "hi", false), event.KindProgress); !ok {
		t.Fatal("PublishEvent returned false")
	}

	ev := subscriber.GetMessage(ctx, "run-1", event.KindProgress, time.Second)
	if ev == nil {
		t.Fatal("GetMessage returned nil")
	}
	if ev.Type != event.TypeLLMOutput || ev.RunID != "run-1" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestRepository_GetMessageTimeoutReturnsNil(t *testing.T) {
	broker := pubsub.NewMemoryBroker()
	repo := New(broker)
	ctx := context.Background()

	if err := repo.SubscribeToChannel(ctx, "run-quiet", event.KindProgress); err != nil {
		t.Fatalf("SubscribeToChannel: %v", err)
	}
	defer repo.CleanupChannel(ctx, "run-quiet", event.KindProgress)

	if ev := repo.GetMessage(ctx, "run-quiet", event.KindProgress, 100*time.Millisecond); ev != nil {
		t.Errorf("expected nil on timeout, got %+v", ev)
	}
}

func TestRepository_GetMessageWithoutSubscription(t *testing.T) {
	repo := New(pubsub.NewMemoryBroker())

	if ev := repo.GetMessage(context.Background(), "never-subscribed", event.KindProgress, 50*time.Millisecond); ev != nil {
		t.Errorf("expected nil without subscription, got %+v", ev)
	}
}

func TestRepository_MalformedPayloadIsDropped(t *testing.T) {
	broker := pubsub.NewMemoryBroker()
	repo := New(broker)
	ctx := context.Background()

	if err := repo.SubscribeToChannel(ctx, "run-bad", event.KindProgress); err != nil {
		t.Fatalf("SubscribeToChannel: %v", err)
	}
	defer repo.CleanupChannel(ctx, "run-bad", event.KindProgress)

	channel := event.ChannelName("run-bad", event.KindProgress)
	if err := broker.Publish(ctx, channel, []byte("{garbage")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	good := event.NewLLMOutput("run-bad", "after garbage", false)
	payload, _ := good.Encode()
	if err := broker.Publish(ctx, channel, payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// the malformed frame is consumed and discarded; the next valid event
	// still comes through on a later poll
	var got *event.Event
	deadline := time.Now().Add(2 * time.Second)
	for got == nil && time.Now().Before(deadline) {
		got = repo.GetMessage(ctx, "run-bad", event.KindProgress, 200*time.Millisecond)
	}
	if got == nil {
		t.Fatal("valid event never arrived after malformed one")
	}
	if got.Data["content"] != "after garbage" {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestRepository_PublishFailureReturnsFalse(t *testing.T) {
	// a publisher over a broker with no subscribers still succeeds;
	// failure requires the broker itself to error
	repo := New(failingBroker{})

	ok := repo.PublishEvent(context.Background(), "run-1", event.NewLLMOutput("run-1", "x", false), event.KindProgress)
	if ok {
		t.Error("PublishEvent should report failure from the broker")
	}
}

func TestRepository_CleanupIsIdempotent(t *testing.T) {
	repo := New(pubsub.NewMemoryBroker())
	ctx := context.Background()

	if err := repo.SubscribeToChannel(ctx, "run-1", event.KindProcessing); err != nil {
		t.Fatalf("SubscribeToChannel: %v", err)
	}

	repo.CleanupChannel(ctx, "run-1", event.KindProcessing)
	repo.CleanupChannel(ctx, "run-1", event.KindProcessing)
	// cleanup of a channel that was never subscribed is also fine
	repo.CleanupChannel(ctx, "run-other", event.KindProgress)
}

func TestRepository_KindsDoNotCross(t *testing.T) {
	broker := pubsub.NewMemoryBroker()
	publisher := New(broker)
	subscriber := New(broker)
	ctx := context.Background()

	if err := subscriber.SubscribeToChannel(ctx, "run-1", event.KindProcessing); err != nil {
		t.Fatalf("SubscribeToChannel: %v", err)
	}
	defer subscriber.CleanupChannel(ctx, "run-1", event.KindProcessing)

	publisher.PublishEvent(ctx, "run-1", event.NewLLMOutput("run-1", "x", false), event.KindProgress)

	if ev := subscriber.GetMessage(ctx, "run-1", event.KindProcessing, 100*time.Millisecond); ev != nil {
		t.Errorf("processing subscriber received progress event: %+v", ev)
	}
}

type failingBroker struct{}

func (failingBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return context.DeadlineExceeded
}

func (failingBroker) Subscribe(ctx context.Context, channel string) (pubsub.Subscription, error) {
	return nil, context.DeadlineExceeded
}

func TestRepository_GetMessageCanceledContextIsQuiet(t *testing.T) {
	broker := pubsub.NewMemoryBroker()
	repo := New(broker)

	if err := repo.SubscribeToChannel(context.Background(), "run-gone", event.KindProgress); err != nil {
		t.Fatalf("SubscribeToChannel: %v", err)
	}
	defer repo.CleanupChannel(context.Background(), "run-gone", event.KindProgress)

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ev := repo.GetMessage(ctx, "run-gone", event.KindProgress, time.Second); ev != nil {
		t.Errorf("expected nil on canceled context, got %+v", ev)
	}
	if strings.Contains(buf.String(), "failed to poll channel") {
		t.Errorf("client disconnect logged as a poll failure: %s", buf.String())
	}
}
