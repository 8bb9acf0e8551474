package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tbelova/jobpilot/internal/event"
	"github.com/tbelova/jobpilot/internal/pubsub"
	"github.com/tbelova/jobpilot/internal/status"
)

func newTestRelay(t *testing.T, kind event.ChannelKind) (*httptest.Server, *pubsub.MemoryBroker, *Registry) {
	t.Helper()
	broker := pubsub.NewMemoryBroker()
	registry := NewRegistry()
	rl := New(broker, registry, 50*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl.Serve(w, r, r.URL.Query().Get("run_id"), kind)
	}))
	t.Cleanup(srv.Close)
	return srv, broker, registry
}

func dial(t *testing.T, srv *httptest.Server, runID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?run_id=" + runID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal frame %q: %v", data, err)
	}
	return m
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRelay_StreamsUntilTerminalEvent(t *testing.T) {
	srv, broker, registry := newTestRelay(t, event.KindProgress)
	publisher := status.New(broker)

	runID := "run-stream-1"
	conn := dial(t, srv, runID)

	ack := readFrame(t, conn)
	if ack["type"] != "connection_established" || ack["run_id"] != runID {
		t.Fatalf("unexpected ack frame: %v", ack)
	}

	channel := event.ChannelName(runID, event.KindProgress)
	waitFor(t, func() bool { return registry.Count(channel) == 1 }, "connection never registered")

	ctx := context.Background()
	publisher.PublishEvent(ctx, runID, event.NewLLMOutput(runID, "hello ", false), event.KindProgress)
	publisher.PublishEvent(ctx, runID, event.NewLLMOutput(runID, "world", false), event.KindProgress)
	publisher.PublishEvent(ctx, runID, event.NewAgentComplete(runID, "hello world"), event.KindProgress)

	first := readFrame(t, conn)
	if first["event_type"] != string(event.TypeLLMOutput) {
		t.Errorf("first frame = %v, want llm_output", first["event_type"])
	}
	second := readFrame(t, conn)
	if data, ok := second["data"].(map[string]any); !ok || data["content"] != "world" {
		t.Errorf("second frame out of order: %v", second)
	}
	third := readFrame(t, conn)
	if third["event_type"] != string(event.TypeAgentComplete) {
		t.Errorf("third frame = %v, want agent_complete", third["event_type"])
	}

	// terminal event ends the stream server-side
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to close after terminal event")
	}

	waitFor(t, func() bool { return registry.Count(channel) == 0 }, "connection never deregistered")
}

func TestRelay_TwoClientsEachGetFullStream(t *testing.T) {
	srv, broker, registry := newTestRelay(t, event.KindProgress)
	publisher := status.New(broker)

	runID := "run-fanout"
	a := dial(t, srv, runID)
	b := dial(t, srv, runID)
	readFrame(t, a)
	readFrame(t, b)

	channel := event.ChannelName(runID, event.KindProgress)
	waitFor(t, func() bool { return registry.Count(channel) == 2 }, "both connections not registered")

	publisher.PublishEvent(context.Background(), runID, event.NewToolCall(runID, "resume_search", nil), event.KindProgress)

	for _, conn := range []*websocket.Conn{a, b} {
		got := readFrame(t, conn)
		if got["event_type"] != string(event.TypeToolCall) {
			t.Errorf("frame = %v, want tool_call", got["event_type"])
		}
	}
}

func TestRelay_ClientDisconnectCleansUp(t *testing.T) {
	srv, _, registry := newTestRelay(t, event.KindProcessing)

	runID := "run-disconnect"
	conn := dial(t, srv, runID)
	readFrame(t, conn)

	channel := event.ChannelName(runID, event.KindProcessing)
	waitFor(t, func() bool { return registry.Count(channel) == 1 }, "connection never registered")

	conn.Close()

	waitFor(t, func() bool { return registry.Count(channel) == 0 }, "disconnect did not clean up registry")
}

func TestRelay_IdleConnectionStaysOpen(t *testing.T) {
	srv, broker, _ := newTestRelay(t, event.KindProgress)
	publisher := status.New(broker)

	runID := "run-idle"
	conn := dial(t, srv, runID)
	readFrame(t, conn)

	// several empty poll cycles pass before anything is published
	time.Sleep(200 * time.Millisecond)
	publisher.PublishEvent(context.Background(), runID, event.NewLLMOutput(runID, "late", false), event.KindProgress)

	got := readFrame(t, conn)
	if got["event_type"] != string(event.TypeLLMOutput) {
		t.Errorf("frame = %v, want llm_output", got["event_type"])
	}
}
