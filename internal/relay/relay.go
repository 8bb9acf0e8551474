package relay

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tbelova/jobpilot/internal/event"
	"github.com/tbelova/jobpilot/internal/pubsub"
	"github.com/tbelova/jobpilot/internal/status"
)

const defaultPollTimeout = 1 * time.Second

// frame is a relay control message. Progress events go to the client in
// their wire form unchanged; frames wrap everything else.
type frame struct {
	Type    string `json:"type"`
	RunID   string `json:"run_id"`
	Message string `json:"message,omitempty"`
}

// Relay bridges a run's pub/sub channel onto a websocket. Each accepted
// connection gets its own subscription, so two clients watching the same
// run each receive the full stream.
type Relay struct {
	broker      pubsub.Broker
	registry    *Registry
	pollTimeout time.Duration
	upgrader    websocket.Upgrader
}

func New(broker pubsub.Broker, registry *Registry, pollTimeout time.Duration) *Relay {
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	return &Relay{
		broker:      broker,
		registry:    registry,
		pollTimeout: pollTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// auth happens before the upgrade, via the token middleware
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Connections reports the number of open relay connections.
func (rl *Relay) Connections() int {
	return rl.registry.Total()
}

// Serve upgrades the request and streams the run's events until a
// terminal event arrives or the client goes away.
func (rl *Relay) Serve(w http.ResponseWriter, req *http.Request, runID string, kind event.ChannelKind) {
	conn, err := rl.upgrader.Upgrade(w, req, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "run_id", runID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	// subscribe before acking the connection so no event published after
	// the ack can be missed
	repo := status.New(rl.broker)
	if err := repo.SubscribeToChannel(ctx, runID, kind); err != nil {
		slog.Error("failed to subscribe to run channel", "run_id", runID, "kind", kind, "error", err)
		_ = conn.WriteJSON(frame{Type: "error", RunID: runID, Message: "failed to subscribe to status channel"})
		return
	}

	channel := event.ChannelName(runID, kind)
	rl.registry.Add(channel)
	defer rl.registry.Remove(channel)
	defer repo.CleanupChannel(context.WithoutCancel(ctx), runID, kind)

	if err := conn.WriteJSON(frame{Type: "connection_established", RunID: runID, Message: "Connected to status stream"}); err != nil {
		slog.Warn("failed to write connection ack", "run_id", runID, "error", err)
		return
	}

	slog.Info("relay connection opened", "run_id", runID, "kind", kind)

	// read pump: the client never sends data frames, but reading is the
	// only way to notice close frames and dead peers
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("relay connection closed by client", "run_id", runID, "kind", kind)
			return
		default:
		}

		ev := repo.GetMessage(ctx, runID, kind, rl.pollTimeout)
		if ev == nil {
			continue
		}

		if err := conn.WriteJSON(ev); err != nil {
			slog.Warn("failed to forward event", "run_id", runID, "error", err)
			return
		}

		if ev.Type.Terminal() {
			slog.Info("relay connection finished", "run_id", runID, "kind", kind, "final_event", ev.Type)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(ev.Type)),
				time.Now().Add(time.Second))
			return
		}
	}
}
