package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tbelova/jobpilot/internal/agent"
	"github.com/tbelova/jobpilot/internal/event"
	"github.com/tbelova/jobpilot/internal/job"
	"github.com/tbelova/jobpilot/internal/status"
)

// AgentRunner executes one streaming conversation.
type AgentRunner interface {
	Run(ctx context.Context, in agent.Input, emit agent.EmitFunc) (string, error)
}

// RunHandler executes run jobs: it streams an agent conversation and
// republishes every emitted event on the run's progress channel. The
// stream always ends with exactly one terminal event, agent_complete or
// agent_error.
type RunHandler struct {
	store      AgentStore
	runner     AgentRunner
	statusRepo *status.Repository
}

func NewRunHandler(store AgentStore, runner AgentRunner, statusRepo *status.Repository) *RunHandler {
	return &RunHandler{
		store:      store,
		runner:     runner,
		statusRepo: statusRepo,
	}
}

func (h *RunHandler) HandleRunJob(ctx context.Context, j *job.Job) error {
	if j.Kind != job.KindRun {
		return fmt.Errorf("unexpected job kind: %s", j.Kind)
	}

	var payload job.RunPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}

	runID := j.ID.String()
	defer h.statusRepo.CleanupChannel(ctx, runID, event.KindProgress)

	in := agent.Input{
		RunID:     runID,
		InputText: payload.InputText,
	}

	if payload.AgentID != "" {
		agentID, err := uuid.Parse(payload.AgentID)
		if err != nil {
			return h.fail(ctx, runID, fmt.Errorf("invalid agent_id in payload: %w", err))
		}
		rec, err := h.store.GetAgentByID(ctx, agentID)
		if err != nil {
			return h.fail(ctx, runID, fmt.Errorf("failed to load agent %s: %w", agentID, err))
		}
		in.AgentName = rec.Name
		in.ResumeID = rec.CurrResumeID
		if rec.CustomInstructions != nil {
			in.CustomInstructions = *rec.CustomInstructions
		}
	}

	emit := func(ev *event.Event) {
		h.statusRepo.PublishEvent(ctx, runID, ev, event.KindProgress)
	}

	final, err := h.runner.Run(ctx, in, emit)
	if err != nil {
		return h.fail(ctx, runID, err)
	}

	h.statusRepo.PublishEvent(ctx, runID, event.NewAgentComplete(runID, final), event.KindProgress)

	slog.Info("agent run completed", "run_id", runID, "output_length", len(final))
	return nil
}

// fail publishes the terminal agent_error event and propagates the error
// so the queue records the job as failed.
func (h *RunHandler) fail(ctx context.Context, runID string, err error) error {
	slog.Error("agent run failed", "run_id", runID, "error", err)
	h.statusRepo.PublishEvent(ctx, runID, event.NewAgentError(runID, err.Error(), errorType(err)), event.KindProgress)
	return err
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "run_error"
	}
}
