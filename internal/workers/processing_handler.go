package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tbelova/jobpilot/internal/event"
	"github.com/tbelova/jobpilot/internal/job"
	"github.com/tbelova/jobpilot/internal/models"
	"github.com/tbelova/jobpilot/internal/status"
)

// AgentStore is the slice of the repository the workers need.
type AgentStore interface {
	GetAgentByID(ctx context.Context, agentID uuid.UUID) (*models.Agent, error)
	GetResumeByID(ctx context.Context, id uuid.UUID) (*models.Resume, error)
	UpdateAgentStatus(ctx context.Context, agentID uuid.UUID, agentStatus string) error
}

// Indexer embeds a resume into the vector store.
type Indexer interface {
	IndexResume(ctx context.Context, userID, resumeID uuid.UUID, key string) (int, error)
}

// ProcessingHandler executes create_and_process jobs: it validates the
// agent's resume, indexes it, and moves the agent record through its
// status lifecycle. Each state change is persisted before the matching
// event is published, so a consumer that reads the record after seeing
// an event never observes an older state.
type ProcessingHandler struct {
	store      AgentStore
	indexer    Indexer
	statusRepo *status.Repository
}

func NewProcessingHandler(store AgentStore, indexer Indexer, statusRepo *status.Repository) *ProcessingHandler {
	return &ProcessingHandler{
		store:      store,
		indexer:    indexer,
		statusRepo: statusRepo,
	}
}

func (h *ProcessingHandler) HandleProcessJob(ctx context.Context, j *job.Job) error {
	if j.Kind != job.KindCreateAndProcess {
		return fmt.Errorf("unexpected job kind: %s", j.Kind)
	}

	var payload job.ProcessPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}

	agentID, err := uuid.Parse(payload.AgentID)
	if err != nil {
		return fmt.Errorf("invalid agent_id in payload: %w", err)
	}
	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		return fmt.Errorf("invalid user_id in payload: %w", err)
	}
	resumeID, err := uuid.Parse(payload.ResumeID)
	if err != nil {
		return fmt.Errorf("invalid resume_id in payload: %w", err)
	}

	runID := j.ID.String()
	defer h.statusRepo.CleanupChannel(ctx, runID, event.KindProcessing)

	if err := h.process(ctx, runID, agentID, userID, resumeID); err != nil {
		slog.Error("agent processing failed", "agent_id", agentID, "run_id", runID, "error", err)
		if updateErr := h.store.UpdateAgentStatus(ctx, agentID, models.AgentStatusFailed); updateErr != nil {
			slog.Error("failed to mark agent failed", "agent_id", agentID, "error", updateErr)
		}
		h.statusRepo.PublishEvent(ctx, runID, event.NewProcessingError(runID, models.AgentStatusFailed, err.Error()), event.KindProcessing)
		return err
	}

	return nil
}

func (h *ProcessingHandler) process(ctx context.Context, runID string, agentID, userID, resumeID uuid.UUID) error {
	if err := h.store.UpdateAgentStatus(ctx, agentID, models.AgentStatusInProgress); err != nil {
		return fmt.Errorf("failed to update agent status: %w", err)
	}
	h.statusRepo.PublishEvent(ctx, runID, event.NewProcessingStart(runID, models.AgentStatusInProgress), event.KindProcessing)

	resume, err := h.store.GetResumeByID(ctx, resumeID)
	if err != nil {
		return fmt.Errorf("failed to load resume %s: %w", resumeID, err)
	}
	if resume.UserID != userID {
		return fmt.Errorf("resume %s does not belong to user %s", resumeID, userID)
	}
	h.statusRepo.PublishEvent(ctx, runID, event.NewProcessingProgress(runID, models.AgentStatusInProgress, "validation"), event.KindProcessing)

	chunks, err := h.indexer.IndexResume(ctx, userID, resumeID, resume.S3Key)
	if err != nil {
		return fmt.Errorf("failed to index resume %s: %w", resumeID, err)
	}
	h.statusRepo.PublishEvent(ctx, runID, event.NewProcessingProgress(runID, models.AgentStatusInProgress, "embedding"), event.KindProcessing)

	if err := h.store.UpdateAgentStatus(ctx, agentID, models.AgentStatusCompleted); err != nil {
		return fmt.Errorf("failed to update agent status: %w", err)
	}
	h.statusRepo.PublishEvent(ctx, runID, event.NewProcessingComplete(runID, models.AgentStatusCompleted), event.KindProcessing)

	slog.Info("agent processing completed",
		"agent_id", agentID,
		"resume_id", resumeID,
		"run_id", runID,
		"chunks", chunks,
	)
	return nil
}
