package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tbelova/jobpilot/internal/job"
)

// EmbeddingDeleter removes every stored chunk belonging to a resume.
type EmbeddingDeleter interface {
	DeleteResume(ctx context.Context, resumeID uuid.UUID) error
}

// CleanupHandler executes delete_embeddings jobs. The worker is the only
// process holding the vector store open, so the API enqueues deletes
// here instead of touching the store itself.
type CleanupHandler struct {
	embeddings EmbeddingDeleter
}

func NewCleanupHandler(embeddings EmbeddingDeleter) *CleanupHandler {
	return &CleanupHandler{embeddings: embeddings}
}

func (h *CleanupHandler) HandleCleanupJob(ctx context.Context, j *job.Job) error {
	if j.Kind != job.KindDeleteEmbeddings {
		return fmt.Errorf("unexpected job kind: %s", j.Kind)
	}

	var payload job.CleanupPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}

	resumeID, err := uuid.Parse(payload.ResumeID)
	if err != nil {
		return fmt.Errorf("invalid resume_id in payload: %w", err)
	}

	if err := h.embeddings.DeleteResume(ctx, resumeID); err != nil {
		return fmt.Errorf("failed to delete embeddings for resume %s: %w", resumeID, err)
	}

	slog.Info("resume embeddings deleted", "resume_id", resumeID)
	return nil
}
