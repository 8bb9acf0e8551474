package job

import (
	"time"

	uuid "github.com/google/uuid"
)

type Kind string

const (
	// KindRun is a streaming agent run without a durable record.
	KindRun Kind = "run"
	// KindCreateAndProcess validates and embeds a newly created agent,
	// tracked by a durable agent record.
	KindCreateAndProcess Kind = "create_and_process"
	// KindDeleteEmbeddings removes a resume's chunks from the vector
	// store. The worker owns the store, so deletes go through the queue.
	KindDeleteEmbeddings Kind = "delete_embeddings"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one unit of asynchronous work. The ID is assigned by the queue at
// enqueue time and doubles as the run_id correlating every event the
// executor publishes for it.
type Job struct {
	ID       uuid.UUID  `json:"id"`
	Kind     Kind       `json:"kind"`
	Payload  []byte     `json:"payload"`
	Status   Status     `json:"status"`
	Error    string     `json:"error,omitempty"`
	Enqueued time.Time  `json:"enqueued_at"`
	Started  *time.Time `json:"started_at,omitempty"`
	Finished *time.Time `json:"finished_at,omitempty"`
}

// RunPayload is the payload of a KindRun job.
type RunPayload struct {
	AgentID   string `json:"agent_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	InputText string `json:"input_text"`
}

// ProcessPayload is the payload of a KindCreateAndProcess job.
type ProcessPayload struct {
	AgentID  string `json:"agent_id"`
	UserID   string `json:"user_id"`
	ResumeID string `json:"resume_id"`
}

// CleanupPayload is the payload of a KindDeleteEmbeddings job.
type CleanupPayload struct {
	ResumeID string `json:"resume_id"`
}
