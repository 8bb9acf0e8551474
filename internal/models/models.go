package models

import (
	"time"

	"github.com/google/uuid"
)

// User carries the stored password hash; the json tags keep it out of
// every API response.
type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
	Roles        []Role    `json:"roles,omitempty"`
}

// Role names map to permission sets in the auth package; the database
// stores only the assignment.
type Role struct {
	ID          int       `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// RefreshToken is the audit row behind the live Redis copy. RevokedAt is
// set on rotation and on logout.
type RefreshToken struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	UserID    uuid.UUID  `json:"user_id" db:"user_id"`
	TokenHash string     `json:"-" db:"token_hash"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// Resume is an uploaded document, stored in the object store and owned by
// exactly one user.
type Resume struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"user_id,omitempty"`
	OriginalFilename string    `json:"original_filename"`
	FileSize         int64     `json:"file_size,omitempty"`
	S3Key            string    `json:"s3_key"`
	S3URL            string    `json:"s3_url,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Agent is a named assistant bound to one of the owner's resumes. Status is
// the durable record of the create-and-process workflow: set to queued at
// row creation, then mutated only by the executor that owns the job, never
// out of a terminal state.
type Agent struct {
	AgentID            uuid.UUID `json:"agent_id"`
	UserID             uuid.UUID `json:"user_id,omitempty"`
	Name               string    `json:"name"`
	Description        *string   `json:"description,omitempty"`
	CustomInstructions *string   `json:"custom_instructions,omitempty"`
	CurrResumeID       uuid.UUID `json:"curr_resume_id"`
	TaskID             *string   `json:"task_id,omitempty"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

const (
	AgentStatusQueued     = "queued"
	AgentStatusInProgress = "in_progress"
	AgentStatusCompleted  = "completed"
	AgentStatusFailed     = "failed"
)
