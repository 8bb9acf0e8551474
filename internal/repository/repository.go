package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/tbelova/jobpilot/internal/common"
	"github.com/tbelova/jobpilot/internal/database"
	"github.com/tbelova/jobpilot/internal/models"
)

type Repository struct {
	db *database.DB
}

func New(db *database.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle for health checks.
func (r *Repository) DB() *database.DB {
	return r.db
}

func (r *Repository) CreateResume(ctx context.Context, resume *models.Resume) error {
	if resume.ID == uuid.Nil {
		resume.ID = uuid.New()
	}

	query := `
		INSERT INTO resumes (id, user_id, original_filename, file_size, s3_key, s3_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`

	_, err := r.db.Pool().Exec(ctx, query,
		resume.ID,
		resume.UserID,
		resume.OriginalFilename,
		resume.FileSize,
		resume.S3Key,
		resume.S3URL,
	)
	return err
}

func (r *Repository) GetResumeByID(ctx context.Context, id uuid.UUID) (*models.Resume, error) {
	query := `
		SELECT id, user_id, original_filename, file_size, s3_key, s3_url, created_at
		FROM resumes
		WHERE id = $1
	`

	var resume models.Resume
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&resume.ID,
		&resume.UserID,
		&resume.OriginalFilename,
		&resume.FileSize,
		&resume.S3Key,
		&resume.S3URL,
		&resume.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrResumeNotFound
		}
		return nil, err
	}

	return &resume, nil
}

func (r *Repository) GetResumesByUserID(ctx context.Context, userID uuid.UUID) ([]models.Resume, error) {
	query := `
		SELECT id, user_id, original_filename, file_size, s3_key, s3_url, created_at
		FROM resumes
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resumes []models.Resume
	for rows.Next() {
		var resume models.Resume
		err := rows.Scan(
			&resume.ID,
			&resume.UserID,
			&resume.OriginalFilename,
			&resume.FileSize,
			&resume.S3Key,
			&resume.S3URL,
			&resume.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		resumes = append(resumes, resume)
	}

	return resumes, rows.Err()
}

func (r *Repository) CreateAgent(ctx context.Context, agent *models.Agent) error {
	if agent.AgentID == uuid.Nil {
		agent.AgentID = uuid.New()
	}
	if agent.Status == "" {
		agent.Status = models.AgentStatusQueued
	}

	query := `
		INSERT INTO agents (agent_id, user_id, name, description, custom_instructions, curr_resume_id, task_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`

	var description, instructions sql.NullString
	if agent.Description != nil {
		description = sql.NullString{String: *agent.Description, Valid: true}
	}
	if agent.CustomInstructions != nil {
		instructions = sql.NullString{String: *agent.CustomInstructions, Valid: true}
	}
	var taskID sql.NullString
	if agent.TaskID != nil {
		taskID = sql.NullString{String: *agent.TaskID, Valid: true}
	}

	_, err := r.db.Pool().Exec(ctx, query,
		agent.AgentID,
		agent.UserID,
		agent.Name,
		description,
		instructions,
		agent.CurrResumeID,
		taskID,
		agent.Status,
	)
	return err
}

const agentColumns = `agent_id, user_id, name, description, custom_instructions, curr_resume_id, task_id, status, created_at, updated_at`

// scanAgent maps one agents row, converting nullable columns to pointers.
func scanAgent(row pgx.Row) (*models.Agent, error) {
	var agent models.Agent
	var description, instructions, taskID sql.NullString

	if err := row.Scan(
		&agent.AgentID, &agent.UserID, &agent.Name,
		&description, &instructions,
		&agent.CurrResumeID, &taskID, &agent.Status,
		&agent.CreatedAt, &agent.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if description.Valid {
		agent.Description = &description.String
	}
	if instructions.Valid {
		agent.CustomInstructions = &instructions.String
	}
	if taskID.Valid {
		agent.TaskID = &taskID.String
	}
	return &agent, nil
}

func (r *Repository) GetAgentByID(ctx context.Context, agentID uuid.UUID) (*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE agent_id = $1`

	agent, err := scanAgent(r.db.Pool().QueryRow(ctx, query, agentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

func (r *Repository) GetAgentsByUserID(ctx context.Context, userID uuid.UUID) ([]models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}

	return agents, rows.Err()
}

// UpdateAgentStatus persists a status transition. Terminal states are
// final: the WHERE clause refuses to move an agent out of completed or
// failed, so a duplicate executor cannot resurrect a finished job record.
func (r *Repository) UpdateAgentStatus(ctx context.Context, agentID uuid.UUID, status string) error {
	query := `
		UPDATE agents
		SET status = $2, updated_at = NOW()
		WHERE agent_id = $1 AND status NOT IN ($3, $4)
	`

	tag, err := r.db.Pool().Exec(ctx, query, agentID, status,
		models.AgentStatusCompleted, models.AgentStatusFailed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %s: no non-terminal row to update", agentID)
	}
	return nil
}

func (r *Repository) UpdateAgentTaskID(ctx context.Context, agentID uuid.UUID, taskID string) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE agents SET task_id = $2, updated_at = NOW() WHERE agent_id = $1`,
		agentID, taskID)
	return err
}

// UpdateAgent patches only the fields the caller sent; nil pointers keep
// the stored value via COALESCE.
func (r *Repository) UpdateAgent(ctx context.Context, agentID uuid.UUID, name, description, instructions *string) error {
	query := `
		UPDATE agents SET
			name = COALESCE($2, name),
			description = COALESCE($3, description),
			custom_instructions = COALESCE($4, custom_instructions),
			updated_at = NOW()
		WHERE agent_id = $1`
	_, err := r.db.Pool().Exec(ctx, query, agentID, name, description, instructions)
	return err
}

func (r *Repository) DeleteAgent(ctx context.Context, agentID uuid.UUID) error {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM agents WHERE agent_id = $1`, agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return common.ErrAgentNotFound
	}
	return nil
}

func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	_, err := r.db.Pool().Exec(ctx,
		`INSERT INTO users (id, username, email, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())`,
		user.ID, user.Username, user.Email, user.PasswordHash)
	return err
}

// getUser loads a user row by the given column and attaches their roles.
func (r *Repository) getUser(ctx context.Context, column string, value any) (*models.User, error) {
	query := fmt.Sprintf(`
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM users
		WHERE %s = $1
	`, column)

	var user models.User
	err := r.db.Pool().QueryRow(ctx, query, value).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	user.Roles, err = r.GetUserRoles(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	return &user, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getUser(ctx, "email", email)
}

func (r *Repository) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return r.getUser(ctx, "id", userID)
}

func (r *Repository) GetUserRoles(ctx context.Context, userID uuid.UUID) ([]models.Role, error) {
	query := `
		SELECT r.id, r.name, r.description, r.created_at
		FROM roles r
		JOIN user_roles ur ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []models.Role
	for rows.Next() {
		var role models.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *Repository) AssignRoleToUser(ctx context.Context, userID uuid.UUID, roleName string) error {
	query := `
		INSERT INTO user_roles (user_id, role_id)
		SELECT $1, id FROM roles WHERE name = $2
		ON CONFLICT (user_id, role_id) DO NOTHING
	`
	_, err := r.db.Pool().Exec(ctx, query, userID, roleName)
	return err
}

func (r *Repository) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (r *Repository) CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CreateRefreshToken records an issued refresh token. The live copy lives
// in Redis; this row is the audit trail.
func (r *Repository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	query := `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	_, err := r.db.Pool().Exec(ctx, query, token.ID, token.UserID, token.TokenHash, token.ExpiresAt)
	return err
}

func (r *Repository) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	query := `UPDATE refresh_tokens SET revoked_at = NOW() WHERE token_hash = $1`
	_, err := r.db.Pool().Exec(ctx, query, tokenHash)
	return err
}

// HashRefreshToken derives the storage key for an opaque refresh token.
func (r *Repository) HashRefreshToken(token string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(token)))
}
