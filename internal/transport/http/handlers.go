package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/tbelova/jobpilot/internal/auth"
	"github.com/tbelova/jobpilot/internal/common"
	"github.com/tbelova/jobpilot/internal/config"
	"github.com/tbelova/jobpilot/internal/event"
	"github.com/tbelova/jobpilot/internal/job"
	"github.com/tbelova/jobpilot/internal/memq"
	"github.com/tbelova/jobpilot/internal/models"
	"github.com/tbelova/jobpilot/internal/redis"
	"github.com/tbelova/jobpilot/internal/relay"
	"github.com/tbelova/jobpilot/internal/repository"
	"github.com/tbelova/jobpilot/internal/storage"
	"github.com/tbelova/jobpilot/internal/validation"
)

type Handlers struct {
	Q       memq.JobQueue
	Repo    *repository.Repository
	Storage storage.Storage
	Redis   *redis.Service
	Relay   *relay.Relay
	Config  config.Config
}

func (h *Handlers) Routers(r chi.Router) {
	// brute-force protection on the credential endpoints
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(20, time.Minute))
		r.Use(middleware.Timeout(60 * time.Second))

		r.Post("/v1/auth/register", h.register)
		r.Post("/v1/auth/login", h.login)
		r.Post("/v1/auth/refresh", h.refresh)
	})

	// the local backend serves its uploads straight from disk
	if h.Config.StorageMode == "local" || h.Config.StorageMode == "filesystem" {
		r.Get("/files/*", h.serveFiles)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.JWTMiddleware(h.Config.JWTSecret, h.Config.JWTIssuer))
		r.Use(middleware.Timeout(60 * time.Second))

		r.Post("/v1/auth/logout", h.logout)

		r.With(auth.RequirePerm(auth.PermResumeUpload)).Post("/v1/resumes", h.uploadResume)
		r.With(auth.RequirePerm(auth.PermResumeUpload)).Get("/v1/resumes", h.listResumes)
		r.With(auth.RequirePerm(auth.PermResumeUpload)).Get("/v1/resumes/{id}", h.getResume)

		r.With(auth.RequirePerm(auth.PermAgentManage)).Post("/v1/agents", h.createAgent)
		r.With(auth.RequirePerm(auth.PermAgentManage)).Get("/v1/agents", h.listAgents)
		r.With(auth.RequirePerm(auth.PermAgentManage)).Get("/v1/agents/{id}", h.getAgent)
		r.With(auth.RequirePerm(auth.PermAgentManage)).Patch("/v1/agents/{id}", h.updateAgent)
		r.With(auth.RequirePerm(auth.PermAgentManage)).Delete("/v1/agents/{id}", h.deleteAgent)

		r.With(auth.RequirePerm(auth.PermAgentRun)).Post("/v1/agents/run", h.runAgent)

		r.With(auth.RequirePerm(auth.PermJobReadOwn)).Get("/v1/jobs/{id}", h.getJob)
	})

	// websocket streams hold their connections open past any request
	// timeout, so they get their own group without one
	r.Group(func(r chi.Router) {
		r.Use(auth.JWTMiddleware(h.Config.JWTSecret, h.Config.JWTIssuer))

		r.With(auth.RequirePerm(auth.PermAgentRun)).Get("/v1/agents/stream/{run_id}", h.streamRun)
		r.With(auth.RequirePerm(auth.PermAgentManage)).Get("/v1/agents/processing/{task_id}", h.streamProcessing)
	})
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON parses the request body into dst, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// internalError logs the cause and hides it from the client.
func internalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "unique constraint") ||
		strings.Contains(err.Error(), "duplicate key")
}

// lookupRefreshUser maps a refresh token hash to its user. Any failure,
// from a missing Redis key to a malformed stored ID, reads as an invalid
// token to the caller.
func (h *Handlers) lookupRefreshUser(ctx context.Context, tokenHash string) (*models.User, error) {
	raw, err := h.Redis.GetRefreshTokenUserID(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("malformed user id in token store: %w", err)
	}
	return h.Repo.GetUserByID(ctx, userID)
}

// issueTokens mints an access/refresh pair for the user and records the
// refresh token in Redis (the live store) and Postgres (the audit trail).
func (h *Handlers) issueTokens(ctx context.Context, user *models.User) (*auth.TokenPair, error) {
	roleNames := make([]string, len(user.Roles))
	for i, role := range user.Roles {
		roleNames[i] = role.Name
	}

	tokens, err := auth.NewTokenPair(
		h.Config.JWTSecret,
		h.Config.JWTIssuer,
		user.ID,
		roleNames,
		h.Config.JWTTTLAccess,
		h.Config.JWTTTLRefresh,
	)
	if err != nil {
		return nil, err
	}

	tokenHash := h.Repo.HashRefreshToken(tokens.RefreshToken)
	if err := h.Redis.StoreRefreshToken(ctx, user.ID.String(), tokenHash, h.Config.JWTTTLRefresh); err != nil {
		return nil, err
	}

	record := &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: tokenHash,
		ExpiresAt: time.Now().Add(h.Config.JWTTTLRefresh),
	}
	if err := h.Repo.CreateRefreshToken(ctx, record); err != nil {
		slog.Error("failed to create refresh token record", "error", err)
	}

	return tokens, nil
}

func (h *Handlers) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	switch {
	case req.Username == "" || req.Email == "" || req.Password == "":
		http.Error(w, "username, email, and password are required", http.StatusBadRequest)
		return
	case !strings.Contains(req.Email, "@"):
		http.Error(w, "invalid email format", http.StatusBadRequest)
		return
	case len(req.Password) < 6:
		http.Error(w, "password must be at least 6 characters", http.StatusBadRequest)
		return
	}

	passwordHash, err := h.Repo.HashPassword(req.Password)
	if err != nil {
		internalError(w, "failed to hash password", err)
		return
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: passwordHash,
	}
	if err := h.Repo.CreateUser(r.Context(), user); err != nil {
		if isUniqueViolation(err) {
			http.Error(w, "username or email already exists", http.StatusConflict)
			return
		}
		internalError(w, "failed to create user", err)
		return
	}

	if err := h.Repo.AssignRoleToUser(r.Context(), user.ID, "user"); err != nil {
		internalError(w, "failed to assign role to user", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "user registered successfully",
		"user_id": user.ID,
	})
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.Repo.GetUserByEmail(r.Context(), req.Email)
	if err != nil || !h.Repo.CheckPassword(req.Password, user.PasswordHash) {
		slog.Warn("failed login attempt", "email", req.Email)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	tokens, err := h.issueTokens(r.Context(), user)
	if err != nil {
		internalError(w, "failed to issue tokens", err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		http.Error(w, "refresh_token is required", http.StatusBadRequest)
		return
	}

	oldHash := h.Repo.HashRefreshToken(req.RefreshToken)
	user, err := h.lookupRefreshUser(r.Context(), oldHash)
	if err != nil {
		slog.Warn("refresh token rejected", "error", err)
		http.Error(w, "invalid refresh token", http.StatusUnauthorized)
		return
	}

	// rotation: the presented token dies, the response carries its successor
	if err := h.Redis.RevokeRefreshToken(r.Context(), oldHash); err != nil {
		slog.Error("failed to revoke old refresh token", "error", err)
	}

	tokens, err := h.issueTokens(r.Context(), user)
	if err != nil {
		internalError(w, "failed to issue tokens", err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	// revoke in both stores; a failure in either still logs the user out
	if req.RefreshToken != "" {
		hash := h.Repo.HashRefreshToken(req.RefreshToken)
		if err := h.Redis.RevokeRefreshToken(r.Context(), hash); err != nil {
			slog.Error("failed to revoke refresh token", "error", err)
		}
		if err := h.Repo.RevokeRefreshToken(r.Context(), hash); err != nil {
			slog.Error("failed to revoke refresh token in db", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out successfully"})
}

func (h *Handlers) serveFiles(w http.ResponseWriter, r *http.Request) {
	filePath := strings.TrimPrefix(r.URL.Path, "/files/")
	if filePath == "" || strings.Contains(filePath, "..") {
		http.Error(w, "invalid file path", http.StatusBadRequest)
		return
	}
	http.ServeFile(w, r, filepath.Join(h.Config.LocalStorageDir, filePath))
}

// userIDFromContext resolves the authenticated user's UUID.
func userIDFromContext(r *http.Request) (uuid.UUID, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) uploadResume(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(validation.MaxResumeSize + 1<<20); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		http.Error(w, "a resume file is required", http.StatusBadRequest)
		return
	}
	fileHeader := files[0]

	file, err := fileHeader.Open()
	if err != nil {
		slog.Error("failed to open uploaded file", "filename", fileHeader.Filename, "error", err)
		http.Error(w, "failed to read file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	// sniff the first bytes for content-type validation
	head := make([]byte, 512)
	n, err := file.Read(head)
	if err != nil && err != io.EOF {
		http.Error(w, "failed to read file", http.StatusBadRequest)
		return
	}
	head = head[:n]
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		http.Error(w, "failed to read file", http.StatusBadRequest)
		return
	}

	if validationErrs := validation.ValidateResumeUpload(fileHeader, head); len(validationErrs) > 0 {
		writeValidationErrors(w, validationErrs)
		return
	}

	uploadResult, err := h.Storage.UploadFile(r.Context(), fileHeader.Filename, file, "application/pdf")
	if err != nil {
		slog.Error("failed to upload resume", "filename", fileHeader.Filename, "error", err)
		http.Error(w, "failed to store file", http.StatusInternalServerError)
		return
	}

	resume := &models.Resume{
		ID:               uuid.New(),
		UserID:           userID,
		OriginalFilename: fileHeader.Filename,
		FileSize:         fileHeader.Size,
		S3Key:            uploadResult.Key,
		S3URL:            uploadResult.URL,
	}

	if err := h.Repo.CreateResume(r.Context(), resume); err != nil {
		internalError(w, "failed to create resume record", err)
		return
	}

	slog.Info("resume uploaded", "resume_id", resume.ID, "user_id", userID, "size", resume.FileSize)

	writeJSON(w, http.StatusCreated, resume)
}

func (h *Handlers) listResumes(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}

	resumes, err := h.Repo.GetResumesByUserID(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list resumes", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, resumes)
}

func (h *Handlers) getResume(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}
	resumeID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "bad resume id", http.StatusBadRequest)
		return
	}

	resume, err := h.Repo.GetResumeByID(r.Context(), resumeID)
	if common.IsNotFound(err) {
		http.Error(w, "resume not found", http.StatusNotFound)
		return
	}
	if err != nil {
		internalError(w, "failed to load resume", err)
		return
	}
	if resume.UserID != userID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	writeJSON(w, http.StatusOK, resume)
}

// createAgent inserts the agent record in queued state and hands the
// validation and embedding work to the queue. The response carries the
// task_id the client can watch on the processing stream.
func (h *Handlers) createAgent(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}

	var req validation.AgentCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if validationErrs := validation.ValidateStruct(req); len(validationErrs) > 0 {
		writeValidationErrors(w, validationErrs)
		return
	}

	resumeID, err := uuid.Parse(req.ResumeID)
	if err != nil {
		http.Error(w, "invalid resume_id", http.StatusBadRequest)
		return
	}

	resume, err := h.Repo.GetResumeByID(r.Context(), resumeID)
	if err != nil {
		if errors.Is(err, common.ErrResumeNotFound) {
			http.Error(w, "resume not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to load resume", "resume_id", resumeID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if resume.UserID != userID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	agentRecord := &models.Agent{
		AgentID:      uuid.New(),
		UserID:       userID,
		Name:         req.Name,
		CurrResumeID: resumeID,
		Status:       models.AgentStatusQueued,
	}
	if req.Description != "" {
		agentRecord.Description = &req.Description
	}
	if req.CustomInstructions != "" {
		agentRecord.CustomInstructions = &req.CustomInstructions
	}

	if err := h.Repo.CreateAgent(r.Context(), agentRecord); err != nil {
		if isUniqueViolation(err) {
			http.Error(w, "an agent with this name already exists", http.StatusConflict)
			return
		}
		internalError(w, "failed to create agent", err)
		return
	}

	payload, err := json.Marshal(job.ProcessPayload{
		AgentID:  agentRecord.AgentID.String(),
		UserID:   userID.String(),
		ResumeID: resumeID.String(),
	})
	if err != nil {
		internalError(w, "failed to marshal process payload", err)
		return
	}

	j := &job.Job{
		Kind:    job.KindCreateAndProcess,
		Payload: payload,
	}
	taskID, err := h.Q.Enqueue(r.Context(), j)
	if err != nil {
		slog.Error("failed to enqueue processing job", "agent_id", agentRecord.AgentID, "error", err)
		http.Error(w, "enqueue failed", http.StatusServiceUnavailable)
		return
	}

	if err := h.Repo.UpdateAgentTaskID(r.Context(), agentRecord.AgentID, taskID.String()); err != nil {
		slog.Error("failed to store task id on agent", "agent_id", agentRecord.AgentID, "error", err)
	}

	slog.Info("agent created and queued for processing",
		"agent_id", agentRecord.AgentID,
		"task_id", taskID,
		"user_id", userID)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"agent_id": agentRecord.AgentID,
		"task_id":  taskID.String(),
		"status":   agentRecord.Status,
	})
}

func (h *Handlers) listAgents(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}

	agents, err := h.Repo.GetAgentsByUserID(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list agents", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, agents)
}

// loadOwnedAgent fetches an agent by path param and enforces ownership.
// Admins may read any agent.
func (h *Handlers) loadOwnedAgent(w http.ResponseWriter, r *http.Request) (*models.Agent, bool) {
	raw := chi.URLParam(r, "id")
	agentID, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return nil, false
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return nil, false
	}

	agentRecord, err := h.Repo.GetAgentByID(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, common.ErrAgentNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return nil, false
		}
		slog.Error("failed to get agent", "agent_id", agentID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}

	perms := auth.PermsForRoles(claims.Roles)
	if _, isAdmin := perms[auth.PermAdminAll]; !isAdmin {
		userID, err := uuid.Parse(claims.UserID)
		if err != nil || agentRecord.UserID != userID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return nil, false
		}
	}

	return agentRecord, true
}

func (h *Handlers) getAgent(w http.ResponseWriter, r *http.Request) {
	agentRecord, ok := h.loadOwnedAgent(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, agentRecord)
}

func (h *Handlers) updateAgent(w http.ResponseWriter, r *http.Request) {
	agentRecord, ok := h.loadOwnedAgent(w, r)
	if !ok {
		return
	}

	var req struct {
		Name               *string `json:"name,omitempty"`
		Description        *string `json:"description,omitempty"`
		CustomInstructions *string `json:"custom_instructions,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == nil && req.Description == nil && req.CustomInstructions == nil {
		http.Error(w, "nothing to update", http.StatusBadRequest)
		return
	}
	if req.Name != nil && (*req.Name == "" || len(*req.Name) > validation.MaxNameLength) {
		http.Error(w, "invalid name", http.StatusBadRequest)
		return
	}

	if err := h.Repo.UpdateAgent(r.Context(), agentRecord.AgentID, req.Name, req.Description, req.CustomInstructions); err != nil {
		if isUniqueViolation(err) {
			http.Error(w, "an agent with this name already exists", http.StatusConflict)
			return
		}
		slog.Error("failed to update agent", "agent_id", agentRecord.AgentID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	updated, err := h.Repo.GetAgentByID(r.Context(), agentRecord.AgentID)
	if err != nil {
		slog.Error("failed to reload agent", "agent_id", agentRecord.AgentID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *Handlers) deleteAgent(w http.ResponseWriter, r *http.Request) {
	agentRecord, ok := h.loadOwnedAgent(w, r)
	if !ok {
		return
	}

	if err := h.Repo.DeleteAgent(r.Context(), agentRecord.AgentID); err != nil {
		slog.Error("failed to delete agent", "agent_id", agentRecord.AgentID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// The worker owns the vector store, so chunk removal goes through
	// the queue. The agent row is already gone; a lost cleanup job only
	// leaves orphaned chunks behind.
	payload, err := json.Marshal(job.CleanupPayload{ResumeID: agentRecord.CurrResumeID.String()})
	if err != nil {
		slog.Warn("failed to marshal cleanup payload", "resume_id", agentRecord.CurrResumeID, "error", err)
	} else {
		j := &job.Job{
			Kind:    job.KindDeleteEmbeddings,
			Payload: payload,
		}
		if _, err := h.Q.Enqueue(r.Context(), j); err != nil {
			slog.Warn("failed to enqueue embedding cleanup", "resume_id", agentRecord.CurrResumeID, "error", err)
		}
	}

	slog.Info("agent deleted", "agent_id", agentRecord.AgentID)
	w.WriteHeader(http.StatusNoContent)
}

// runAgent enqueues a streaming run and returns the run_id the client
// connects to on the stream endpoint. Runs keep no durable record; the
// queue's job entry is the only place their status lives.
func (h *Handlers) runAgent(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}

	var req validation.AgentRunRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if validationErrs := validation.ValidateStruct(req); len(validationErrs) > 0 {
		writeValidationErrors(w, validationErrs)
		return
	}

	if req.AgentID != "" {
		agentID, err := uuid.Parse(req.AgentID)
		if err != nil {
			http.Error(w, "invalid agent_id", http.StatusBadRequest)
			return
		}
		agentRecord, err := h.Repo.GetAgentByID(r.Context(), agentID)
		if err != nil {
			if errors.Is(err, common.ErrAgentNotFound) {
				http.Error(w, "agent not found", http.StatusNotFound)
				return
			}
			slog.Error("failed to load agent", "agent_id", agentID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if agentRecord.UserID != userID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if agentRecord.Status != models.AgentStatusCompleted {
			http.Error(w, "agent is not ready", http.StatusConflict)
			return
		}
	}

	payload, err := json.Marshal(job.RunPayload{
		AgentID:   req.AgentID,
		UserID:    userID.String(),
		InputText: req.InputText,
	})
	if err != nil {
		internalError(w, "failed to marshal run payload", err)
		return
	}

	j := &job.Job{
		Kind:    job.KindRun,
		Payload: payload,
	}
	runID, err := h.Q.Enqueue(r.Context(), j)
	if err != nil {
		slog.Error("failed to enqueue run job", "error", err)
		http.Error(w, "enqueue failed", http.StatusServiceUnavailable)
		return
	}

	slog.Info("agent run enqueued", "run_id", runID, "user_id", userID)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": runID.String(),
		"status": string(j.Status),
	})
}

func (h *Handlers) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	j, ok := h.Q.Status(r.Context(), id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// streamRun upgrades to a websocket and relays the run's token-level
// progress events.
func (h *Handlers) streamRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if _, err := uuid.Parse(runID); err != nil {
		http.Error(w, "bad run_id", http.StatusBadRequest)
		return
	}
	h.Relay.Serve(w, r, runID, event.KindProgress)
}

// streamProcessing relays an agent's creation lifecycle events, keyed by
// the task_id returned from createAgent.
func (h *Handlers) streamProcessing(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if _, err := uuid.Parse(taskID); err != nil {
		http.Error(w, "bad task_id", http.StatusBadRequest)
		return
	}
	h.Relay.Serve(w, r, taskID, event.KindProcessing)
}

func writeValidationErrors(w http.ResponseWriter, errs validation.ValidationErrors) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":   "validation failed",
		"details": errs,
	})
}
