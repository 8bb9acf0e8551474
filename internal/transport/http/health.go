package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/tbelova/jobpilot/internal/queue"
)

// queueBacklogThreshold is the pending-job count above which readiness
// reports the queue as degraded.
const queueBacklogThreshold = 500

// HealthStatus is the health check response body.
type HealthStatus struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Checks    map[string]Check `json:"checks,omitempty"`
	System    *SystemInfo      `json:"system,omitempty"`
}

// Check is a single dependency check result.
type Check struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// SystemInfo carries process-level runtime stats.
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	MemAlloc     uint64 `json:"mem_alloc_mb"`
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// Health returns a liveness response without touching any dependency,
// cheap enough for a load balancer to poll.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready checks every dependency the request path needs. The database is
// load-bearing for agent and resume endpoints, so its failure makes the
// whole service unhealthy; Redis failure only degrades it because the
// in-memory queue and broker keep single-process setups running.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	overall := StatusHealthy

	dbCheck := h.checkDatabase(ctx)
	checks["database"] = dbCheck
	if dbCheck.Status != StatusHealthy {
		overall = StatusUnhealthy
	}

	redisCheck := h.checkRedis(ctx)
	checks["redis"] = redisCheck
	if redisCheck.Status != StatusHealthy && overall == StatusHealthy {
		overall = StatusDegraded
	}

	queueCheck := h.checkQueue(ctx)
	checks["queue"] = queueCheck
	if queueCheck.Status != StatusHealthy && overall == StatusHealthy {
		overall = StatusDegraded
	}

	checks["relay"] = Check{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("open streams: %d", h.Relay.Connections()),
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := HealthStatus{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		System: &SystemInfo{
			GoVersion:    runtime.Version(),
			NumGoroutine: runtime.NumGoroutine(),
			NumCPU:       runtime.NumCPU(),
			MemAlloc:     memStats.Alloc / 1024 / 1024,
		},
	}

	code := http.StatusOK
	if overall == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (h *Handlers) checkDatabase(ctx context.Context) Check {
	start := time.Now()
	err := h.Repo.DB().Pool().Ping(ctx)
	duration := time.Since(start)

	if err != nil {
		return Check{Status: StatusUnhealthy, Message: err.Error(), Duration: duration.String()}
	}
	return Check{Status: StatusHealthy, Message: "connection successful", Duration: duration.String()}
}

func (h *Handlers) checkRedis(ctx context.Context) Check {
	start := time.Now()
	err := h.Redis.Client().Ping(ctx).Err()
	duration := time.Since(start)

	if err != nil {
		return Check{Status: StatusUnhealthy, Message: err.Error(), Duration: duration.String()}
	}
	return Check{Status: StatusHealthy, Message: "connection successful", Duration: duration.String()}
}

func (h *Handlers) checkQueue(ctx context.Context) Check {
	pending := h.Q.Len()
	if pending > queueBacklogThreshold {
		return Check{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("queue backlog detected (pending: %d)", pending),
		}
	}

	if rq, ok := h.Q.(*queue.RedisQueue); ok {
		if parked, err := rq.DeadLetterCount(ctx); err == nil && parked > 0 {
			return Check{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("dead letter entries: %d (pending: %d)", parked, pending),
			}
		}
	}

	return Check{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("queue operational (pending: %d)", pending),
	}
}
