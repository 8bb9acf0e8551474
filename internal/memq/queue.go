package memq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tbelova/jobpilot/internal/job"
)

// JobHandler executes one job. The context carries the per-job deadline.
type JobHandler func(ctx context.Context, j *job.Job) error

// JobQueue is the dispatch contract shared by the in-memory queue and the
// Redis Streams queue. Enqueue assigns the job ID that doubles as the
// run_id; Status answers the job-inspection endpoint.
type JobQueue interface {
	Enqueue(ctx context.Context, j *job.Job) (uuid.UUID, error)
	Status(ctx context.Context, id uuid.UUID) (*job.Job, bool)
	StartConsumers(ctx context.Context, n int, handler JobHandler)
	Len() int
	Close() error
}

// memQueue is the single-process JobQueue used in development and tests.
type memQueue struct {
	pending    chan *job.Job
	jobTimeout time.Duration

	mu   sync.RWMutex
	byID map[uuid.UUID]*job.Job
}

func NewMemoryQueue(buffer int, jobTimeout time.Duration) JobQueue {
	return &memQueue{
		pending:    make(chan *job.Job, buffer),
		jobTimeout: jobTimeout,
		byID:       make(map[uuid.UUID]*job.Job, buffer),
	}
}

func (q *memQueue) Enqueue(ctx context.Context, j *job.Job) (uuid.UUID, error) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.Status = job.StatusQueued
	j.Enqueued = time.Now()

	// the queue owns its copy; the caller's struct is never touched again
	owned := *j
	select {
	case q.pending <- &owned:
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	}

	q.mu.Lock()
	q.byID[owned.ID] = &owned
	q.mu.Unlock()
	return owned.ID, nil
}

// Status returns a snapshot of the job. Consumers keep mutating the stored
// Job, so the live pointer must not escape the lock.
func (q *memQueue) Status(ctx context.Context, id uuid.UUID) (*job.Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	j, ok := q.byID[id]
	if !ok {
		return nil, false
	}
	snap := *j
	return &snap, true
}

func (q *memQueue) StartConsumers(ctx context.Context, n int, handler JobHandler) {
	for i := 1; i <= n; i++ {
		go q.consume(ctx, i, handler)
	}
}

func (q *memQueue) consume(ctx context.Context, workerID int, handler JobHandler) {
	for {
		var j *job.Job
		select {
		case <-ctx.Done():
			return
		case j = <-q.pending:
		}

		started := time.Now()
		q.update(j, func() {
			j.Status = job.StatusInProgress
			j.Started = &started
		})

		runCtx, cancel := context.WithTimeout(ctx, q.jobTimeout)
		err := handler(runCtx, j)
		cancel()

		finished := time.Now()
		q.update(j, func() {
			j.Finished = &finished
			if err != nil {
				j.Status = job.StatusFailed
				j.Error = err.Error()
			} else {
				j.Status = job.StatusCompleted
			}
		})

		if err != nil {
			slog.Error("job failed", "id", j.ID, "kind", j.Kind, "err", err, "worker", workerID)
		} else {
			slog.Info("job done", "id", j.ID, "kind", j.Kind, "worker", workerID)
		}
	}
}

// update serializes job mutations against Status readers.
func (q *memQueue) update(j *job.Job, fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn()
}

func (q *memQueue) Len() int {
	return len(q.pending)
}

func (q *memQueue) Close() error {
	return nil
}
