package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tbelova/jobpilot/internal/job"
	"github.com/tbelova/jobpilot/internal/memq"
)

const (
	readBlock     = 5 * time.Second
	maxRetries    = 3
	deadLetterSfx = ":deadletter"
	recordSfx     = ":record:"
)

// RedisQueue implements JobQueue using Redis Streams. Jobs are produced by
// the API process and consumed by worker processes, so job state is
// mirrored into plain Redis keys on every transition: the producer can
// observe queued/in_progress/terminal states without sharing memory with
// the consumer.
type RedisQueue struct {
	client        *redis.Client
	stream        string
	group         string
	maxWait       time.Duration
	claimInterval time.Duration // how often to check for stuck jobs
	claimTimeout  time.Duration // consider job stuck after this duration
	recordTTL     time.Duration

	mu      sync.RWMutex
	jobs    map[uuid.UUID]*job.Job // local cache, fast path for same-process lookups
	wg      sync.WaitGroup
	closing chan struct{}
}

type RedisQueueConfig struct {
	Stream        string
	Group         string
	MaxJobTime    time.Duration
	ClaimInterval time.Duration
	ClaimTimeout  time.Duration
	RecordTTL     time.Duration
}

func DefaultConfig() RedisQueueConfig {
	return RedisQueueConfig{
		Stream:        "jobpilot:jobs",
		Group:         "workers",
		MaxJobTime:    5 * time.Minute,
		ClaimInterval: 10 * time.Second,
		ClaimTimeout:  60 * time.Second,
		RecordTTL:     24 * time.Hour,
	}
}

func NewRedisQueue(client *redis.Client, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.RecordTTL == 0 {
		cfg.RecordTTL = 24 * time.Hour
	}
	q := &RedisQueue{
		client:        client,
		stream:        cfg.Stream,
		group:         cfg.Group,
		maxWait:       cfg.MaxJobTime,
		claimInterval: cfg.ClaimInterval,
		claimTimeout:  cfg.ClaimTimeout,
		recordTTL:     cfg.RecordTTL,
		jobs:          make(map[uuid.UUID]*job.Job),
		closing:       make(chan struct{}),
	}

	err := q.client.XGroupCreateMkStream(context.Background(), q.stream, q.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	slog.Info("redis queue initialized",
		"stream", q.stream,
		"group", q.group,
		"max_job_time", q.maxWait,
		"claim_timeout", q.claimTimeout)

	return q, nil
}

func (q *RedisQueue) recordKey(id uuid.UUID) string {
	return q.stream + recordSfx + id.String()
}

func (q *RedisQueue) deadLetterStream() string {
	return q.stream + deadLetterSfx
}

// persistJob writes the job's current state to its Redis record and the
// local cache. Best-effort on the Redis side: a failed write only degrades
// cross-process status lookups.
// persistJob caches an immutable snapshot of the job and mirrors it to a
// plain Redis key. The snapshot matters: execute keeps mutating its Job
// between persist calls, and Status hands cache entries to other
// goroutines.
func (q *RedisQueue) persistJob(ctx context.Context, j *job.Job) {
	snap := *j
	q.mu.Lock()
	q.jobs[snap.ID] = &snap
	q.mu.Unlock()

	data, err := json.Marshal(&snap)
	if err != nil {
		slog.Error("failed to marshal job record", "job_id", snap.ID, "error", err)
		return
	}
	if err := q.client.Set(ctx, q.recordKey(snap.ID), data, q.recordTTL).Err(); err != nil {
		slog.Warn("failed to persist job record", "job_id", snap.ID, "error", err)
	}
}

// Enqueue adds a job to the queue. The returned id is assigned here, at
// enqueue time, and is the run_id every event of this job will carry.
func (q *RedisQueue) Enqueue(ctx context.Context, j *job.Job) (uuid.UUID, error) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.Status = job.StatusQueued
	j.Enqueued = time.Now()

	data, err := json.Marshal(j)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{"id": j.ID.String(), "data": string(data)},
	}).Err(); err != nil {
		return uuid.Nil, fmt.Errorf("failed to add job to stream: %w", err)
	}

	// make the queued state observable before any consumer runs
	q.persistJob(ctx, j)

	slog.Debug("job enqueued", "job_id", j.ID, "kind", j.Kind)
	return j.ID, nil
}

// Status returns the current state of a job, reading the Redis record when
// the job is not in the local cache (i.e. it is being executed by another
// process). Cache entries are the immutable snapshots persistJob stores,
// so they are safe to return directly.
func (q *RedisQueue) Status(ctx context.Context, id uuid.UUID) (*job.Job, bool) {
	q.mu.RLock()
	j, ok := q.jobs[id]
	q.mu.RUnlock()
	if ok && j.Status.Terminal() {
		return j, true
	}

	data, err := q.client.Get(ctx, q.recordKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("failed to read job record", "job_id", id, "error", err)
		}
		return j, ok
	}

	var stored job.Job
	if err := json.Unmarshal(data, &stored); err != nil {
		slog.Warn("failed to unmarshal job record", "job_id", id, "error", err)
		return j, ok
	}
	return &stored, true
}

// Len returns the consumer group's pending entry count, an approximation
// of the backlog.
func (q *RedisQueue) Len() int {
	groups, err := q.client.XInfoGroups(context.Background(), q.stream).Result()
	if err != nil {
		return 0
	}
	for _, g := range groups {
		if g.Name == q.group {
			return int(g.Pending)
		}
	}
	return 0
}

// StartConsumers starts n consumer goroutines plus the claimer that
// recovers jobs stuck on dead consumers.
func (q *RedisQueue) StartConsumers(ctx context.Context, n int, handler memq.JobHandler) {
	for i := 1; i <= n; i++ {
		q.wg.Add(1)
		go q.consume(ctx, fmt.Sprintf("worker-%d", i), handler)
	}

	q.wg.Add(1)
	go q.claimLoop(ctx, handler)

	slog.Info("started queue consumers", "count", n)
}

func (q *RedisQueue) consume(ctx context.Context, consumer string, handler memq.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			slog.Info("consumer shutting down", "consumer", consumer)
			return
		case <-q.closing:
			slog.Info("consumer closed", "consumer", consumer)
			return
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			slog.Error("failed to read from stream", "error", err, "consumer", consumer)
			time.Sleep(time.Second)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				q.execute(ctx, msg, handler, consumer)
			}
		}
	}
}

func (q *RedisQueue) claimLoop(ctx context.Context, handler memq.JobHandler) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closing:
			return
		case <-ticker.C:
			q.claimStuck(ctx, handler)
		}
	}
}

// claimStuck reclaims pending entries idle past claimTimeout. Redelivery
// is at-least-once: a reclaimed job whose original consumer is merely slow
// can end up with two executors for the same run_id. That risk is accepted
// rather than fenced with a lease; duplicate terminal events are possible
// on the job's channel.
func (q *RedisQueue) claimStuck(ctx context.Context, handler memq.JobHandler) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Error("failed to list pending entries", "error", err)
		}
		return
	}

	for _, p := range pending {
		if p.Idle < q.claimTimeout {
			continue
		}

		msgs, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: "claimer",
			MinIdle:  q.claimTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			slog.Error("failed to claim stuck job", "message_id", p.ID, "error", err)
			continue
		}

		for _, msg := range msgs {
			slog.Warn("reclaimed stuck job",
				"message_id", msg.ID,
				"idle_time", p.Idle,
				"retry_count", p.RetryCount)

			if p.RetryCount > maxRetries {
				q.toDeadLetter(ctx, msg, fmt.Sprintf("exceeded max retries: %d", p.RetryCount))
				continue
			}

			go q.execute(ctx, msg, handler, "claimer")
		}
	}
}

// execute runs one stream message through the handler and persists every
// state transition. The in_progress write lands before the handler starts.
func (q *RedisQueue) execute(ctx context.Context, msg redis.XMessage, handler memq.JobHandler, consumer string) {
	defer q.ack(ctx, msg.ID)

	data, ok := msg.Values["data"].(string)
	if !ok {
		slog.Error("malformed stream message", "message_id", msg.ID)
		return
	}

	var j job.Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		slog.Error("failed to unmarshal job", "message_id", msg.ID, "error", err)
		return
	}

	started := time.Now()
	j.Status = job.StatusInProgress
	j.Started = &started
	q.persistJob(ctx, &j)

	slog.Info("processing job", "job_id", j.ID, "kind", j.Kind, "consumer", consumer)

	runCtx, cancel := context.WithTimeout(ctx, q.maxWait)
	err := handler(runCtx, &j)
	cancel()

	finished := time.Now()
	j.Finished = &finished
	if err != nil {
		j.Status = job.StatusFailed
		j.Error = err.Error()
	} else {
		j.Status = job.StatusCompleted
	}
	q.persistJob(ctx, &j)

	if err != nil {
		slog.Error("job failed", "job_id", j.ID, "kind", j.Kind, "error", err, "consumer", consumer)
		return
	}
	slog.Info("job completed", "job_id", j.ID, "kind", j.Kind, "consumer", consumer,
		"duration", finished.Sub(started))
}

func (q *RedisQueue) toDeadLetter(ctx context.Context, msg redis.XMessage, reason string) {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.deadLetterStream(),
		Values: map[string]any{
			"original_id": msg.ID,
			"data":        msg.Values["data"],
			"reason":      reason,
			"moved_at":    time.Now().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		slog.Error("failed to move to dead letter", "message_id", msg.ID, "error", err)
	} else {
		slog.Warn("moved job to dead letter stream", "message_id", msg.ID, "reason", reason)
	}

	q.ack(ctx, msg.ID)
}

func (q *RedisQueue) ack(ctx context.Context, messageID string) {
	if err := q.client.XAck(ctx, q.stream, q.group, messageID).Err(); err != nil {
		slog.Error("failed to ack message", "message_id", messageID, "error", err)
	}
}

// Close stops the consumers and waits for in-flight jobs.
func (q *RedisQueue) Close() error {
	close(q.closing)
	q.wg.Wait()
	slog.Info("queue closed")
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// DeadLetterCount returns the number of entries parked in the dead letter
// stream.
func (q *RedisQueue) DeadLetterCount(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.deadLetterStream()).Result()
}

// RetryDeadLetter moves one dead letter entry back onto the main stream.
func (q *RedisQueue) RetryDeadLetter(ctx context.Context, messageID string) error {
	msgs, err := q.client.XRange(ctx, q.deadLetterStream(), messageID, messageID).Result()
	if err != nil {
		return fmt.Errorf("failed to read dead letter message: %w", err)
	}
	if len(msgs) == 0 {
		return fmt.Errorf("message not found: %s", messageID)
	}

	msg := msgs[0]
	data, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("malformed dead letter message")
	}

	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{"id": msg.Values["original_id"], "data": data},
	}).Err(); err != nil {
		return fmt.Errorf("failed to re-add job: %w", err)
	}

	if err := q.client.XDel(ctx, q.deadLetterStream(), messageID).Err(); err != nil {
		slog.Warn("failed to delete from dead letter", "message_id", messageID, "error", err)
	}
	return nil
}
