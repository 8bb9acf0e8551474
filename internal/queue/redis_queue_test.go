package queue

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tbelova/jobpilot/internal/job"
)

func getTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Skipf("Skipping Redis queue test: invalid Redis URL: %v", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping Redis queue test: Redis not available: %v", err)
	}

	t.Cleanup(func() { client.Close() })
	return client
}

// newTestQueue builds a queue on a unique stream and registers cleanup for
// the stream, its record keys and the consumer group.
func newTestQueue(t *testing.T, client *redis.Client, cfg RedisQueueConfig) *RedisQueue {
	t.Helper()
	if cfg.Stream == "" {
		cfg.Stream = "test:jobs:" + uuid.New().String()[:8]
	}
	if cfg.Group == "" {
		cfg.Group = "test-workers"
	}
	if cfg.MaxJobTime == 0 {
		cfg.MaxJobTime = 5 * time.Second
	}
	if cfg.ClaimInterval == 0 {
		cfg.ClaimInterval = 10 * time.Second
	}
	if cfg.ClaimTimeout == 0 {
		cfg.ClaimTimeout = 30 * time.Second
	}

	q, err := NewRedisQueue(client, cfg)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		client.XGroupDestroy(ctx, cfg.Stream, cfg.Group)
		client.Del(ctx, cfg.Stream, cfg.Stream+deadLetterSfx)
		if keys, err := client.Keys(ctx, cfg.Stream+recordSfx+"*").Result(); err == nil && len(keys) > 0 {
			client.Del(ctx, keys...)
		}
	})
	return q
}

func waitForStatus(t *testing.T, q *RedisQueue, id uuid.UUID, want job.Status, timeout time.Duration) *job.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if j, ok := q.Status(context.Background(), id); ok && j.Status == want {
			return j
		}
		time.Sleep(50 * time.Millisecond)
	}
	j, _ := q.Status(context.Background(), id)
	t.Fatalf("Timeout waiting for status %s, got %+v", want, j)
	return nil
}

func TestRedisQueue_EnqueueAndConsume(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	q := newTestQueue(t, client, RedisQueueConfig{
		ClaimInterval: 1 * time.Second,
		ClaimTimeout:  3 * time.Second,
	})
	defer q.Close()

	processed := make(chan *job.Job, 10)
	q.StartConsumers(ctx, 2, func(ctx context.Context, j *job.Job) error {
		processed <- j
		return nil
	})

	id1, err := q.Enqueue(ctx, &job.Job{Kind: job.KindRun, Payload: []byte(`{"input_text": "hello"}`)})
	if err != nil {
		t.Fatalf("Failed to enqueue job1: %v", err)
	}
	if id1 == uuid.Nil {
		t.Error("Expected non-nil job ID")
	}

	// Queued state must be observable before any consumer runs it
	if st, ok := q.Status(ctx, id1); !ok {
		t.Error("Expected job1 status right after enqueue")
	} else if st.Status != job.StatusQueued && st.Status != job.StatusInProgress && !st.Status.Terminal() {
		t.Errorf("Unexpected status after enqueue: %s", st.Status)
	}

	id2, err := q.Enqueue(ctx, &job.Job{Kind: job.KindCreateAndProcess, Payload: []byte(`{"agent_id": "a1"}`)})
	if err != nil {
		t.Fatalf("Failed to enqueue job2: %v", err)
	}

	timeout := time.After(10 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-processed:
		case <-timeout:
			t.Fatalf("Timeout waiting for jobs to be processed, got %d", i)
		}
	}

	waitForStatus(t, q, id1, job.StatusCompleted, 10*time.Second)
	waitForStatus(t, q, id2, job.StatusCompleted, 10*time.Second)
}

func TestRedisQueue_JobFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	q := newTestQueue(t, client, RedisQueueConfig{
		ClaimInterval: 1 * time.Second,
		ClaimTimeout:  3 * time.Second,
	})
	defer q.Close()

	done := make(chan struct{})
	q.StartConsumers(ctx, 1, func(ctx context.Context, j *job.Job) error {
		close(done)
		return context.DeadlineExceeded
	})

	id, err := q.Enqueue(ctx, &job.Job{Kind: job.KindRun, Payload: []byte(`{"input_text": "will fail"}`)})
	if err != nil {
		t.Fatalf("Failed to enqueue job: %v", err)
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Timeout waiting for job to be processed")
	}

	j := waitForStatus(t, q, id, job.StatusFailed, 5*time.Second)
	if j.Error == "" {
		t.Error("Expected error message to be set")
	}
}

func TestRedisQueue_CrossProcessStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)

	ctx := context.Background()
	stream := "test:jobs:xproc:" + uuid.New().String()[:8]

	// Producer-side queue (no consumers), as in the API process
	producer := newTestQueue(t, client, RedisQueueConfig{Stream: stream})
	defer producer.Close()

	// Worker-side queue in "another process"
	worker := newTestQueue(t, client, RedisQueueConfig{Stream: stream})
	defer worker.Close()

	consumerCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	processed := make(chan struct{}, 1)
	worker.StartConsumers(consumerCtx, 1, func(ctx context.Context, j *job.Job) error {
		processed <- struct{}{}
		return nil
	})

	id, err := producer.Enqueue(ctx, &job.Job{
		Kind:    job.KindCreateAndProcess,
		Payload: []byte(`{"agent_id": "a1"}`),
	})
	if err != nil {
		t.Fatalf("Failed to enqueue job: %v", err)
	}

	select {
	case <-processed:
	case <-time.After(10 * time.Second):
		t.Fatal("Timeout waiting for job to be processed")
	}

	// The producer never ran the job, but must see the worker's terminal
	// state through the mirrored record.
	waitForStatus(t, producer, id, job.StatusCompleted, 5*time.Second)
}

func TestRedisQueue_Persistence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)

	ctx := context.Background()
	stream := "test:jobs:persist:" + uuid.New().String()[:8]

	q1 := newTestQueue(t, client, RedisQueueConfig{Stream: stream})

	_, err := q1.Enqueue(ctx, &job.Job{
		Kind:    job.KindCreateAndProcess,
		Payload: []byte(`{"agent_id": "persistent"}`),
	})
	if err != nil {
		t.Fatalf("Failed to enqueue job: %v", err)
	}

	// Drop the first instance as if the process crashed before consuming.
	q1.Close()

	info, err := client.XInfoStream(ctx, stream).Result()
	if err != nil {
		t.Fatalf("Failed to get stream info: %v", err)
	}
	if info.Length == 0 {
		t.Error("Expected job to survive in the stream")
	}

	q2 := newTestQueue(t, client, RedisQueueConfig{
		Stream:        stream,
		ClaimInterval: 1 * time.Second,
		ClaimTimeout:  1 * time.Second,
	})
	defer q2.Close()

	processed := make(chan *job.Job, 1)
	consumerCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	q2.StartConsumers(consumerCtx, 1, func(ctx context.Context, j *job.Job) error {
		processed <- j
		return nil
	})

	select {
	case j := <-processed:
		var payload map[string]string
		if err := json.Unmarshal(j.Payload, &payload); err != nil {
			t.Errorf("Failed to unmarshal payload: %v", err)
		}
		if payload["agent_id"] != "persistent" {
			t.Errorf("Expected payload agent_id=persistent, got %s", payload["agent_id"])
		}
	case <-time.After(20 * time.Second):
		t.Error("Timeout waiting for persisted job to be processed")
	}
}

func TestRedisQueue_DeadLetterRoundTrip(t *testing.T) {
	client := getTestRedisClient(t)
	q := newTestQueue(t, client, RedisQueueConfig{})
	defer q.Close()
	ctx := context.Background()

	j := &job.Job{ID: uuid.New(), Kind: job.KindRun, Status: job.StatusQueued, Enqueued: time.Now()}
	data, err := json.Marshal(j)
	if err != nil {
		t.Fatalf("Failed to marshal job: %v", err)
	}
	q.toDeadLetter(ctx, redis.XMessage{
		ID:     "0-1",
		Values: map[string]any{"id": j.ID.String(), "data": string(data)},
	}, "exceeded max retries: 4")

	n, err := q.DeadLetterCount(ctx)
	if err != nil {
		t.Fatalf("DeadLetterCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("DeadLetterCount = %d, want 1", n)
	}

	parked, err := client.XRange(ctx, q.deadLetterStream(), "-", "+").Result()
	if err != nil || len(parked) != 1 {
		t.Fatalf("Failed to read dead letter stream: %v (%d entries)", err, len(parked))
	}

	if err := q.RetryDeadLetter(ctx, parked[0].ID); err != nil {
		t.Fatalf("RetryDeadLetter: %v", err)
	}
	if n, _ = q.DeadLetterCount(ctx); n != 0 {
		t.Fatalf("DeadLetterCount after retry = %d, want 0", n)
	}

	// the retried entry is a normal stream message again
	processed := make(chan uuid.UUID, 1)
	consumerCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	q.StartConsumers(consumerCtx, 1, func(ctx context.Context, got *job.Job) error {
		processed <- got.ID
		return nil
	})

	select {
	case id := <-processed:
		if id != j.ID {
			t.Errorf("Redelivered job = %s, want %s", id, j.ID)
		}
	case <-time.After(20 * time.Second):
		t.Error("Timeout waiting for retried job to be consumed")
	}
}

func TestRedisQueue_StatusSnapshotsAreImmutable(t *testing.T) {
	client := getTestRedisClient(t)
	q := newTestQueue(t, client, RedisQueueConfig{})
	defer q.Close()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, &job.Job{Kind: job.KindRun, Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	before, ok := q.Status(ctx, id)
	if !ok || before.Status != job.StatusQueued {
		t.Fatalf("expected queued snapshot before consumers, got %+v", before)
	}

	consumerCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	q.StartConsumers(consumerCtx, 1, func(ctx context.Context, j *job.Job) error { return nil })
	waitForStatus(t, q, id, job.StatusCompleted, 10*time.Second)

	// the executor's later transitions must not reach back into a
	// snapshot handed out earlier
	if before.Status != job.StatusQueued || before.Finished != nil {
		t.Errorf("earlier snapshot mutated: status=%s finished=%v", before.Status, before.Finished)
	}
}
