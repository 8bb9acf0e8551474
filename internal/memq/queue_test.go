package memq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tbelova/jobpilot/internal/job"
)

func waitStatus(t *testing.T, q JobQueue, id uuid.UUID, want job.Status) *job.Job {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if j, ok := q.Status(context.Background(), id); ok && j.Status == want {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	j, _ := q.Status(context.Background(), id)
	t.Fatalf("timeout waiting for status %s, got %+v", want, j)
	return nil
}

func TestEnqueue_AssignsIDAndQueues(t *testing.T) {
	q := NewMemoryQueue(10, 50*time.Millisecond)
	j := &job.Job{Kind: job.KindRun, Payload: []byte(`{}`)}

	id, err := q.Enqueue(context.Background(), j)
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected assigned job id")
	}
	if j.Status != job.StatusQueued {
		t.Fatalf("expected status queued, got %s", j.Status)
	}
	if j.Enqueued.IsZero() {
		t.Fatal("expected enqueued timestamp to be set")
	}

	st, ok := q.Status(context.Background(), id)
	if !ok || st.ID != id {
		t.Fatalf("expected to find job %s, got %+v", id, st)
	}
}

func TestConsumers_CompleteJob(t *testing.T) {
	q := NewMemoryQueue(10, 200*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan struct{}, 1)
	q.StartConsumers(ctx, 1, func(ctx context.Context, j *job.Job) error {
		handled <- struct{}{}
		return nil
	})

	id, err := q.Enqueue(context.Background(), &job.Job{Kind: job.KindCreateAndProcess, Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for job handler")
	}

	j := waitStatus(t, q, id, job.StatusCompleted)
	if j.Started == nil || j.Finished == nil {
		t.Fatal("expected started/finished timestamps to be set")
	}
}

func TestConsumers_TimeoutFailsJob(t *testing.T) {
	q := NewMemoryQueue(10, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.StartConsumers(ctx, 1, func(ctx context.Context, j *job.Job) error {
		<-ctx.Done()
		return errors.New("handler timed out")
	})

	id, err := q.Enqueue(context.Background(), &job.Job{Kind: job.KindRun, Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	j := waitStatus(t, q, id, job.StatusFailed)
	if j.Error == "" {
		t.Fatal("expected error message to be set")
	}
}

func TestStatus_ReturnsStableSnapshot(t *testing.T) {
	q := NewMemoryQueue(4, time.Second)
	defer q.Close()

	submitted := &job.Job{Kind: job.KindRun, Payload: []byte(`{}`)}
	id, err := q.Enqueue(context.Background(), submitted)
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	before, ok := q.Status(context.Background(), id)
	if !ok || before.Status != job.StatusQueued {
		t.Fatalf("expected queued snapshot before consumers, got %+v", before)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.StartConsumers(ctx, 1, func(ctx context.Context, j *job.Job) error { return nil })
	waitStatus(t, q, id, job.StatusCompleted)

	// a snapshot taken earlier must not change under consumer writes
	if before.Status != job.StatusQueued {
		t.Errorf("earlier snapshot mutated to %s", before.Status)
	}
	// the caller's own struct is not shared with the queue either
	if submitted.Status != job.StatusQueued || submitted.Finished != nil {
		t.Errorf("caller's job mutated: status=%s", submitted.Status)
	}
}
