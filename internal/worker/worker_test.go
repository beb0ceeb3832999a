package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/scenereel/internal/queue"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	mu       sync.Mutex
	ids      []uuid.UUID
	attempts []int
	started  chan struct{}
	release  chan struct{}
	ctxErr   error
	failWith error
}

func (e *recordingExecutor) Execute(ctx context.Context, id uuid.UUID, attempt int) error {
	if e.started != nil {
		e.started <- struct{}{}
	}
	if e.release != nil {
		<-e.release
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, id)
	e.attempts = append(e.attempts, attempt)
	e.ctxErr = ctx.Err()
	return e.failWith
}

func (e *recordingExecutor) seen() []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]uuid.UUID(nil), e.ids...)
}

func TestWorkerProcessesJobs(t *testing.T) {
	q := queue.NewMemory(8)
	exec := &recordingExecutor{failWith: errors.New("ignored")}
	w := New(q, exec)

	a, b := uuid.New(), uuid.New()
	require.NoError(t, q.EnqueueRender(context.Background(), a, "render_a", 1))
	require.NoError(t, q.EnqueueRender(context.Background(), b, "render_b", 2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx, 1)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(exec.seen()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []uuid.UUID{a, b}, exec.seen())
	exec.mu.Lock()
	assert.Equal(t, []int{1, 2}, exec.attempts)
	exec.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerWaitsForInFlightJob(t *testing.T) {
	q := queue.NewMemory(8)
	exec := &recordingExecutor{started: make(chan struct{}, 1), release: make(chan struct{})}
	w := New(q, exec)

	require.NoError(t, q.EnqueueRender(context.Background(), uuid.New(), "render_a", 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx, 2)
		close(done)
	}()

	<-exec.started
	cancel()

	select {
	case <-done:
		t.Fatal("worker returned before the in-flight job finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(exec.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	require.Len(t, exec.seen(), 1)
	assert.NoError(t, exec.ctxErr, "render context must survive shutdown")
}
