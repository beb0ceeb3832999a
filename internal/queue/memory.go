package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrQueueClosed = errors.New("queue closed")

// MemoryQueue is an in-process queue for single-node deployments without
// Redis. Jobs are lost on restart.
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string]chan *Job
	size   int
	closed bool
}

func NewMemory(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{queues: make(map[string]chan *Job), size: size}
}

func (q *MemoryQueue) channel(name string) (chan *Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}
	ch, ok := q.queues[name]
	if !ok {
		ch = make(chan *Job, q.size)
		q.queues[name] = ch
	}
	return ch, nil
}

func (q *MemoryQueue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	ch, err := q.channel(queueName)
	if err != nil {
		return err
	}
	job.CreatedAt = time.Now()

	select {
	case ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	ch, err := q.channel(queueName)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case job := <-ch:
		return job, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) GetQueueLength(_ context.Context, queueName string) (int64, error) {
	ch, err := q.channel(queueName)
	if err != nil {
		return 0, err
	}
	return int64(len(ch)), nil
}

func (q *MemoryQueue) EnqueueRender(ctx context.Context, renderID uuid.UUID, projectID string, attempt int) error {
	return q.Enqueue(ctx, QueueRender, NewRenderJob(renderID, projectID, attempt))
}

// Close rejects further operations. Buffered jobs are dropped.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
