package worker

import (
	"context"
	"sync"
	"time"

	"github.com/bobarin/scenereel/internal/logger"
	"github.com/bobarin/scenereel/internal/queue"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	dequeueTimeout = 5 * time.Second
	errorBackoff   = time.Second
)

type Queue interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error)
}

// Executor runs one attempt of a render job to completion.
type Executor interface {
	Execute(ctx context.Context, renderID uuid.UUID, attempt int) error
}

type Worker struct {
	queue   Queue
	renders Executor
	log     *logrus.Entry
}

func New(q Queue, renders Executor) *Worker {
	return &Worker{
		queue:   q,
		renders: renders,
		log:     logger.Component("worker"),
	}
}

// Start consumes render jobs with the given number of goroutines. It returns
// once ctx is cancelled and every in-flight job has finished.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.WithField("concurrency", concurrency).Info("worker started")

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.processQueue(ctx, queue.QueueRender, w.handleRender)
		}()
	}

	<-ctx.Done()
	w.log.Info("worker shutting down, waiting for in-flight renders")
	wg.Wait()
	w.log.Info("worker stopped")
}

func (w *Worker) processQueue(ctx context.Context, queueName string, handler func(context.Context, *queue.Job) error) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.queue.Dequeue(ctx, queueName, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.WithError(err).WithField("queue", queueName).Error("error dequeuing")
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorBackoff):
			}
			continue
		}
		if job == nil {
			continue
		}

		log := w.log.WithFields(logrus.Fields{"job_id": job.RenderID, "project_id": job.ProjectID, "type": job.Type, "attempt": job.Attempt})
		log.Info("processing job")

		// Renders are not interrupted by shutdown.
		start := time.Now()
		if err := handler(context.WithoutCancel(ctx), job); err != nil {
			log.WithError(err).Error("job failed")
			continue
		}
		log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("job completed")
	}
}

func (w *Worker) handleRender(ctx context.Context, job *queue.Job) error {
	return w.renders.Execute(ctx, job.RenderID, job.Attempt)
}
