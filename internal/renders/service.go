package renders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/bobarin/scenereel/internal/db"
	"github.com/bobarin/scenereel/internal/logger"
	"github.com/bobarin/scenereel/internal/models"
	"github.com/bobarin/scenereel/internal/services"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound         = errors.New("render not found")
	ErrNotRetryable     = errors.New("render is not in a retryable state")
	ErrTemplateNotFound = errors.New("template not found")
	ErrInvalidRequest   = errors.New("invalid render request")
	ErrEnqueue          = errors.New("failed to enqueue render")
)

// maxErrorMessage bounds the error text stored on a job.
const maxErrorMessage = 2000

// markDoneAttempts bounds writes of a finished render's result.
const markDoneAttempts = 3

type Store interface {
	GetTemplate(ctx context.Context, id uuid.UUID) (*models.Template, error)
	CreateRender(ctx context.Context, job *models.RenderJob) error
	GetRender(ctx context.Context, id uuid.UUID) (*models.RenderJob, error)
	ListRenders(ctx context.Context, status string, limit, offset int) ([]models.RenderJob, error)
	CountRenders(ctx context.Context, status string) (int, error)
	RenderStats(ctx context.Context) (*models.RenderStats, error)
	MarkRenderDone(ctx context.Context, id uuid.UUID, outputURL string) error
	MarkRenderError(ctx context.Context, id uuid.UUID, message string) error
	ResetRenderForRetry(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteRender(ctx context.Context, id uuid.UUID) error
}

type Queue interface {
	EnqueueRender(ctx context.Context, renderID uuid.UUID, projectID string, attempt int) error
}

type Generator interface {
	Generate(ctx context.Context, req services.RenderRequest) (string, error)
}

// Publisher makes a finished video reachable and returns its URL.
type Publisher interface {
	Publish(ctx context.Context, projectID, localPath string) (string, error)
}

type CreateRequest struct {
	TemplateID uuid.UUID
	RenderData json.RawMessage
	Resolution string
}

// Service owns the render job lifecycle: processing -> done | error, and
// error -> processing on retry.
type Service struct {
	store      Store
	queue      Queue
	generator  Generator
	publisher  Publisher
	defaultRes models.Resolution
	retryDelay time.Duration
	log        *logrus.Entry
}

func NewService(store Store, q Queue, gen Generator, pub Publisher, defaultRes models.Resolution) *Service {
	if defaultRes.Width == 0 || defaultRes.Height == 0 {
		defaultRes = models.DefaultResolution
	}
	return &Service{
		store:      store,
		queue:      q,
		generator:  gen,
		publisher:  pub,
		defaultRes: defaultRes,
		retryDelay: 500 * time.Millisecond,
		log:        logger.Component("renders"),
	}
}

// Create validates and persists a new job, then hands it to the queue. The
// job is returned in processing state without waiting for the render.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.RenderJob, error) {
	if req.TemplateID == uuid.Nil {
		return nil, fmt.Errorf("%w: template_id is required", ErrInvalidRequest)
	}
	if len(req.RenderData) == 0 || string(req.RenderData) == "null" {
		return nil, fmt.Errorf("%w: render_data is required", ErrInvalidRequest)
	}

	var data models.RenderData
	if err := json.Unmarshal(req.RenderData, &data); err != nil {
		return nil, fmt.Errorf("%w: render_data: %v", ErrInvalidRequest, err)
	}
	if len(data.Scenes) == 0 {
		return nil, fmt.Errorf("%w: render data contains no scenes", ErrInvalidRequest)
	}

	res, err := s.resolveResolution(req.Resolution, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if _, err := s.store.GetTemplate(ctx, req.TemplateID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	id := uuid.New()
	job := &models.RenderJob{
		ID:         id,
		ProjectID:  NewProjectID(id),
		TemplateID: req.TemplateID,
		Status:     models.RenderStatusProcessing,
		Resolution: res.String(),
		RenderData: req.RenderData,
		Attempts:   1,
	}
	if err := s.store.CreateRender(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create render: %w", err)
	}

	log := s.log.WithFields(logrus.Fields{"job_id": job.ID, "project_id": job.ProjectID})
	if err := s.queue.EnqueueRender(ctx, job.ID, job.ProjectID, job.Attempts); err != nil {
		log.WithError(err).Error("failed to enqueue render")
		msg := "Failed to queue render: " + err.Error()
		if markErr := s.store.MarkRenderError(ctx, job.ID, msg); markErr != nil {
			log.WithError(markErr).Warn("failed to mark render as failed")
		}
		return nil, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}

	log.WithField("resolution", job.Resolution).Info("render queued")
	return job, nil
}

// resolveResolution picks the explicit request value, then the snapshot's,
// then the aspect ratio, then the configured default.
func (s *Service) resolveResolution(requested string, data models.RenderData) (models.Resolution, error) {
	for _, candidate := range []string{requested, data.Resolution} {
		if strings.TrimSpace(candidate) != "" {
			return models.ParseResolution(candidate)
		}
	}
	if data.AspectRatio != "" {
		return models.ResolutionForAspect(data.AspectRatio), nil
	}
	return s.defaultRes, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.RenderJob, error) {
	job, err := s.store.GetRender(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	return job, err
}

func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]models.RenderJob, int, error) {
	if status != "" && !models.RenderStatus(status).Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}
	jobs, err := s.store.ListRenders(ctx, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountRenders(ctx, status)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func (s *Service) Stats(ctx context.Context) (*models.RenderStats, error) {
	return s.store.RenderStats(ctx)
}

// Delete removes the job record. A render still in flight finishes but its
// result is discarded, and produced files are left in place.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.store.DeleteRender(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Retry moves a failed job back to processing and enqueues it again.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (*models.RenderJob, error) {
	ok, err := s.store.ResetRenderForRetry(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reset render: %w", err)
	}
	if !ok {
		return nil, ErrNotRetryable
	}

	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{"job_id": job.ID, "project_id": job.ProjectID, "attempt": job.Attempts})
	if err := s.queue.EnqueueRender(ctx, job.ID, job.ProjectID, job.Attempts); err != nil {
		log.WithError(err).Error("failed to enqueue retry")
		if markErr := s.store.MarkRenderError(ctx, job.ID, "Retry failed: "+err.Error()); markErr != nil {
			log.WithError(markErr).Warn("failed to mark render as failed")
		}
		return nil, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}

	log.Info("render retry queued")
	return job, nil
}

// Execute runs one queued attempt of a job to completion. Jobs that were
// deleted or are no longer processing are skipped, as are messages left over
// from an earlier attempt. Render failures are recorded on the job and also
// returned.
func (s *Service) Execute(ctx context.Context, id uuid.UUID, attempt int) (err error) {
	job, err := s.store.GetRender(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		s.log.WithField("job_id", id).Info("render deleted before execution, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load render: %w", err)
	}
	if job.Status != models.RenderStatusProcessing {
		s.log.WithFields(logrus.Fields{"job_id": id, "status": job.Status}).Info("render not processing, skipping")
		return nil
	}
	if job.Attempts != attempt {
		s.log.WithFields(logrus.Fields{"job_id": id, "attempt": attempt, "current_attempt": job.Attempts}).
			Info("queue message is for an earlier attempt, skipping")
		return nil
	}

	log := s.log.WithFields(logrus.Fields{"job_id": job.ID, "project_id": job.ProjectID, "attempt": job.Attempts})

	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Error("render panicked")
			err = fmt.Errorf("panic: %v", r)
			s.fail(ctx, log, job.ID, err)
		}
	}()

	log.Info("render started")
	url, err := s.render(ctx, job)
	if err != nil {
		s.fail(ctx, log, job.ID, err)
		return err
	}

	if err := s.markDone(ctx, log, job.ID, url); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			log.Warn("render finished but job was deleted or changed; discarding result")
			return nil
		}
		err = fmt.Errorf("failed to mark render done: %w", err)
		s.fail(ctx, log, job.ID, err)
		return err
	}

	log.WithField("output_url", url).Info("render completed")
	return nil
}

// FailInterrupted marks every processing job as failed. It runs at startup,
// before the worker, so renders cut off by a restart do not stay processing
// forever; they can be retried. Jobs are not scoped to an instance, so it is
// only safe when a single instance renders against the store.
func (s *Service) FailInterrupted(ctx context.Context) (int, error) {
	const batch = 100
	failed := 0
	for {
		jobs, err := s.store.ListRenders(ctx, string(models.RenderStatusProcessing), batch, 0)
		if err != nil {
			return failed, fmt.Errorf("failed to list processing renders: %w", err)
		}
		if len(jobs) == 0 {
			return failed, nil
		}
		for _, job := range jobs {
			err := s.store.MarkRenderError(ctx, job.ID, "Render interrupted by server restart")
			if err != nil && !errors.Is(err, db.ErrNotFound) {
				return failed, fmt.Errorf("failed to mark render %s: %w", job.ID, err)
			}
			failed++
		}
	}
}

func (s *Service) render(ctx context.Context, job *models.RenderJob) (string, error) {
	var data models.RenderData
	if err := json.Unmarshal(job.RenderData, &data); err != nil {
		return "", fmt.Errorf("invalid render data: %w", err)
	}
	data.ApplyVariables()

	res, err := models.ParseResolution(job.Resolution)
	if err != nil {
		return "", err
	}

	path, err := s.generator.Generate(ctx, services.RenderRequest{
		ProjectID:  job.ProjectID,
		Data:       data,
		Resolution: res,
	})
	if err != nil {
		return "", err
	}

	url, err := s.publisher.Publish(ctx, job.ProjectID, path)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	return url, nil
}

// markDone retries transient store errors. ErrNotFound is returned at once.
func (s *Service) markDone(ctx context.Context, log *logrus.Entry, id uuid.UUID, url string) error {
	var err error
	for i := 0; i < markDoneAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(time.Duration(i) * s.retryDelay):
			}
		}
		err = s.store.MarkRenderDone(ctx, id, url)
		if err == nil || errors.Is(err, db.ErrNotFound) {
			return err
		}
		log.WithError(err).WithField("try", i+1).Warn("failed to record finished render")
	}
	return err
}

func (s *Service) fail(ctx context.Context, log *logrus.Entry, id uuid.UUID, cause error) {
	log.WithError(cause).Error("render failed")
	msg := truncate("Video generation failed: "+cause.Error(), maxErrorMessage)
	if err := s.store.MarkRenderError(ctx, id, msg); err != nil && !errors.Is(err, db.ErrNotFound) {
		log.WithError(err).Warn("failed to record render error")
	}
}

// NewProjectID derives the short external id used for file names and URLs.
func NewProjectID(id uuid.UUID) string {
	return "render_" + strings.ReplaceAll(id.String(), "-", "")[:16]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return strings.ToValidUTF8(s[:maxLen], "")
}
