package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bobarin/scenereel/internal/models"
	"github.com/google/uuid"
)

// MemoryStore keeps templates and renders in process memory. It backs the
// API when no DATABASE_URL is configured and mirrors the DB semantics.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[uuid.UUID]models.Template
	renders   map[uuid.UUID]models.RenderJob
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[uuid.UUID]models.Template),
		renders:   make(map[uuid.UUID]models.RenderJob),
		now:       time.Now,
	}
}

func (m *MemoryStore) CreateRender(_ context.Context, job *models.RenderJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.renders[job.ID]; ok {
		return fmt.Errorf("render %s already exists", job.ID)
	}
	for _, existing := range m.renders {
		if existing.ProjectID == job.ProjectID {
			return fmt.Errorf("project id %s already exists", job.ProjectID)
		}
	}

	now := m.now()
	job.CreatedAt, job.UpdatedAt = now, now
	m.renders[job.ID] = cloneRender(*job)
	return nil
}

func (m *MemoryStore) GetRender(_ context.Context, id uuid.UUID) (*models.RenderJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.renders[id]
	if !ok {
		return nil, fmt.Errorf("render %s: %w", id, ErrNotFound)
	}
	job = cloneRender(job)
	return &job, nil
}

func (m *MemoryStore) ListRenders(_ context.Context, status string, limit, offset int) ([]models.RenderJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := []models.RenderJob{}
	for _, job := range m.renders {
		if status != "" && string(job.Status) != status {
			continue
		}
		job = cloneRender(job)
		job.RenderData = nil
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if offset >= len(jobs) {
		return []models.RenderJob{}, nil
	}
	jobs = jobs[offset:]
	if limit >= 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *MemoryStore) CountRenders(_ context.Context, status string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, job := range m.renders {
		if status == "" || string(job.Status) == status {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) RenderStats(_ context.Context) (*models.RenderStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &models.RenderStats{Total: len(m.renders)}
	for _, job := range m.renders {
		switch job.Status {
		case models.RenderStatusProcessing:
			stats.Processing++
		case models.RenderStatusDone:
			stats.Done++
		case models.RenderStatusError:
			stats.Error++
		}
	}
	return stats, nil
}

func (m *MemoryStore) MarkRenderDone(_ context.Context, id uuid.UUID, outputURL string) error {
	return m.transition(id, models.RenderStatusProcessing, func(job *models.RenderJob, now time.Time) {
		job.Status = models.RenderStatusDone
		job.OutputURL = &outputURL
		job.ErrorMessage = nil
		job.FinishedAt = &now
	})
}

func (m *MemoryStore) MarkRenderError(_ context.Context, id uuid.UUID, message string) error {
	return m.transition(id, models.RenderStatusProcessing, func(job *models.RenderJob, now time.Time) {
		job.Status = models.RenderStatusError
		job.ErrorMessage = &message
		job.OutputURL = nil
		job.FinishedAt = &now
	})
}

func (m *MemoryStore) ResetRenderForRetry(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.renders[id]
	if !ok {
		return false, fmt.Errorf("render %s: %w", id, ErrNotFound)
	}
	if job.Status != models.RenderStatusError {
		return false, nil
	}

	job.Status = models.RenderStatusProcessing
	job.ErrorMessage = nil
	job.OutputURL = nil
	job.FinishedAt = nil
	job.Attempts++
	job.UpdatedAt = m.now()
	m.renders[id] = job
	return true, nil
}

func (m *MemoryStore) DeleteRender(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.renders[id]; !ok {
		return ErrNotFound
	}
	delete(m.renders, id)
	return nil
}

// transition applies fn when the render is currently in state from.
func (m *MemoryStore) transition(id uuid.UUID, from models.RenderStatus, fn func(*models.RenderJob, time.Time)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.renders[id]
	if !ok || job.Status != from {
		return ErrNotFound
	}
	now := m.now()
	fn(&job, now)
	job.UpdatedAt = now
	m.renders[id] = job
	return nil
}

func (m *MemoryStore) CreateTemplate(_ context.Context, t *models.Template) error {
	data, err := cloneTemplateData(t.TemplateData)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.templates[t.ID]; ok {
		return fmt.Errorf("template %s already exists", t.ID)
	}
	now := m.now()
	t.CreatedAt, t.UpdatedAt = now, now

	stored := *t
	stored.TemplateData = data
	m.templates[t.ID] = stored
	return nil
}

func (m *MemoryStore) GetTemplate(_ context.Context, id uuid.UUID) (*models.Template, error) {
	m.mu.RLock()
	t, ok := m.templates[id]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	data, err := cloneTemplateData(t.TemplateData)
	if err != nil {
		return nil, err
	}
	t.TemplateData = data
	return &t, nil
}

func (m *MemoryStore) ListTemplates(_ context.Context) ([]models.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	templates := make([]models.Template, 0, len(m.templates))
	for _, t := range m.templates {
		t.TemplateData = models.TemplateData{}
		templates = append(templates, t)
	}
	sort.Slice(templates, func(i, j int) bool {
		return templates[i].UpdatedAt.After(templates[j].UpdatedAt)
	})
	return templates, nil
}

func (m *MemoryStore) UpdateTemplate(_ context.Context, t *models.Template) error {
	data, err := cloneTemplateData(t.TemplateData)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.templates[t.ID]
	if !ok {
		return fmt.Errorf("template %s: %w", t.ID, ErrNotFound)
	}
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = m.now()

	stored := *t
	stored.TemplateData = data
	m.templates[t.ID] = stored
	return nil
}

func (m *MemoryStore) DeleteTemplate(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.templates[id]; !ok {
		return fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	delete(m.templates, id)
	return nil
}

func cloneRender(job models.RenderJob) models.RenderJob {
	if job.RenderData != nil {
		job.RenderData = append(json.RawMessage(nil), job.RenderData...)
	}
	return job
}

// cloneTemplateData deep-copies scene graphs so callers never share slices
// with the store.
func cloneTemplateData(data models.TemplateData) (models.TemplateData, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return models.TemplateData{}, fmt.Errorf("failed to marshal template data: %w", err)
	}
	var out models.TemplateData
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.TemplateData{}, fmt.Errorf("failed to decode template data: %w", err)
	}
	return out, nil
}
