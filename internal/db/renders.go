package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bobarin/scenereel/internal/models"
	"github.com/google/uuid"
)

const renderColumns = `
	id, project_id, template_id, status, resolution, render_data,
	output_url, error_message, attempts, created_at, updated_at, finished_at`

func scanRender(row interface{ Scan(...interface{}) error }, job *models.RenderJob) error {
	var data []byte
	err := row.Scan(
		&job.ID, &job.ProjectID, &job.TemplateID, &job.Status, &job.Resolution, &data,
		&job.OutputURL, &job.ErrorMessage, &job.Attempts, &job.CreatedAt, &job.UpdatedAt, &job.FinishedAt,
	)
	job.RenderData = data
	return err
}

func (db *DB) CreateRender(ctx context.Context, job *models.RenderJob) error {
	query := `
		INSERT INTO renders (
			id, project_id, template_id, status, resolution, render_data, attempts
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		job.ID, job.ProjectID, job.TemplateID, job.Status, job.Resolution, []byte(job.RenderData), job.Attempts,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (db *DB) GetRender(ctx context.Context, id uuid.UUID) (*models.RenderJob, error) {
	query := `SELECT` + renderColumns + ` FROM renders WHERE id = $1`

	job := &models.RenderJob{}
	err := scanRender(db.QueryRowContext(ctx, query, id), job)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("render %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get render: %w", err)
	}

	return job, nil
}

// ListRenders returns renders newest first, optionally filtered by status.
func (db *DB) ListRenders(ctx context.Context, status string, limit, offset int) ([]models.RenderJob, error) {
	query := `
		SELECT` + renderColumns + `
		FROM renders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := db.QueryContext(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query renders: %w", err)
	}
	defer rows.Close()

	jobs := []models.RenderJob{}
	for rows.Next() {
		var job models.RenderJob
		if err := scanRender(rows, &job); err != nil {
			return nil, fmt.Errorf("failed to scan render: %w", err)
		}
		// Listings omit the snapshot
		job.RenderData = nil
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

func (db *DB) CountRenders(ctx context.Context, status string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM renders WHERE ($1 = '' OR status = $1)`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count renders: %w", err)
	}
	return count, nil
}

func (db *DB) RenderStats(ctx context.Context) (*models.RenderStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'done'),
			COUNT(*) FILTER (WHERE status = 'error')
		FROM renders
	`

	stats := &models.RenderStats{}
	err := db.QueryRowContext(ctx, query).Scan(&stats.Total, &stats.Processing, &stats.Done, &stats.Error)
	if err != nil {
		return nil, fmt.Errorf("failed to get render stats: %w", err)
	}
	return stats, nil
}

// MarkRenderDone moves a processing render to done. Renders in any other
// state, or deleted meanwhile, yield ErrNotFound.
func (db *DB) MarkRenderDone(ctx context.Context, id uuid.UUID, outputURL string) error {
	query := `
		UPDATE renders
		SET status = 'done', output_url = $2, error_message = NULL, updated_at = NOW(), finished_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	return db.execOne(ctx, query, id, outputURL)
}

// MarkRenderError moves a processing render to error.
func (db *DB) MarkRenderError(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE renders
		SET status = 'error', error_message = $2, output_url = NULL, updated_at = NOW(), finished_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	return db.execOne(ctx, query, id, message)
}

// ResetRenderForRetry moves a render from error back to processing. It
// reports false when the render exists in another state.
func (db *DB) ResetRenderForRetry(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE renders
		SET status = 'processing', error_message = NULL, output_url = NULL,
			attempts = attempts + 1, updated_at = NOW(), finished_at = NULL
		WHERE id = $1 AND status = 'error'
	`
	err := db.execOne(ctx, query, id)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if _, getErr := db.GetRender(ctx, id); getErr != nil {
		return false, getErr
	}
	return false, nil
}

func (db *DB) DeleteRender(ctx context.Context, id uuid.UUID) error {
	return db.execOne(ctx, `DELETE FROM renders WHERE id = $1`, id)
}

func (db *DB) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update render: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
