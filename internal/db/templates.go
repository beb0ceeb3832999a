package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bobarin/scenereel/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateTemplate(ctx context.Context, t *models.Template) error {
	data, err := json.Marshal(t.TemplateData)
	if err != nil {
		return fmt.Errorf("failed to marshal template data: %w", err)
	}

	query := `
		INSERT INTO templates (id, name, description, template_data, thumbnail_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		t.ID, t.Name, t.Description, data, t.ThumbnailURL,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (db *DB) GetTemplate(ctx context.Context, id uuid.UUID) (*models.Template, error) {
	query := `
		SELECT id, name, description, template_data, thumbnail_url, created_at, updated_at
		FROM templates
		WHERE id = $1
	`

	t := &models.Template{}
	var data []byte
	err := db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.Description, &data, &t.ThumbnailURL, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	if err := json.Unmarshal(data, &t.TemplateData); err != nil {
		return nil, fmt.Errorf("failed to decode template data: %w", err)
	}
	return t, nil
}

// ListTemplates returns template headers, most recently updated first.
func (db *DB) ListTemplates(ctx context.Context) ([]models.Template, error) {
	query := `
		SELECT id, name, description, thumbnail_url, created_at, updated_at
		FROM templates
		ORDER BY updated_at DESC
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	templates := []models.Template{}
	for rows.Next() {
		var t models.Template
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.ThumbnailURL, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, t)
	}

	return templates, rows.Err()
}

func (db *DB) UpdateTemplate(ctx context.Context, t *models.Template) error {
	data, err := json.Marshal(t.TemplateData)
	if err != nil {
		return fmt.Errorf("failed to marshal template data: %w", err)
	}

	query := `
		UPDATE templates
		SET name = $2, description = $3, template_data = $4, thumbnail_url = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at
	`

	err = db.QueryRowContext(ctx, query, t.ID, t.Name, t.Description, data, t.ThumbnailURL).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("template %s: %w", t.ID, ErrNotFound)
	}
	return err
}

func (db *DB) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	res, err := db.ExecContext(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return nil
}
