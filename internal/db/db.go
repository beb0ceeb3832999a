package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

type DB struct {
	*sql.DB
}

func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{conn}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS templates (
	id            UUID PRIMARY KEY,
	name          TEXT NOT NULL,
	description   TEXT,
	template_data JSONB NOT NULL,
	thumbnail_url TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS renders (
	id            UUID PRIMARY KEY,
	project_id    TEXT NOT NULL UNIQUE,
	template_id   UUID NOT NULL,
	status        TEXT NOT NULL CHECK (status IN ('processing', 'done', 'error')),
	resolution    TEXT NOT NULL,
	render_data   JSONB NOT NULL,
	output_url    TEXT,
	error_message TEXT,
	attempts      INTEGER NOT NULL DEFAULT 1,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	finished_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS renders_status_idx ON renders (status);
CREATE INDEX IF NOT EXISTS renders_created_at_idx ON renders (created_at DESC);
`

// EnsureSchema creates the tables if they are missing.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
