package database

import (
	"context"
	"fmt"
)

// schema creates the task table, its enum types and indexes. Every
// statement is idempotent so it runs on each startup.
var schema = []string{
	`DO $$ BEGIN
		CREATE TYPE task_status AS ENUM ('pending', 'in_progress', 'completed', 'cancelled');
	EXCEPTION WHEN duplicate_object THEN NULL;
	END $$`,
	`DO $$ BEGIN
		CREATE TYPE task_priority AS ENUM ('low', 'medium', 'high', 'urgent');
	EXCEPTION WHEN duplicate_object THEN NULL;
	END $$`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id          SERIAL PRIMARY KEY,
		title       VARCHAR(200) NOT NULL CHECK (length(btrim(title)) > 0),
		description TEXT CHECK (description IS NULL OR length(description) <= 2000),
		status      task_status NOT NULL DEFAULT 'pending',
		priority    task_priority NOT NULL DEFAULT 'medium',
		assigned_to VARCHAR(100),
		due_date    TIMESTAMPTZ,
		tags        TEXT[] NOT NULL DEFAULT '{}' CHECK (cardinality(tags) <= 10),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ,
		CONSTRAINT tasks_updated_after_created CHECK (updated_at IS NULL OR updated_at >= created_at)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_status ON tasks (status)`,
	`CREATE INDEX IF NOT EXISTS idx_task_priority ON tasks (priority)`,
	`CREATE INDEX IF NOT EXISTS idx_task_assigned_to ON tasks (assigned_to)`,
	`CREATE INDEX IF NOT EXISTS idx_task_due_date ON tasks (due_date)`,
	`CREATE INDEX IF NOT EXISTS idx_task_created_at ON tasks (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_task_status_priority ON tasks (status, priority)`,
}

// EnsureSchema creates missing schema objects in one transaction.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	return m.WithSession(ctx, func(ctx context.Context, s Session) error {
		for i, stmt := range schema {
			if _, err := s.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("schema statement %d failed: %w", i+1, err)
			}
		}
		return nil
	})
}
