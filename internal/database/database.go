package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Postgres driver
	_ "github.com/lib/pq"
)

// DB wraps the sql connection pool
type DB struct {
	*sql.DB
}

// New opens a Postgres connection pool and verifies it
func New(databaseURL string) (*DB, error) {
	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		if closeErr := sqlDB.Close(); closeErr != nil {
			_ = closeErr
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: sqlDB}, nil
}

// Migrate applies the schema. Statements are idempotent so it is safe to run
// on every startup.
func (db *DB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			chat_id BIGINT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			chat_id BIGINT NOT NULL DEFAULT 0,
			text TEXT NOT NULL,
			paranoia_level INT NOT NULL,
			status TEXT NOT NULL,
			scheduled_for TIMESTAMPTZ NOT NULL,
			recurrence JSONB,
			geozone JSONB,
			escalation_count INT NOT NULL DEFAULT 0,
			last_escalation_at TIMESTAMPTZ,
			activated_at TIMESTAMPTZ,
			geo_triggered_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 0
		)`,
		`ALTER TABLE reminders ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 0`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_user_id ON reminders(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_status ON reminders(status)
			WHERE status NOT IN ('completed', 'cancelled')`,
		`CREATE TABLE IF NOT EXISTS delivery_attempts (
			id UUID PRIMARY KEY,
			reminder_id UUID NOT NULL REFERENCES reminders(id),
			attempt INT NOT NULL,
			channel TEXT NOT NULL,
			status TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_reminder_id ON delivery_attempts(reminder_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration: %w", err)
		}
	}
	return nil
}

// HealthCheck verifies the database connection is alive
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
