package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/paranoiabot/reminderd/internal/models"
)

// DeliveryAttemptRepository handles delivery attempt history
type DeliveryAttemptRepository struct {
	db *DB
}

// NewDeliveryAttemptRepository creates a new delivery attempt repository
func NewDeliveryAttemptRepository(db *DB) *DeliveryAttemptRepository {
	return &DeliveryAttemptRepository{db: db}
}

// Record persists one per-channel delivery outcome
func (r *DeliveryAttemptRepository) Record(ctx context.Context, attempt *models.DeliveryAttempt) error {
	query := `
		INSERT INTO delivery_attempts (id, reminder_id, attempt, channel, status, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		attempt.ID,
		attempt.ReminderID,
		attempt.Attempt,
		attempt.Channel,
		attempt.Status,
		attempt.Detail,
		attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery attempt: %w", err)
	}

	return nil
}

// ListByReminder returns the delivery history for a reminder, oldest first
func (r *DeliveryAttemptRepository) ListByReminder(ctx context.Context, reminderID uuid.UUID) ([]*models.DeliveryAttempt, error) {
	query := `
		SELECT id, reminder_id, attempt, channel, status, detail, created_at
		FROM delivery_attempts
		WHERE reminder_id = $1
		ORDER BY created_at ASC, attempt ASC
	`

	rows, err := r.db.QueryContext(ctx, query, reminderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery attempts: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var attempts []*models.DeliveryAttempt
	for rows.Next() {
		attempt := &models.DeliveryAttempt{}
		if err := rows.Scan(
			&attempt.ID,
			&attempt.ReminderID,
			&attempt.Attempt,
			&attempt.Channel,
			&attempt.Status,
			&attempt.Detail,
			&attempt.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate delivery attempts: %w", err)
	}

	return attempts, nil
}
