package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/paranoiabot/reminderd/internal/models"
)

// ReminderRepository handles reminder database operations
type ReminderRepository struct {
	db *DB
}

// NewReminderRepository creates a new reminder repository
func NewReminderRepository(db *DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

const reminderColumns = `id, user_id, chat_id, text, paranoia_level, status, scheduled_for,
	recurrence, geozone, escalation_count, last_escalation_at, activated_at,
	geo_triggered_at, created_at, updated_at, completed_at, version`

// Insert creates a new reminder
func (r *ReminderRepository) Insert(ctx context.Context, reminder *models.Reminder) error {
	query := `
		INSERT INTO reminders (` + reminderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	recurrenceJSON, geozoneJSON, err := marshalRuleColumns(reminder)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query,
		reminder.ID,
		reminder.UserID,
		reminder.ChatID,
		reminder.Text,
		reminder.ParanoiaLevel,
		reminder.Status,
		reminder.ScheduledFor,
		recurrenceJSON,
		geozoneJSON,
		reminder.EscalationCount,
		reminder.LastEscalationAt,
		reminder.ActivatedAt,
		reminder.GeoTriggeredAt,
		reminder.CreatedAt,
		reminder.UpdatedAt,
		reminder.CompletedAt,
		reminder.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reminder: %w", err)
	}

	return nil
}

// Get retrieves a reminder by ID
func (r *ReminderRepository) Get(ctx context.Context, id uuid.UUID) (*models.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE id = $1`

	reminder, err := scanReminder(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return reminder, nil
}

// Update persists the full reminder state, guarded by the version the
// caller read. The server and scheduler processes both write this table, so
// a stale write must fail rather than overwrite the newer row. Returns
// models.ErrStaleReminder on a version conflict; on success the in-memory
// version is advanced to match the row.
func (r *ReminderRepository) Update(ctx context.Context, reminder *models.Reminder) error {
	query := `
		UPDATE reminders
		SET chat_id = $2, text = $3, paranoia_level = $4, status = $5,
			scheduled_for = $6, recurrence = $7, geozone = $8,
			escalation_count = $9, last_escalation_at = $10, activated_at = $11,
			geo_triggered_at = $12, updated_at = $13, completed_at = $14,
			version = version + 1
		WHERE id = $1 AND version = $15
	`

	recurrenceJSON, geozoneJSON, err := marshalRuleColumns(reminder)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, query,
		reminder.ID,
		reminder.ChatID,
		reminder.Text,
		reminder.ParanoiaLevel,
		reminder.Status,
		reminder.ScheduledFor,
		recurrenceJSON,
		geozoneJSON,
		reminder.EscalationCount,
		reminder.LastEscalationAt,
		reminder.ActivatedAt,
		reminder.GeoTriggeredAt,
		reminder.UpdatedAt,
		reminder.CompletedAt,
		reminder.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update reminder: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		// Either the row is gone or another writer got there first.
		var exists bool
		existsQuery := `SELECT EXISTS (SELECT 1 FROM reminders WHERE id = $1)`
		if err := r.db.QueryRowContext(ctx, existsQuery, reminder.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if exists {
			return models.ErrStaleReminder
		}
		return models.ErrNotFound
	}

	reminder.Version++
	return nil
}

// ListByUser retrieves all reminders for a user, newest first
func (r *ReminderRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return collectReminders(rows)
}

// ListSchedulable retrieves all reminders not in a terminal state
func (r *ReminderRepository) ListSchedulable(ctx context.Context) ([]*models.Reminder, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM reminders
		WHERE status NOT IN ($1, $2)
		ORDER BY scheduled_for ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query,
		models.ReminderStatusCompleted,
		models.ReminderStatusCancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedulable reminders: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return collectReminders(rows)
}

// rowScanner covers *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*models.Reminder, error) {
	reminder := &models.Reminder{}
	var recurrenceJSON, geozoneJSON []byte
	var lastEscalationAt, activatedAt, geoTriggeredAt, completedAt sql.NullTime

	err := row.Scan(
		&reminder.ID,
		&reminder.UserID,
		&reminder.ChatID,
		&reminder.Text,
		&reminder.ParanoiaLevel,
		&reminder.Status,
		&reminder.ScheduledFor,
		&recurrenceJSON,
		&geozoneJSON,
		&reminder.EscalationCount,
		&lastEscalationAt,
		&activatedAt,
		&geoTriggeredAt,
		&reminder.CreatedAt,
		&reminder.UpdatedAt,
		&completedAt,
		&reminder.Version,
	)
	if err != nil {
		return nil, err
	}

	if len(recurrenceJSON) > 0 {
		reminder.Recurrence = &models.RecurrenceRule{}
		if err := json.Unmarshal(recurrenceJSON, reminder.Recurrence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recurrence: %w", err)
		}
	}
	if len(geozoneJSON) > 0 {
		reminder.Geozone = &models.Geozone{}
		if err := json.Unmarshal(geozoneJSON, reminder.Geozone); err != nil {
			return nil, fmt.Errorf("failed to unmarshal geozone: %w", err)
		}
	}

	if lastEscalationAt.Valid {
		reminder.LastEscalationAt = &lastEscalationAt.Time
	}
	if activatedAt.Valid {
		reminder.ActivatedAt = &activatedAt.Time
	}
	if geoTriggeredAt.Valid {
		reminder.GeoTriggeredAt = &geoTriggeredAt.Time
	}
	if completedAt.Valid {
		reminder.CompletedAt = &completedAt.Time
	}

	return reminder, nil
}

func collectReminders(rows *sql.Rows) ([]*models.Reminder, error) {
	var reminders []*models.Reminder
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, reminder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reminders: %w", err)
	}
	return reminders, nil
}

func marshalRuleColumns(reminder *models.Reminder) ([]byte, []byte, error) {
	var recurrenceJSON, geozoneJSON []byte
	var err error

	if reminder.Recurrence != nil {
		recurrenceJSON, err = json.Marshal(reminder.Recurrence)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal recurrence: %w", err)
		}
	}
	if reminder.Geozone != nil {
		geozoneJSON, err = json.Marshal(reminder.Geozone)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal geozone: %w", err)
		}
	}
	return recurrenceJSON, geozoneJSON, nil
}
