package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paranoiabot/reminderd/internal/models"
)

// UserRepository handles user database operations
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, chat_id, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.ChatID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetByChatID retrieves a user by their Telegram chat id
func (r *UserRepository) GetByChatID(ctx context.Context, chatID int64) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, chat_id, created_at, updated_at
		FROM users
		WHERE chat_id = $1
	`

	err := r.db.QueryRowContext(ctx, query, chatID).Scan(
		&user.ID,
		&user.ChatID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by chat id: %w", err)
	}

	return user, nil
}

// GetOrCreateByChatID returns the user for chatID, creating the account on
// first contact. The upsert keeps concurrent first messages from racing.
func (r *UserRepository) GetOrCreateByChatID(ctx context.Context, chatID int64) (*models.User, error) {
	user := &models.User{}
	now := time.Now()
	query := `
		INSERT INTO users (id, chat_id, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (chat_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING id, chat_id, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query, uuid.New(), chatID, now).Scan(
		&user.ID,
		&user.ChatID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create user: %w", err)
	}

	return user, nil
}
