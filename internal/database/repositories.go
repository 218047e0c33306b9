package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/paranoiabot/reminderd/internal/models"
	"github.com/paranoiabot/reminderd/internal/scheduler"
)

// UserRepositoryInterface defines the interface for user repository operations
// This interface enables better testability by allowing mock implementations
type UserRepositoryInterface interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByChatID(ctx context.Context, chatID int64) (*models.User, error)
	GetOrCreateByChatID(ctx context.Context, chatID int64) (*models.User, error)
}

// DeliveryAttemptRepositoryInterface defines the interface for delivery history operations
type DeliveryAttemptRepositoryInterface interface {
	Record(ctx context.Context, attempt *models.DeliveryAttempt) error
	ListByReminder(ctx context.Context, reminderID uuid.UUID) ([]*models.DeliveryAttempt, error)
}

// Ensure concrete types implement the interfaces
var (
	_ scheduler.Store                    = (*ReminderRepository)(nil)
	_ UserRepositoryInterface            = (*UserRepository)(nil)
	_ DeliveryAttemptRepositoryInterface = (*DeliveryAttemptRepository)(nil)
)
