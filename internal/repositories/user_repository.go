package repositories

import (
	"context"

	"autobox/internal/models"

	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations.
// The wallet engine only needs identity lookups; balance mutations go
// through the ledger service.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id uint) error

	// WithTx returns a repository scoped to the given transaction.
	WithTx(tx *gorm.DB) UserRepository
}
