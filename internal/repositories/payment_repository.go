package repositories

import (
	"context"

	"autobox/internal/models"

	"gorm.io/gorm"
)

// PaymentRepository defines the interface for payment intent persistence.
type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id uint) (*models.Payment, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error)
	GetByUser(ctx context.Context, userID uint, limit int) ([]models.Payment, error)
	UpdateStatus(ctx context.Context, id uint, status string) error

	// WithTx returns a repository scoped to the given transaction.
	WithTx(tx *gorm.DB) PaymentRepository
}
