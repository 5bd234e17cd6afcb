package repositories

import (
	"context"

	"autobox/internal/models"

	"gorm.io/gorm"
)

// GatewayTransactionRepository persists the per-attempt state of the
// external card gateway.
type GatewayTransactionRepository interface {
	Create(ctx context.Context, gwTx *models.GatewayTransaction) error
	GetByToken(ctx context.Context, token string) (*models.GatewayTransaction, error)
	GetByPaymentID(ctx context.Context, paymentID uint) (*models.GatewayTransaction, error)
	Update(ctx context.Context, gwTx *models.GatewayTransaction) error

	// WithTx returns a repository scoped to the given transaction.
	WithTx(tx *gorm.DB) GatewayTransactionRepository
}
