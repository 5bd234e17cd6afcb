package repositories

import (
	"context"
	"errors"
	"fmt"

	"autobox/internal/models"

	"gorm.io/gorm"
)

type gatewayTransactionRepository struct {
	db *gorm.DB
}

func NewGatewayTransactionRepository(db *gorm.DB) GatewayTransactionRepository {
	return &gatewayTransactionRepository{db: db}
}

func (r *gatewayTransactionRepository) WithTx(tx *gorm.DB) GatewayTransactionRepository {
	return &gatewayTransactionRepository{db: tx}
}

func (r *gatewayTransactionRepository) Create(ctx context.Context, gwTx *models.GatewayTransaction) error {
	if err := r.db.WithContext(ctx).Create(gwTx).Error; err != nil {
		if IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to create gateway transaction: %w", err)
	}
	return nil
}

func (r *gatewayTransactionRepository) GetByToken(ctx context.Context, token string) (*models.GatewayTransaction, error) {
	var gwTx models.GatewayTransaction
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&gwTx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGatewayTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get gateway transaction: %w", err)
	}
	return &gwTx, nil
}

func (r *gatewayTransactionRepository) GetByPaymentID(ctx context.Context, paymentID uint) (*models.GatewayTransaction, error) {
	var gwTx models.GatewayTransaction
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at DESC").
		First(&gwTx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGatewayTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get gateway transaction: %w", err)
	}
	return &gwTx, nil
}

func (r *gatewayTransactionRepository) Update(ctx context.Context, gwTx *models.GatewayTransaction) error {
	if err := r.db.WithContext(ctx).Save(gwTx).Error; err != nil {
		return fmt.Errorf("failed to update gateway transaction: %w", err)
	}
	return nil
}
