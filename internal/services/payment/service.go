// Package payment manages payment intents. An intent is created before
// any money moves; its status is the authoritative record of whether
// funds were actually transferred.
package payment

import (
	"context"
	"errors"
	"fmt"

	"autobox/internal/models"
	"autobox/internal/repositories"

	"gorm.io/gorm"
)

var (
	ErrInvalidAmount   = errors.New("amount must be greater than zero")
	ErrInvalidStatus   = errors.New("invalid payment status")
	ErrPaymentNotFound = errors.New("payment not found")
)

var validStatuses = map[string]bool{
	models.PaymentStatusPending:   true,
	models.PaymentStatusCompleted: true,
	models.PaymentStatusFailed:    true,
	models.PaymentStatusRefunded:  true,
}

type Service struct {
	repo repositories.PaymentRepository
}

func NewService(repo repositories.PaymentRepository) *Service {
	if repo == nil {
		panic("payment repository is required")
	}
	return &Service{repo: repo}
}

// WithTx returns a service scoped to the given database transaction, so
// status flips can be made atomic with ledger writes.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{repo: s.repo.WithTx(tx)}
}

// Create inserts a new pending payment intent. When idempotencyKey is
// non-empty and an intent with that key already exists, the existing
// record is returned unchanged; duplicate client retries therefore
// resolve to a single intent. A concurrent duplicate insert loses the
// unique-index race and is resolved the same way.
func (s *Service) Create(ctx context.Context, userID uint, amount int64, method, details, idempotencyKey string) (*models.Payment, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if idempotencyKey != "" {
		existing, err := s.repo.GetByIdempotencyKey(ctx, idempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repositories.ErrPaymentNotFound) {
			return nil, err
		}
	}

	payment := &models.Payment{
		UserID:  userID,
		Amount:  amount,
		Method:  method,
		Status:  models.PaymentStatusPending,
		Details: details,
	}
	if idempotencyKey != "" {
		payment.IdempotencyKey = &idempotencyKey
	}

	if err := s.repo.Create(ctx, payment); err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) && idempotencyKey != "" {
			return s.repo.GetByIdempotencyKey(ctx, idempotencyKey)
		}
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return payment, nil
}

// UpdateStatus sets the payment status. Setting the status it already
// has is a no-op beyond the write itself.
func (s *Service) UpdateStatus(ctx context.Context, paymentID uint, status string) (*models.Payment, error) {
	if !validStatuses[status] {
		return nil, ErrInvalidStatus
	}
	if err := s.repo.UpdateStatus(ctx, paymentID, status); err != nil {
		if errors.Is(err, repositories.ErrPaymentNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return s.GetByID(ctx, paymentID)
}

func (s *Service) GetByID(ctx context.Context, paymentID uint) (*models.Payment, error) {
	payment, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repositories.ErrPaymentNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

// GetByUser lists the user's most recent payment intents. Abandoned
// deposits stay pending and remain visible here.
func (s *Service) GetByUser(ctx context.Context, userID uint, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.GetByUser(ctx, userID, limit)
}
