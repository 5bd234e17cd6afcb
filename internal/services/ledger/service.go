// Package ledger owns the user balance and the append-only transaction
// log. It is the only component allowed to mutate a balance, and it does
// so exclusively inside a single database transaction that locks the
// user row, validates the post-condition, appends the ledger entry with
// its balance snapshot and writes the new balance back. Entries for one
// user are therefore strictly serialized; operations across different
// users run fully concurrently.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"autobox/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	if db == nil {
		panic("db is required")
	}
	return &Service{db: db}
}

// Credit increases the user's balance by amount (> 0) and appends a
// ledger entry. It always succeeds unless the user does not exist.
func (s *Service) Credit(ctx context.Context, userID uint, amount int64, txType string, referenceID *uint, description string) (*models.WalletTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	var entry *models.WalletTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var applyErr error
		entry, applyErr = s.apply(tx, userID, amount, txType, referenceID, description)
		return applyErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Debit decreases the user's balance by amount (> 0) and appends a
// ledger entry. It fails with ErrInsufficientBalance if the balance
// would go negative, leaving balance and ledger untouched.
func (s *Service) Debit(ctx context.Context, userID uint, amount int64, txType string, referenceID *uint, description string) (*models.WalletTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	var entry *models.WalletTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var applyErr error
		entry, applyErr = s.apply(tx, userID, -amount, txType, referenceID, description)
		return applyErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CreditTx is Credit running inside the caller's transaction, so the
// ledger write can be made atomic with other effects (e.g. flipping a
// payment to completed).
func (s *Service) CreditTx(tx *gorm.DB, userID uint, amount int64, txType string, referenceID *uint, description string) (*models.WalletTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.apply(tx, userID, amount, txType, referenceID, description)
}

// DebitTx is Debit running inside the caller's transaction.
func (s *Service) DebitTx(tx *gorm.DB, userID uint, amount int64, txType string, referenceID *uint, description string) (*models.WalletTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.apply(tx, userID, -amount, txType, referenceID, description)
}

// apply performs the locked read-validate-write sequence. The row lock
// is scoped to tx and released on commit or rollback on every exit path.
func (s *Service) apply(tx *gorm.DB, userID uint, amount int64, txType string, referenceID *uint, description string) (*models.WalletTransaction, error) {
	var user models.User
	query := tx
	// sqlite serializes writers on its own and rejects FOR UPDATE; the
	// row lock is only meaningful on postgres.
	if tx.Dialector.Name() == "postgres" {
		query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := query.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to lock user row: %w", err)
	}

	newBalance := user.Balance + amount
	if newBalance < 0 {
		return nil, ErrInsufficientBalance
	}

	entry := &models.WalletTransaction{
		UserID:       userID,
		Amount:       amount,
		Type:         txType,
		ReferenceID:  referenceID,
		Description:  description,
		BalanceAfter: newBalance,
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	if err := tx.Model(&models.User{}).Where("id = ?", userID).Update("balance", newBalance).Error; err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	return entry, nil
}

// GetBalance returns the user's current balance.
func (s *Service) GetBalance(ctx context.Context, userID uint) (int64, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to get user: %w", err)
	}
	return user.Balance, nil
}

// GetTransactions returns the user's most recent ledger entries, newest
// first.
func (s *Service) GetTransactions(ctx context.Context, userID uint, limit int) ([]models.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []models.WalletTransaction
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	return entries, nil
}

// HasEntryForReference reports whether a ledger entry of the given type
// already references the payment. The reconciliation engine uses it as
// the credit-once guard before applying a deposit.
func (s *Service) HasEntryForReference(tx *gorm.DB, referenceID uint, txType string) (bool, error) {
	var count int64
	err := tx.Model(&models.WalletTransaction{}).
		Where("reference_id = ? AND type = ?", referenceID, txType).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check ledger reference: %w", err)
	}
	return count > 0, nil
}
