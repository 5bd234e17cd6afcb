// Package wallet is the user-facing surface over the ledger, payment
// intents and the deposit engine. Handlers talk to this package only.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log"

	"autobox/internal/models"
	"autobox/internal/services/ledger"
	"autobox/internal/services/payment"
	"autobox/internal/services/reconciliation"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
)

// BalanceCache is the cache surface the service needs. The Redis cache
// service satisfies it; a nil cache disables caching entirely.
type BalanceCache interface {
	GetBalance(ctx context.Context, userID uint) (int64, bool, error)
	SetBalance(ctx context.Context, userID uint, balance int64) error
	InvalidateBalance(ctx context.Context, userID uint) error
}

// WalletDetails is the GET /api/wallet payload.
type WalletDetails struct {
	UserID             uint                       `json:"user_id"`
	Balance            int64                      `json:"balance"`
	Currency           string                     `json:"currency"`
	RecentTransactions []models.WalletTransaction `json:"recent_transactions"`
}

// PaymentReceipt is returned after a successful wallet payment.
type PaymentReceipt struct {
	Payment      *models.Payment `json:"payment"`
	BalanceAfter int64           `json:"balance_after"`
}

type Service struct {
	db       *gorm.DB
	ledger   *ledger.Service
	payments *payment.Service
	engine   *reconciliation.Service
	cache    BalanceCache
	metrics  MetricsCollector
}

func NewService(db *gorm.DB, ledgerSvc *ledger.Service, payments *payment.Service, engine *reconciliation.Service, cache BalanceCache, metrics MetricsCollector) *Service {
	if db == nil {
		panic("db is required")
	}
	if ledgerSvc == nil {
		panic("ledger service is required")
	}
	if metrics == nil {
		metrics = NoopMetricsCollector{}
	}
	return &Service{
		db:       db,
		ledger:   ledgerSvc,
		payments: payments,
		engine:   engine,
		cache:    cache,
		metrics:  metrics,
	}
}

// GetBalance reads the balance through the cache. The ledger is the
// source of truth; a cache miss or error falls back to it.
func (s *Service) GetBalance(ctx context.Context, userID uint) (int64, error) {
	if s.cache != nil {
		balance, found, err := s.cache.GetBalance(ctx, userID)
		s.metrics.RecordBalanceCacheHit(found && err == nil)
		if err == nil && found {
			return balance, nil
		}
	}

	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if err := s.cache.SetBalance(ctx, userID, balance); err != nil {
			log.Printf("failed to cache balance for user %d: %v", userID, err)
		}
	}
	return balance, nil
}

func (s *Service) GetWallet(ctx context.Context, userID uint) (*WalletDetails, error) {
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	transactions, err := s.ledger.GetTransactions(ctx, userID, 10)
	if err != nil {
		return nil, err
	}
	return &WalletDetails{
		UserID:             userID,
		Balance:            balance,
		Currency:           "CLP",
		RecentTransactions: transactions,
	}, nil
}

func (s *Service) GetTransactions(ctx context.Context, userID uint, limit int) ([]models.WalletTransaction, error) {
	return s.ledger.GetTransactions(ctx, userID, limit)
}

// InitDeposit starts a card deposit through the gateway and returns the
// redirect target.
func (s *Service) InitDeposit(ctx context.Context, userID uint, amount int64) (*reconciliation.DepositSession, error) {
	session, err := s.engine.InitDeposit(ctx, userID, amount)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordDepositInitiated(amount)
	return session, nil
}

// ConfirmDeposit resolves a deposit by gateway token and drops the
// cached balance so the next read reflects the credit.
func (s *Service) ConfirmDeposit(ctx context.Context, token string) (*reconciliation.Result, error) {
	result, err := s.engine.Confirm(ctx, token)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordDepositConfirmed(result.Success)
	if result.Payment != nil {
		s.invalidate(ctx, result.Payment.UserID)
	}
	return result, nil
}

// RefundDeposit reverses a completed card deposit.
func (s *Service) RefundDeposit(ctx context.Context, paymentID uint) (*reconciliation.Result, error) {
	result, err := s.engine.RefundDeposit(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if result.Payment != nil {
		s.invalidate(ctx, result.Payment.UserID)
	}
	return result, nil
}

// MakePayment debits the wallet and records the completed payment in
// one database transaction. If the debit fails nothing is recorded, so
// a payment row in completed state always has its matching ledger
// entry.
func (s *Service) MakePayment(ctx context.Context, userID uint, amount int64, description string) (*PaymentReceipt, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var receipt *PaymentReceipt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		key := "WALLET-" + uuid.NewString()
		pmt, err := s.payments.WithTx(tx).Create(ctx, userID, amount, models.PaymentMethodWallet, description, key)
		if err != nil {
			return err
		}

		entry, err := s.ledger.DebitTx(tx, userID, amount, models.TransactionTypeServicePayment, &pmt.ID, description)
		if err != nil {
			return err
		}

		pmt, err = s.payments.WithTx(tx).UpdateStatus(ctx, pmt.ID, models.PaymentStatusCompleted)
		if err != nil {
			return err
		}

		receipt = &PaymentReceipt{Payment: pmt, BalanceAfter: entry.BalanceAfter}
		return nil
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return nil, ErrInsufficientBalance
		}
		return nil, fmt.Errorf("wallet payment failed: %w", err)
	}

	s.metrics.RecordWalletPayment(amount)
	s.invalidate(ctx, userID)
	return receipt, nil
}

func (s *Service) invalidate(ctx context.Context, userID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateBalance(ctx, userID); err != nil {
		log.Printf("failed to invalidate balance cache for user %d: %v", userID, err)
	}
}
