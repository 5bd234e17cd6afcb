// Package reconciliation orchestrates the deposit lifecycle against the
// card gateway: create the gateway transaction, persist the pending
// state, and resolve confirmations arriving from either the user-return
// redirect or the gateway's server-to-server webhook. Both paths funnel
// into the single idempotent Confirm entry point, so duplicate
// confirmations (including the gateway's "already locked" conflict)
// never credit a user twice.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"autobox/internal/gateway/webpay"
	"autobox/internal/models"
	"autobox/internal/repositories"
	"autobox/internal/services/ledger"
	"autobox/internal/services/payment"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTokenNotFound = errors.New("no gateway transaction for token")
	ErrNotRefundable = errors.New("payment is not refundable")
)

// errRefundRejected aborts the refund transaction so the wallet debit
// rolls back when the gateway declines.
var errRefundRejected = errors.New("refund rejected by gateway")

// Config holds engine settings sourced from the environment.
type Config struct {
	// ReturnURL is where the gateway sends the user (and the webhook)
	// after the payment attempt.
	ReturnURL string
}

type Service struct {
	db         *gorm.DB
	gateway    Gateway
	ledger     *ledger.Service
	payments   *payment.Service
	gatewayTxs repositories.GatewayTransactionRepository
	users      repositories.UserRepository
	notifier   Notifier
	cfg        Config
}

func NewService(
	db *gorm.DB,
	gateway Gateway,
	ledgerSvc *ledger.Service,
	payments *payment.Service,
	gatewayTxs repositories.GatewayTransactionRepository,
	users repositories.UserRepository,
	notifier Notifier,
	cfg Config,
) *Service {
	if db == nil {
		panic("db is required")
	}
	if gateway == nil {
		panic("gateway client is required")
	}
	return &Service{
		db:         db,
		gateway:    gateway,
		ledger:     ledgerSvc,
		payments:   payments,
		gatewayTxs: gatewayTxs,
		users:      users,
		notifier:   notifier,
		cfg:        cfg,
	}
}

// InitDeposit creates the pending payment intent, registers the
// transaction with the gateway and persists the INITIALIZED gateway
// record. The buy order doubles as the intent's idempotency key.
func (s *Service) InitDeposit(ctx context.Context, userID uint, amount int64) (*DepositSession, error) {
	if amount <= 0 {
		return nil, payment.ErrInvalidAmount
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	// The uuid fragment keeps concurrent deposits by the same user on
	// distinct intents, each with its own gateway transaction.
	buyOrder := fmt.Sprintf("DEP-%d-%d-%s", userID, time.Now().UnixMilli(), uuid.NewString()[:8])
	sessionID := fmt.Sprintf("S-%d-%s", userID, uuid.NewString()[:8])

	pmt, err := s.payments.Create(ctx, userID, amount, models.PaymentMethodWebpay, "Buy order: "+buyOrder, buyOrder)
	if err != nil {
		return nil, err
	}

	createResp, err := s.gateway.CreateTransaction(ctx, buyOrder, sessionID, amount, s.cfg.ReturnURL)
	if err != nil {
		// No token was issued, so this intent can never be confirmed;
		// fail it rather than leaving it pending forever.
		if _, updateErr := s.payments.UpdateStatus(ctx, pmt.ID, models.PaymentStatusFailed); updateErr != nil {
			log.Printf("failed to mark payment %d failed after gateway error: %v", pmt.ID, updateErr)
		}
		return nil, fmt.Errorf("gateway transaction creation failed: %w", err)
	}

	gwTx := &models.GatewayTransaction{
		PaymentID: pmt.ID,
		Token:     createResp.Token,
		Status:    models.GatewayStatusInitialized,
		Amount:    amount,
		BuyOrder:  buyOrder,
		SessionID: sessionID,
	}
	if err := s.gatewayTxs.Create(ctx, gwTx); err != nil {
		return nil, err
	}

	return &DepositSession{
		PaymentID: pmt.ID,
		Token:     createResp.Token,
		URL:       createResp.URL,
	}, nil
}

// Confirm resolves a deposit attempt identified by the gateway token.
// It commits the transaction at the gateway and, on authorization,
// credits the wallet atomically with flipping the payment to completed.
// When the gateway reports the transaction as already being processed
// (a client/webhook race), the authoritative outcome is recovered via a
// status query and applied through the same finalize path, guarded so
// the user is credited exactly once.
func (s *Service) Confirm(ctx context.Context, token string) (*Result, error) {
	gwTx, err := s.gatewayTxs.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repositories.ErrGatewayTransactionNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	pmt, err := s.payments.GetByID(ctx, gwTx.PaymentID)
	if err != nil {
		return nil, err
	}
	if done, result := terminalResult(pmt); done {
		return result, nil
	}

	recovered := false
	txResult, err := s.gateway.CommitTransaction(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, webpay.ErrConflict):
			// Another confirmation already claimed the transaction;
			// the status query is the authoritative outcome.
			txResult, err = s.gateway.GetStatus(ctx, token)
			if err != nil {
				return nil, fmt.Errorf("conflict recovery failed: %w", err)
			}
			recovered = true
		default:
			var apiErr *webpay.APIError
			if errors.As(err, &apiErr) {
				// Definitive rejection: never leave the intent pending.
				rejected := &webpay.TransactionResult{Status: webpay.StatusFailed, ResponseCode: -1}
				if _, finErr := s.finalize(ctx, gwTx, pmt, rejected); finErr != nil {
					return nil, finErr
				}
				return &Result{Success: false, Message: "payment rejected by gateway"}, nil
			}
			// Timeout or transport failure: the gateway state is
			// unknown, so the intent stays pending and the caller may
			// retry the confirmation.
			return nil, err
		}
	}

	applied, err := s.finalize(ctx, gwTx, pmt, txResult)
	if err != nil {
		return nil, err
	}

	// The stored status is authoritative; a racing confirmation may
	// have finalized the payment before this one.
	final, err := s.payments.GetByID(ctx, pmt.ID)
	if err != nil {
		return nil, err
	}

	if final.Status == models.PaymentStatusCompleted {
		// Only the caller that performed the credit notifies, so a
		// confirmation race produces a single message.
		if applied {
			s.notify(final.UserID, "Deposit received", fmt.Sprintf("Your wallet was credited with $%d", final.Amount))
		}
		message := "payment successful"
		if recovered {
			message = "payment successful (recovered)"
		}
		return &Result{Success: true, Message: message, Payment: final}, nil
	}

	if applied {
		s.notify(final.UserID, "Deposit failed", "Your card payment was rejected")
	}
	return &Result{Success: false, Message: "payment rejected", Payment: final}, nil
}

// finalize applies the gateway outcome in one database transaction:
// gateway record update, ledger credit and payment status flip commit
// or roll back together. The payment row lock serializes competing
// confirmations; the ledger reference check keeps the conflict-recovery
// path from crediting a payment whose entry was already written by the
// racing confirmation. The returned bool reports whether this call
// performed the transition.
func (s *Service) finalize(ctx context.Context, gwTx *models.GatewayTransaction, pmt *models.Payment, txResult *webpay.TransactionResult) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Payment
		query := tx
		if tx.Dialector.Name() == "postgres" {
			query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := query.First(&current, pmt.ID).Error; err != nil {
			return fmt.Errorf("failed to lock payment: %w", err)
		}
		if current.Status != models.PaymentStatusPending {
			// Terminal states are final; the racing confirmation won.
			return nil
		}
		applied = true

		responseCode := txResult.ResponseCode
		gwTx.Status = txResult.Status
		gwTx.AuthorizationCode = txResult.AuthorizationCode
		gwTx.ResponseCode = &responseCode
		gwTx.CardNumber = txResult.CardDetail.CardNumber
		if err := s.gatewayTxs.WithTx(tx).Update(ctx, gwTx); err != nil {
			return err
		}

		if !txResult.Authorized() {
			_, err := s.payments.WithTx(tx).UpdateStatus(ctx, current.ID, models.PaymentStatusFailed)
			return err
		}

		credited, err := s.ledger.HasEntryForReference(tx, current.ID, models.TransactionTypeDeposit)
		if err != nil {
			return err
		}
		if !credited {
			if _, err := s.ledger.CreditTx(tx, current.UserID, current.Amount, models.TransactionTypeDeposit, &current.ID, "Wallet deposit via Webpay"); err != nil {
				return err
			}
		}
		_, err = s.payments.WithTx(tx).UpdateStatus(ctx, current.ID, models.PaymentStatusCompleted)
		return err
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// RefundDeposit reverses a completed card deposit. The wallet debit
// runs first, inside the same transaction that covers the gateway
// call: a balance the user already spent aborts the refund before any
// money moves at the gateway, and a declined or failed gateway refund
// rolls the debit back.
func (s *Service) RefundDeposit(ctx context.Context, paymentID uint) (*Result, error) {
	pmt, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if pmt.Method != models.PaymentMethodWebpay || pmt.Status != models.PaymentStatusCompleted {
		return nil, ErrNotRefundable
	}

	gwTx, err := s.gatewayTxs.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Payment
		query := tx
		if tx.Dialector.Name() == "postgres" {
			query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := query.First(&current, pmt.ID).Error; err != nil {
			return err
		}
		if current.Status == models.PaymentStatusRefunded {
			return nil
		}
		if current.Status != models.PaymentStatusCompleted {
			return ErrNotRefundable
		}

		if _, err := s.ledger.DebitTx(tx, current.UserID, current.Amount, models.TransactionTypeRefund, &current.ID, "Deposit refund"); err != nil {
			return err
		}

		refund, err := s.gateway.Refund(ctx, gwTx.Token, current.Amount)
		if err != nil {
			return fmt.Errorf("gateway refund failed: %w", err)
		}
		if refund.ResponseCode != webpay.ResponseCodeApproved {
			return errRefundRejected
		}

		gwTx.Status = models.GatewayStatusRefunded
		if err := s.gatewayTxs.WithTx(tx).Update(ctx, gwTx); err != nil {
			return err
		}
		_, err = s.payments.WithTx(tx).UpdateStatus(ctx, current.ID, models.PaymentStatusRefunded)
		return err
	})
	if errors.Is(err, errRefundRejected) {
		return &Result{Success: false, Message: "refund rejected by gateway"}, nil
	}
	if err != nil {
		return nil, err
	}

	final, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	s.notify(final.UserID, "Deposit refunded", fmt.Sprintf("$%d was returned to your card", final.Amount))
	return &Result{Success: true, Message: "refund applied", Payment: final}, nil
}

func terminalResult(pmt *models.Payment) (bool, *Result) {
	switch pmt.Status {
	case models.PaymentStatusCompleted:
		return true, &Result{Success: true, Message: "payment already processed", Payment: pmt}
	case models.PaymentStatusFailed:
		return true, &Result{Success: false, Message: "payment already failed", Payment: pmt}
	case models.PaymentStatusRefunded:
		return true, &Result{Success: false, Message: "payment was refunded", Payment: pmt}
	}
	return false, nil
}

func (s *Service) notify(userID uint, title, message string) {
	if s.notifier == nil {
		return
	}
	go s.notifier.Notify(context.Background(), userID, title, message)
}
