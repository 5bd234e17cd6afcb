package reconciliation

import (
	"context"

	"autobox/internal/gateway/webpay"
)

// Gateway is the slice of the card gateway client the engine depends
// on. The webpay client satisfies it; tests substitute a mock.
type Gateway interface {
	CreateTransaction(ctx context.Context, buyOrder, sessionID string, amount int64, returnURL string) (*webpay.CreateResponse, error)
	CommitTransaction(ctx context.Context, token string) (*webpay.TransactionResult, error)
	GetStatus(ctx context.Context, token string) (*webpay.TransactionResult, error)
	Refund(ctx context.Context, token string, amount int64) (*webpay.RefundResponse, error)
}

// Notifier dispatches user notifications. Delivery is fire-and-forget;
// failures never block reconciliation.
type Notifier interface {
	Notify(ctx context.Context, userID uint, title, message string)
}
