package models

import "time"

// Payment statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// Payment methods
const (
	PaymentMethodWebpay   = "webpay"
	PaymentMethodWallet   = "wallet"
	PaymentMethodCash     = "cash"
	PaymentMethodTransfer = "transfer"
)

// Payment is a payment intent. It is created before any money moves and
// its status is the authoritative record of whether funds were moved.
// IdempotencyKey is unique when present so duplicate client retries
// resolve to the same intent.
type Payment struct {
	ID             uint    `gorm:"primarykey" json:"id"`
	UserID         uint    `gorm:"not null;index" json:"user_id"`
	Amount         int64   `gorm:"not null" json:"amount"`
	Method         string  `gorm:"not null;default:'webpay'" json:"method"`
	Status         string  `gorm:"not null;default:'pending'" json:"status"`
	Details        string  `json:"details"`
	IdempotencyKey *string `gorm:"uniqueIndex" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DepositRequest is the body for POST /api/wallet/deposit/init.
type DepositRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

// WalletPaymentRequest is the body for POST /api/wallet/payment.
type WalletPaymentRequest struct {
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description"`
}
