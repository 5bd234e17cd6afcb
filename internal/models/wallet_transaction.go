package models

import "time"

// Ledger entry types
const (
	TransactionTypeDeposit        = "deposit"
	TransactionTypeServicePayment = "service_payment"
	TransactionTypeCommission     = "commission"
	TransactionTypeWithdrawal     = "withdrawal"
	TransactionTypeRefund         = "refund"
)

// WalletTransaction is an immutable ledger entry. Amount is signed:
// positive for credits, negative for debits. BalanceAfter snapshots the
// user balance immediately after the entry was applied, so replaying the
// deltas from zero reproduces every snapshot. Rows are append-only.
type WalletTransaction struct {
	ID           uint   `gorm:"primarykey" json:"id"`
	UserID       uint   `gorm:"not null;index" json:"user_id"`
	Amount       int64  `gorm:"not null" json:"amount"`
	Type         string `gorm:"not null" json:"type"`
	ReferenceID  *uint  `gorm:"index" json:"reference_id,omitempty"`
	Description  string `json:"description"`
	BalanceAfter int64  `gorm:"not null" json:"balance_after"`
	CreatedAt    time.Time
}
