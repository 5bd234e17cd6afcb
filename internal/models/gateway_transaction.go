package models

import "time"

// Gateway transaction statuses, mirroring the provider's state machine.
const (
	GatewayStatusInitialized = "INITIALIZED"
	GatewayStatusAuthorized  = "AUTHORIZED"
	GatewayStatusFailed      = "FAILED"
	GatewayStatusRefunded    = "REFUNDED"
)

// GatewayTransaction is the per-attempt record of the external card
// gateway's state machine for one Payment. A payment has at most one
// active gateway transaction; a new deposit attempt creates a fresh
// Payment + GatewayTransaction pair.
type GatewayTransaction struct {
	ID                uint   `gorm:"primarykey" json:"id"`
	PaymentID         uint   `gorm:"not null;index" json:"payment_id"`
	Token             string `gorm:"uniqueIndex;size:255;not null" json:"token"`
	Status            string `gorm:"size:50;not null" json:"status"`
	Amount            int64  `gorm:"not null" json:"amount"`
	BuyOrder          string `gorm:"size:255" json:"buy_order"`
	SessionID         string `gorm:"size:255" json:"session_id"`
	AuthorizationCode string `gorm:"size:255" json:"authorization_code"`
	ResponseCode      *int   `json:"response_code,omitempty"`
	CardNumber        string `gorm:"size:255" json:"card_number"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
