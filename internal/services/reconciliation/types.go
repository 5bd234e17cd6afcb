package reconciliation

import "autobox/internal/models"

// DepositSession is returned by InitDeposit; the caller redirects the
// user to URL to complete the card payment.
type DepositSession struct {
	PaymentID uint   `json:"payment_id"`
	Token     string `json:"token"`
	URL       string `json:"url"`
}

// Result is the outcome of a confirmation attempt. Confirm is safe to
// call more than once for the same token; later calls report the
// recorded outcome without moving money again.
type Result struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Payment *models.Payment `json:"payment,omitempty"`
}
