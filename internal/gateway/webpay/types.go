package webpay

// Transaction statuses reported by the gateway.
const (
	StatusInitialized = "INITIALIZED"
	StatusAuthorized  = "AUTHORIZED"
	StatusFailed      = "FAILED"
	StatusNullified   = "NULLIFIED"
	StatusReversed    = "REVERSED"
)

// A response code of zero means the transaction was approved.
const ResponseCodeApproved = 0

// CreateResponse is the gateway's answer to a transaction creation.
// The user must be redirected to URL with the token to complete payment.
type CreateResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

type CardDetail struct {
	CardNumber string `json:"card_number"`
}

// TransactionResult is the gateway's view of a transaction, returned by
// both the commit and the status operations.
type TransactionResult struct {
	VCI                string     `json:"vci"`
	Amount             int64      `json:"amount"`
	Status             string     `json:"status"`
	BuyOrder           string     `json:"buy_order"`
	SessionID          string     `json:"session_id"`
	CardDetail         CardDetail `json:"card_detail"`
	AccountingDate     string     `json:"accounting_date"`
	TransactionDate    string     `json:"transaction_date"`
	AuthorizationCode  string     `json:"authorization_code"`
	PaymentTypeCode    string     `json:"payment_type_code"`
	ResponseCode       int        `json:"response_code"`
	InstallmentsNumber int        `json:"installments_number"`
}

// Authorized reports whether the gateway approved the transaction.
func (r *TransactionResult) Authorized() bool {
	return r.Status == StatusAuthorized && r.ResponseCode == ResponseCodeApproved
}

// RefundResponse is the gateway's answer to a refund request.
type RefundResponse struct {
	Type              string `json:"type"`
	Balance           int64  `json:"balance"`
	AuthorizationCode string `json:"authorization_code"`
	ResponseCode      int    `json:"response_code"`
}
