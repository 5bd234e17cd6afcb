package webpay

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTimeout is returned when the gateway did not answer within the
	// configured timeout, after exhausting retries. The transaction
	// state on the gateway side is unknown; a status query is the only
	// reliable recovery.
	ErrTimeout = errors.New("webpay: request timed out")

	// ErrConflict is returned when the gateway reports the transaction
	// as already locked or already processed (HTTP 409/422). It is
	// never retried here; the caller resolves it with a status query.
	ErrConflict = errors.New("webpay: transaction already being processed")
)

// APIError is a structured rejection from the gateway. It is terminal
// and never retried.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("webpay: gateway rejected request (%d): %s", e.StatusCode, e.Message)
}

// isRetryable reports whether err is a transport-level failure worth
// retrying. Application errors (APIError, ErrConflict) are terminal.
func isRetryable(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
