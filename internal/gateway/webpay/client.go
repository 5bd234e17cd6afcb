// Package webpay is a thin, resilient client for the Webpay Plus REST
// gateway. Each call is bounded by a configurable timeout and transport
// failures are retried with exponential backoff plus jitter. Application
// errors from the gateway are surfaced immediately without retry, and a
// 409/422 "already locked" answer on commit is reported as ErrConflict
// so the reconciliation engine can fall back to a status query.
package webpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

const transactionsPath = "/rswebpaytransaction/api/webpay/v1.2/transactions"

// NoRetries configures the client to make exactly one attempt per call.
const NoRetries = -1

// Config holds the gateway connection settings. All values come from
// the environment; nothing is hardcoded in the engine. Zero values
// select the defaults (5s timeout, 3 retries, 200ms base delay); use
// NoRetries to disable retrying.
type Config struct {
	BaseURL        string
	CommerceCode   string
	APIKey         string
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	switch {
	case cfg.MaxRetries == NoRetries:
		cfg.MaxRetries = 0
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
	}
}

// CreateTransaction registers a new transaction with the gateway and
// returns the token plus the redirect URL for the user.
func (c *Client) CreateTransaction(ctx context.Context, buyOrder, sessionID string, amount int64, returnURL string) (*CreateResponse, error) {
	body := map[string]interface{}{
		"buy_order":  buyOrder,
		"session_id": sessionID,
		"amount":     amount,
		"return_url": returnURL,
	}
	var resp CreateResponse
	if err := c.do(ctx, http.MethodPost, transactionsPath, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CommitTransaction confirms a transaction after the user returns from
// the gateway. A conflict answer means another confirmation already
// claimed the transaction; the caller must resolve via GetStatus.
func (c *Client) CommitTransaction(ctx context.Context, token string) (*TransactionResult, error) {
	var resp TransactionResult
	if err := c.do(ctx, http.MethodPut, transactionsPath+"/"+token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetStatus queries the authoritative state of a transaction.
func (c *Client) GetStatus(ctx context.Context, token string) (*TransactionResult, error) {
	var resp TransactionResult
	if err := c.do(ctx, http.MethodGet, transactionsPath+"/"+token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refund reverses or nullifies a committed transaction, fully or
// partially.
func (c *Client) Refund(ctx context.Context, token string, amount int64) (*RefundResponse, error) {
	body := map[string]interface{}{"amount": amount}
	var resp RefundResponse
	if err := c.do(ctx, http.MethodPost, transactionsPath+"/"+token+"/refunds", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do executes one gateway call with bounded retries. Only transport
// failures and timeouts are retried; classified application errors
// surface immediately.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoffDelay(attempt)):
			}
		}

		err := c.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}
	if errors.Is(lastErr, ErrTimeout) {
		return lastErr
	}
	return fmt.Errorf("%w: %v", ErrTimeout, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Tbk-Api-Key-Id", c.cfg.CommerceCode)
	req.Header.Set("Tbk-Api-Key-Secret", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The caller's context taking precedence over the per-request
		// timeout means the whole call was cancelled, not just slow.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrConflict, errorMessage(data))
	default:
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
}

// backoffDelay computes base * 2^(attempt-1) plus random jitter.
func (c *Client) backoffDelay(attempt int) time.Duration {
	backoff := c.cfg.RetryBaseDelay << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(c.cfg.RetryBaseDelay)))
	return backoff + jitter
}

func errorMessage(data []byte) string {
	var body struct {
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.ErrorMessage != "" {
		return body.ErrorMessage
	}
	return string(data)
}
