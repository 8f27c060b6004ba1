// Package payos is the outbound client for the payment provider: checkout
// creation, payout-account balance and payout (refund) creation. Requests
// are signed with an HMAC-SHA256 checksum over a canonical field order.
package payos

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrGatewayTimeout marks unreachable-or-timed-out calls; the caller may
// retry. Provider-level rejections come back as *ProviderError and must not
// be blindly retried.
var ErrGatewayTimeout = errors.New("payment gateway timeout or unreachable")

type ProviderError struct {
	Code string
	Desc string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider rejected request: %s %s", e.Code, e.Desc)
}

type Config struct {
	Endpoint    string
	ClientID    string
	APIKey      string
	ChecksumKey string
	ReturnURL   string
	CancelURL   string
	Timeout     time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type CheckoutRequest struct {
	OrderCode   int64
	Amount      int64
	Description string
	ExpiredAt   time.Time
}

type CheckoutResult struct {
	CheckoutURL string
	QRCode      string
	OrderCode   int64
}

type PayoutRequest struct {
	ReferenceID     string
	Amount          int64
	Description     string
	ToBin           string
	ToAccountNumber string
}

type PayoutTransaction struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	State  string `json:"state"`
}

type PayoutResult struct {
	ID           string              `json:"id"`
	ReferenceID  string              `json:"referenceId"`
	Transactions []PayoutTransaction `json:"transactions"`
}

// envelope is the provider's uniform response shape. The provider answers
// HTTP 200 even on rejection; only code "00" is success.
type envelope struct {
	Code string          `json:"code"`
	Desc string          `json:"desc"`
	Data json.RawMessage `json:"data"`
}

const successCode = "00"

func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	body := map[string]any{
		"orderCode":   req.OrderCode,
		"amount":      req.Amount,
		"description": req.Description,
		"returnUrl":   c.cfg.ReturnURL,
		"cancelUrl":   c.cfg.CancelURL,
		"expiredAt":   req.ExpiredAt.Unix(),
		"signature": c.signChecksum(fmt.Sprintf(
			"amount=%d&cancelUrl=%s&description=%s&orderCode=%d&returnUrl=%s",
			req.Amount, c.cfg.CancelURL, req.Description, req.OrderCode, c.cfg.ReturnURL,
		)),
	}

	var data struct {
		CheckoutURL string `json:"checkoutUrl"`
		QRCode      string `json:"qrCode"`
		OrderCode   int64  `json:"orderCode"`
	}
	if err := c.call(ctx, http.MethodPost, "/v2/payment-requests", body, "", &data); err != nil {
		return nil, err
	}

	return &CheckoutResult{
		CheckoutURL: data.CheckoutURL,
		QRCode:      data.QRCode,
		OrderCode:   data.OrderCode,
	}, nil
}

func (c *Client) GetPayoutAccountBalance(ctx context.Context) (int64, error) {
	var data struct {
		Balance int64 `json:"balance"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/payouts-account/balance", nil, "", &data); err != nil {
		return 0, err
	}
	return data.Balance, nil
}

func (c *Client) CreatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	body := map[string]any{
		"referenceId":     req.ReferenceID,
		"amount":          req.Amount,
		"description":     req.Description,
		"toBin":           req.ToBin,
		"toAccountNumber": req.ToAccountNumber,
	}
	body["signature"] = c.signSortedFields(map[string]string{
		"referenceId":     req.ReferenceID,
		"amount":          fmt.Sprintf("%d", req.Amount),
		"description":     req.Description,
		"toBin":           req.ToBin,
		"toAccountNumber": req.ToAccountNumber,
	})

	var data PayoutResult
	if err := c.call(ctx, http.MethodPost, "/v1/payouts", body, uuid.NewString(), &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (c *Client) call(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	url := strings.TrimRight(c.cfg.Endpoint, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-client-id", c.cfg.ClientID)
	req.Header.Set("x-api-key", c.cfg.APIKey)
	if idempotencyKey != "" {
		req.Header.Set("x-idempotency-key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeoutOrNetwork(err) {
			c.logger.Warn("payment gateway unreachable",
				zap.String("path", path),
				zap.Error(err))
			return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
		}
		return fmt.Errorf("gateway call %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway call %s: unexpected status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	// HTTP 200 with a non-success code is a rejection, never a success.
	if env.Code != successCode {
		return &ProviderError{Code: env.Code, Desc: env.Desc}
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}

func (c *Client) signChecksum(canonical string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.ChecksumKey))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// signSortedFields canonicalizes fields as key=value pairs in ascending key
// order before signing, per the provider's payout contract.
func (c *Client) signSortedFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + fields[k]
	}
	return c.signChecksum(strings.Join(pairs, "&"))
}

func isTimeoutOrNetwork(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
