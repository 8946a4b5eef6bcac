package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"storefront/internal/domain"
)

// Status is the outcome tag returned by the payment network.
type Status string

const (
	StatusAuthorized Status = "authorized"
	StatusDeclined   Status = "declined"
	StatusFailed     Status = "failed"
	StatusCaptured   Status = "captured"
	StatusVoided     Status = "voided"
	StatusRefunded   Status = "refunded"
)

func (s Status) known() bool {
	switch s {
	case StatusAuthorized, StatusDeclined, StatusFailed, StatusCaptured, StatusVoided, StatusRefunded:
		return true
	}
	return false
}

type AuthorizeRequest struct {
	MerchantID      string `json:"merchantId"`
	OrderID         string `json:"orderId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	CardToken       string `json:"cardToken"`
	WalletCardToken string `json:"walletCardToken,omitempty"`
}

type CaptureRequest struct {
	MerchantID    string `json:"merchantId"`
	OrderID       string `json:"orderId,omitempty"`
	TransactionID string `json:"-"`
	Amount        int64  `json:"amount"`
}

type VoidRequest struct {
	MerchantID    string `json:"merchantId"`
	OrderID       string `json:"orderId,omitempty"`
	TransactionID string `json:"-"`
}

type RefundRequest struct {
	MerchantID    string `json:"merchantId"`
	OrderID       string `json:"orderId,omitempty"`
	TransactionID string `json:"-"`
	Amount        int64  `json:"amount"`
}

type Result struct {
	Status            Status `json:"status"`
	TransactionID     string `json:"transactionId,omitempty"`
	AuthorizationCode string `json:"authorizationCode,omitempty"`
	DeclineReason     string `json:"declineReason,omitempty"`
}

// Client talks to the external payment network. Every call is a single
// request; failures are reported as PAYMENT_NETWORK and never retried here.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Logger  *zap.Logger
}

func (c *Client) Authorize(ctx context.Context, req AuthorizeRequest) (*Result, error) {
	if strings.TrimSpace(req.CardToken) == "" {
		return nil, domain.ErrMissingCardToken
	}
	return c.call(ctx, "authorize", "/api/v1/payments/authorize", req)
}

func (c *Client) Capture(ctx context.Context, req CaptureRequest) (*Result, error) {
	return c.call(ctx, "capture", transactionPath(req.TransactionID, "capture"), req)
}

func (c *Client) Void(ctx context.Context, req VoidRequest) (*Result, error) {
	return c.call(ctx, "void", transactionPath(req.TransactionID, "void"), req)
}

func (c *Client) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	return c.call(ctx, "refund", transactionPath(req.TransactionID, "refund"), req)
}

func transactionPath(txnID, op string) string {
	return "/api/v1/payments/" + url.PathEscape(txnID) + "/" + op
}

func (c *Client) call(ctx context.Context, op, path string, body any) (*Result, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, networkError(op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+path, bytes.NewReader(raw))
	if err != nil {
		return nil, networkError(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	hc := c.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		c.logger().Warn("payment network unreachable", zap.String("operation", op), zap.Error(err))
		return nil, networkError(op, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger().Warn("payment network rejected request",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
			zap.Duration("latency", time.Since(start)),
		)
		return nil, networkError(op, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}

	var out Result
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, networkError(op, fmt.Errorf("decode response: %w", err))
	}
	if !out.Status.known() {
		return nil, networkError(op, fmt.Errorf("unknown status %q", out.Status))
	}
	c.logger().Debug("payment network call",
		zap.String("operation", op),
		zap.String("result", string(out.Status)),
		zap.String("transaction_id", out.TransactionID),
		zap.Duration("latency", time.Since(start)),
	)
	return &out, nil
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func networkError(op string, err error) error {
	return domain.WrapError(domain.ErrorCodePaymentNetwork, op+" failed", err).WithDetail("operation", op)
}
