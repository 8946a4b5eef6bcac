package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"storefront/internal/domain"
)

// Client calls the wallet provider's merchant API: payment request creation
// for terminal payments and the status lookup used on mobile return.
type Client struct {
	BaseURL string
	// StatusEndpoint defaults to {BaseURL}/api/v1/payment-requests.
	StatusEndpoint string
	APIKey         string
	HTTP           *http.Client
	Logger         *zap.Logger
}

type PaymentRequest struct {
	MerchantID   string `json:"merchantId"`
	MerchantName string `json:"merchantName,omitempty"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Reference    string `json:"reference,omitempty"`
	ReturnURL    string `json:"returnUrl"`
	ExpiresIn    int64  `json:"expiresInSeconds,omitempty"`
}

type PaymentRequestResp struct {
	RequestID string    `json:"requestId"`
	QRCodeURL string    `json:"qrCodeUrl"`
	DeepLink  string    `json:"deepLinkUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type statusResp struct {
	Status string `json:"status"`
}

func (c *Client) CreatePaymentRequest(ctx context.Context, in PaymentRequest) (PaymentRequestResp, error) {
	var out PaymentRequestResp
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := c.do(ctx, "create_payment_request", http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/api/v1/payment-requests", bytes.NewReader(raw), &out); err != nil {
		return out, domain.WrapError(domain.ErrorCodeWalletUnavailable, "create wallet payment request", err)
	}
	if strings.TrimSpace(out.RequestID) == "" {
		return out, domain.NewDomainError(domain.ErrorCodeWalletUnavailable, "wallet returned no request id")
	}
	if out.QRCodeURL == "" {
		out.QRCodeURL = out.DeepLink
	}
	return out, nil
}

// Status resolves the current status of a wallet payment request.
func (c *Client) Status(ctx context.Context, requestID string) (domain.TerminalPaymentStatus, error) {
	if strings.TrimSpace(requestID) == "" {
		return "", domain.NewDomainError(domain.ErrorCodeValidationFailed, "request id required")
	}
	base := c.StatusEndpoint
	if base == "" {
		base = strings.TrimRight(c.BaseURL, "/") + "/api/v1/payment-requests"
	}
	var out statusResp
	if err := c.do(ctx, "payment_status", http.MethodGet, strings.TrimRight(base, "/")+"/"+url.PathEscape(requestID)+"/status", nil, &out); err != nil {
		return "", domain.WrapError(domain.ErrorCodeWalletUnavailable, "wallet status lookup", err)
	}
	st, ok := domain.ParseTerminalPaymentStatus(strings.ToLower(out.Status))
	if !ok {
		return "", domain.NewDomainError(domain.ErrorCodeWalletUnavailable, fmt.Sprintf("wallet reported unknown status %q", out.Status))
	}
	return st, nil
}

func (c *Client) do(ctx context.Context, op, method, u string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	hc := c.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 8 * time.Second}
	}
	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		c.logger().Warn("wallet api unreachable", zap.String("operation", op), zap.Error(err))
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger().Warn("wallet api rejected request",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
			zap.Duration("latency", time.Since(start)),
		)
		return fmt.Errorf("wallet api error: %d %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if len(data) == 0 {
		return errors.New("wallet api returned empty body")
	}
	c.logger().Debug("wallet api call",
		zap.String("operation", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)
	return json.Unmarshal(data, out)
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
