package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"storefront/internal/domain"
)

func TestClient_CreatePaymentRequest(t *testing.T) {
	expires := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/payment-requests", r.URL.Path)
		assert.Equal(t, "wallet-key", r.Header.Get("X-API-Key"))

		var in PaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, int64(1250), in.Amount)
		assert.Equal(t, "http://store.test/terminal/mobile-return", in.ReturnURL)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"requestId":   "wr-1",
			"deepLinkUrl": "wallet://pay/wr-1",
			"expiresAt":   expires,
		})
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, APIKey: "wallet-key"}
	out, err := c.CreatePaymentRequest(context.Background(), PaymentRequest{
		MerchantID: "m-1", Amount: 1250, Currency: "CAD", ReturnURL: "http://store.test/terminal/mobile-return",
	})
	require.NoError(t, err)
	assert.Equal(t, "wr-1", out.RequestID)
	assert.Equal(t, "wallet://pay/wr-1", out.QRCodeURL)
	assert.True(t, expires.Equal(out.ExpiresAt))
}

func TestClient_CreatePaymentRequestFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	core, logs := observer.New(zap.WarnLevel)
	_, err := (&Client{BaseURL: srv.URL, Logger: zap.New(core)}).CreatePaymentRequest(context.Background(), PaymentRequest{Amount: 1})
	assert.True(t, errors.Is(err, domain.ErrWalletUnavailable))

	entries := logs.FilterMessage("wallet api rejected request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "create_payment_request", fields["operation"])
	assert.Equal(t, int64(http.StatusInternalServerError), fields["status"])
}

func TestClient_TimeoutIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	core, logs := observer.New(zap.WarnLevel)
	c := &Client{BaseURL: srv.URL, HTTP: &http.Client{Timeout: 20 * time.Millisecond}, Logger: zap.New(core)}
	_, err := c.Status(context.Background(), "wr-1")
	assert.True(t, errors.Is(err, domain.ErrWalletUnavailable))

	entries := logs.FilterMessage("wallet api unreachable").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "payment_status", entries[0].ContextMap()["operation"])
}

func TestClient_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status-api/wr-7/status", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		_, _ = w.Write([]byte(`{"status":"APPROVED"}`))
	}))
	defer srv.Close()

	c := &Client{StatusEndpoint: srv.URL + "/status-api/", APIKey: "k"}
	st, err := c.Status(context.Background(), "wr-7")
	require.NoError(t, err)
	assert.Equal(t, domain.TerminalPaymentApproved, st)
}

func TestClient_StatusUnknownValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"settling"}`))
	}))
	defer srv.Close()

	_, err := (&Client{BaseURL: srv.URL}).Status(context.Background(), "wr-1")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeWalletUnavailable))

	_, err = (&Client{BaseURL: srv.URL}).Status(context.Background(), "")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))
}
