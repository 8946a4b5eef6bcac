package usecase

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/infrastructure/wallet"
	"storefront/internal/metrics"
)

const (
	defaultTerminalPaymentTTL = 5 * time.Minute
	defaultNotifyTimeout      = 5 * time.Second
)

// TerminalService manages QR payments started on a merchant terminal and
// completed in the payer's wallet app.
type TerminalService struct {
	Terminals     TerminalRepo
	Payments      TerminalPaymentRepo
	Wallet        WalletAPI
	Notifier      TerminalNotifier
	MerchantID    string
	MerchantName  string
	ReturnURL     string
	PaymentTTL    time.Duration
	NotifyTimeout time.Duration
	Logger        *zap.Logger
	Metrics       *metrics.Metrics

	inflight sync.WaitGroup
}

type InitiatePaymentRequest struct {
	StoreID    string
	TerminalID string
	Amount     int64
	Currency   string
	Reference  string
}

// MobileReturn is the wallet app's redirect back to the store.
type MobileReturn struct {
	RequestID string
	PaymentID string
	Status    string
}

// Authenticate checks a terminal's credentials.
func (s *TerminalService) Authenticate(ctx context.Context, terminalID, apiKey string) (*domain.Terminal, error) {
	t, err := s.Terminals.Get(ctx, terminalID)
	if err != nil {
		return nil, err
	}
	if apiKey == "" || subtle.ConstantTimeCompare([]byte(t.APIKey), []byte(apiKey)) != 1 {
		return nil, domain.NewDomainError(domain.ErrorCodeAuthRequired, "terminal credentials rejected")
	}
	return t, nil
}

// SetPresence records a terminal connecting or disconnecting.
func (s *TerminalService) SetPresence(ctx context.Context, terminalID string, online bool) {
	status := domain.TerminalOffline
	if online {
		status = domain.TerminalOnline
	}
	if err := s.Terminals.SetStatus(ctx, terminalID, status, time.Now().UTC()); err != nil {
		s.logger().Warn("terminal presence not recorded", zap.String("terminal_id", terminalID), zap.Error(err))
	}
}

func (s *TerminalService) InitiatePayment(ctx context.Context, req InitiatePaymentRequest) (*domain.TerminalPayment, error) {
	if req.Amount <= 0 {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "amount must be positive")
	}
	t, err := s.Terminals.Get(ctx, req.TerminalID)
	if err != nil {
		return nil, err
	}
	if t.StoreID != req.StoreID {
		return nil, domain.ErrTerminalNotFound
	}
	if t.Status != domain.TerminalOnline {
		return nil, domain.ErrTerminalOffline
	}
	if s.Wallet == nil {
		return nil, domain.ErrWalletUnavailable
	}

	ttl := s.PaymentTTL
	if ttl <= 0 {
		ttl = defaultTerminalPaymentTTL
	}
	currency := strings.ToUpper(req.Currency)
	wr, err := s.Wallet.CreatePaymentRequest(ctx, wallet.PaymentRequest{
		MerchantID:   s.MerchantID,
		MerchantName: s.MerchantName,
		Amount:       req.Amount,
		Currency:     currency,
		Reference:    req.Reference,
		ReturnURL:    s.ReturnURL,
		ExpiresIn:    int64(ttl / time.Second),
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &domain.TerminalPayment{
		PaymentID:       newID(),
		StoreID:         req.StoreID,
		TerminalID:      t.ID,
		Amount:          req.Amount,
		Currency:        currency,
		Reference:       req.Reference,
		Status:          domain.TerminalPaymentPending,
		WalletRequestID: wr.RequestID,
		QRCodeURL:       wr.QRCodeURL,
		ExpiresAt:       wr.ExpiresAt.UTC(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if p.ExpiresAt.IsZero() || p.ExpiresAt.After(now.Add(ttl)) {
		p.ExpiresAt = now.Add(ttl)
	}
	if err := s.Payments.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create terminal payment: %w", err)
	}
	s.Metrics.TerminalPayment(string(p.Status))
	s.logger().Info("terminal payment initiated",
		zap.String("payment_id", p.PaymentID),
		zap.String("terminal_id", p.TerminalID),
		zap.String("wallet_request_id", p.WalletRequestID),
		zap.Int64("amount", p.Amount),
	)

	s.notify(p.TerminalID, domain.TerminalMessage{
		Type: domain.TerminalMessagePaymentRequest,
		Payload: map[string]any{
			"paymentId": p.PaymentID,
			"amount":    p.Amount,
			"currency":  p.Currency,
			"reference": p.Reference,
			"qrCodeUrl": p.QRCodeURL,
			"expiresAt": p.ExpiresAt,
		},
	})
	return p, nil
}

func (s *TerminalService) GetPayment(ctx context.Context, storeID, paymentID string) (*domain.TerminalPayment, error) {
	p, err := s.Payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if storeID != "" && p.StoreID != storeID {
		return nil, domain.ErrPaymentNotFound
	}
	return p, nil
}

// CancelPayment is only legal while the payment is pending.
func (s *TerminalService) CancelPayment(ctx context.Context, storeID, paymentID string) (*domain.TerminalPayment, error) {
	p, err := s.GetPayment(ctx, storeID, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status == domain.TerminalPaymentCancelled {
		return p, nil
	}
	return s.UpdatePaymentStatus(ctx, p.PaymentID, domain.TerminalPaymentCancelled)
}

// HandleMobileReturn resolves the payment's status from the redirect, asking
// the wallet when the redirect carries only the request id.
func (s *TerminalService) HandleMobileReturn(ctx context.Context, in MobileReturn) (*domain.TerminalPayment, error) {
	var (
		p   *domain.TerminalPayment
		err error
	)
	switch {
	case in.RequestID != "":
		p, err = s.Payments.GetByWalletRequest(ctx, in.RequestID)
	case in.PaymentID != "":
		p, err = s.Payments.Get(ctx, in.PaymentID)
	default:
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "requestId or paymentId required")
	}
	if err != nil {
		return nil, err
	}

	status, ok := domain.ParseTerminalPaymentStatus(strings.ToLower(strings.TrimSpace(in.Status)))
	if !ok {
		if s.Wallet == nil || p.WalletRequestID == "" {
			return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "payment status unknown")
		}
		status, err = s.Wallet.Status(ctx, p.WalletRequestID)
		if err != nil {
			return nil, err
		}
	}
	if status == domain.TerminalPaymentPending {
		return p, nil
	}
	return s.UpdatePaymentStatus(ctx, p.PaymentID, status)
}

// UpdatePaymentStatus applies a status reported for a payment. A status equal
// to the current one is a no-op. Writes are compare-and-set from pending, so
// concurrent reports of the same status produce one write and one
// notification.
func (s *TerminalService) UpdatePaymentStatus(ctx context.Context, paymentID string, status domain.TerminalPaymentStatus) (*domain.TerminalPayment, error) {
	p, err := s.Payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status == status {
		return p, nil
	}
	next := *p
	if err := next.Transition(status); err != nil {
		return nil, err
	}

	swapped, err := s.Payments.CompareAndSetStatus(ctx, p.PaymentID, domain.TerminalPaymentPending, status, next.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if !swapped {
		cur, err := s.Payments.Get(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		if cur.Status == status {
			return cur, nil
		}
		return nil, &domain.InvalidTransitionError{Entity: "terminal payment", ID: cur.PaymentID, From: string(cur.Status), To: string(status)}
	}

	s.Metrics.TerminalPayment(string(status))
	s.logger().Info("terminal payment updated",
		zap.String("payment_id", next.PaymentID),
		zap.String("terminal_id", next.TerminalID),
		zap.String("status", string(status)),
	)
	if status == domain.TerminalPaymentApproved {
		s.notify(next.TerminalID, domain.TerminalMessage{
			Type:    domain.TerminalMessagePaymentComplete,
			Payload: domain.PaymentCompletePayload{PaymentID: next.PaymentID, Status: status},
		})
	}
	return &next, nil
}

// ExpireStale expires pending payments whose deadline has passed.
func (s *TerminalService) ExpireStale(ctx context.Context, now time.Time, limit int) (int, error) {
	stale, err := s.Payments.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range stale {
		swapped, err := s.Payments.CompareAndSetStatus(ctx, p.PaymentID, domain.TerminalPaymentPending, domain.TerminalPaymentExpired, now)
		if err != nil {
			s.logger().Warn("terminal payment not expired", zap.String("payment_id", p.PaymentID), zap.Error(err))
			continue
		}
		if swapped {
			s.Metrics.TerminalPayment(string(domain.TerminalPaymentExpired))
			n++
		}
	}
	return n, nil
}

// notify pushes msg to the terminal in the background. Failures are logged
// and counted; they never change the payment.
func (s *TerminalService) notify(terminalID string, msg domain.TerminalMessage) {
	if s.Notifier == nil {
		return
	}
	timeout := s.NotifyTimeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.Notifier.Notify(ctx, terminalID, msg); err != nil {
			s.Metrics.TerminalNotification("failed")
			s.logger().Warn("terminal notification failed",
				zap.String("terminal_id", terminalID),
				zap.String("type", msg.Type),
				zap.Error(err),
			)
			return
		}
		s.Metrics.TerminalNotification("sent")
	}()
}

// Wait blocks until background notifications have finished.
func (s *TerminalService) Wait() {
	s.inflight.Wait()
}

func (s *TerminalService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
