package usecase

import (
	"context"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"storefront/internal/domain"
	"storefront/internal/infrastructure/idp"
	"storefront/internal/infrastructure/network"
	"storefront/internal/infrastructure/wallet"
)

type mockNetwork struct {
	mock.Mock
}

func (m *mockNetwork) Authorize(ctx context.Context, req network.AuthorizeRequest) (*network.Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*network.Result)
	return res, args.Error(1)
}

func (m *mockNetwork) Capture(ctx context.Context, req network.CaptureRequest) (*network.Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*network.Result)
	return res, args.Error(1)
}

func (m *mockNetwork) Void(ctx context.Context, req network.VoidRequest) (*network.Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*network.Result)
	return res, args.Error(1)
}

func (m *mockNetwork) Refund(ctx context.Context, req network.RefundRequest) (*network.Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*network.Result)
	return res, args.Error(1)
}

type mockWallet struct {
	mock.Mock
}

func (m *mockWallet) CreatePaymentRequest(ctx context.Context, in wallet.PaymentRequest) (wallet.PaymentRequestResp, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(wallet.PaymentRequestResp), args.Error(1)
}

func (m *mockWallet) Status(ctx context.Context, requestID string) (domain.TerminalPaymentStatus, error) {
	args := m.Called(ctx, requestID)
	return args.Get(0).(domain.TerminalPaymentStatus), args.Error(1)
}

// fakeProvider stands in for a discovered identity provider.
type fakeProvider struct {
	kind domain.ProviderKind

	mu        sync.Mutex
	tokens    *idp.Tokens
	err       error
	exchanges int
	lastPay   *idp.PaymentClaims
}

func (p *fakeProvider) Kind() domain.ProviderKind { return p.kind }

func (p *fakeProvider) AuthCodeURL(ch *domain.ChallengeState, pay *idp.PaymentClaims) string {
	p.mu.Lock()
	p.lastPay = pay
	p.mu.Unlock()
	return "https://" + string(p.kind) + ".idp.test/authorize?state=" + ch.State
}

func (p *fakeProvider) LoginURL(ch *domain.ChallengeState) string {
	return "https://" + string(p.kind) + ".idp.test/authorize?login=1&state=" + ch.State
}

func (p *fakeProvider) Exchange(_ context.Context, _ string, _ *domain.ChallengeState) (*idp.Tokens, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchanges++
	return p.tokens, p.err
}

func (p *fakeProvider) respond(tokens *idp.Tokens, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens, p.err = tokens, err
}

type fakeRegistry struct {
	providers map[domain.ProviderKind]idp.Provider
	err       error
}

func (r *fakeRegistry) Provider(_ context.Context, kind domain.ProviderKind) (idp.Provider, error) {
	if r.err != nil {
		return nil, r.err
	}
	p, ok := r.providers[kind]
	if !ok {
		return nil, domain.ErrWalletUnavailable
	}
	return p, nil
}

// notifyRecorder captures terminal pushes.
type notifyRecorder struct {
	mu   sync.Mutex
	sent []domain.TerminalMessage
	err  error
}

func (n *notifyRecorder) Notify(_ context.Context, _ string, msg domain.TerminalMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *notifyRecorder) count(msgType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.sent {
		if m.Type == msgType {
			c++
		}
	}
	return c
}

func accessToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("issuer-key"))
	require.NoError(t, err)
	return s
}
