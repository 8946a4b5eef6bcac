package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/challenge"
	"storefront/internal/config"
	"storefront/internal/domain"
	"storefront/internal/infrastructure/idp"
	"storefront/internal/infrastructure/network"
	"storefront/internal/infrastructure/repo"
	"storefront/internal/infrastructure/terminalhub"
	"storefront/internal/metrics"
	"storefront/internal/usecase"
)

type stubProvider struct {
	kind   domain.ProviderKind
	tokens *idp.Tokens
}

func (p *stubProvider) Kind() domain.ProviderKind { return p.kind }

func (p *stubProvider) AuthCodeURL(ch *domain.ChallengeState, _ *idp.PaymentClaims) string {
	return "https://idp.test/" + string(p.kind) + "?state=" + ch.State
}

func (p *stubProvider) LoginURL(ch *domain.ChallengeState) string {
	return "https://idp.test/login?state=" + ch.State
}

func (p *stubProvider) Exchange(context.Context, string, *domain.ChallengeState) (*idp.Tokens, error) {
	return p.tokens, nil
}

type stubRegistry map[domain.ProviderKind]idp.Provider

func (r stubRegistry) Provider(_ context.Context, kind domain.ProviderKind) (idp.Provider, error) {
	p, ok := r[kind]
	if !ok {
		return nil, domain.ErrWalletUnavailable
	}
	return p, nil
}

// stubNetwork approves everything.
type stubNetwork struct {
	mu    sync.Mutex
	calls []string
}

func (n *stubNetwork) record(op string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, op)
}

func (n *stubNetwork) Authorize(context.Context, network.AuthorizeRequest) (*network.Result, error) {
	n.record("authorize")
	return &network.Result{Status: network.StatusAuthorized, TransactionID: "T1", AuthorizationCode: "A1"}, nil
}

func (n *stubNetwork) Capture(context.Context, network.CaptureRequest) (*network.Result, error) {
	n.record("capture")
	return &network.Result{Status: network.StatusCaptured, TransactionID: "T1"}, nil
}

func (n *stubNetwork) Void(context.Context, network.VoidRequest) (*network.Result, error) {
	n.record("void")
	return &network.Result{Status: network.StatusVoided, TransactionID: "T1"}, nil
}

func (n *stubNetwork) Refund(context.Context, network.RefundRequest) (*network.Result, error) {
	n.record("refund")
	return &network.Result{Status: network.StatusRefunded, TransactionID: "T1"}, nil
}

type testEnv struct {
	srv    *Server
	net    *stubNetwork
	orders *repo.MemoryOrderRepo
	cookie *http.Cookie
}

func walletToken(t *testing.T) string {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"card_token": "ctok", "wallet_card_token": "wtok",
	}).SignedString([]byte("wallet"))
	require.NoError(t, err)
	return s
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.SessionSecret = "test-secret"
	cfg.AdminAPIKey = "admin-key"
	cfg.CheckoutRatePerSecond = 0
	for _, m := range mutate {
		m(&cfg)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	orders := repo.NewMemoryOrderRepo()
	carts := repo.NewMemoryCartRepo()
	products := repo.NewMemoryProductRepo(domain.Product{ID: "P1", Name: "Mug", Price: 1000, Currency: "CAD"})
	terminals := repo.NewMemoryTerminalRepo()
	require.NoError(t, terminals.Put(context.Background(), domain.Terminal{ID: "term-1", StoreID: cfg.StoreID, APIKey: "tkey", Status: domain.TerminalOffline}))
	binder := &challenge.Binder{Store: challenge.NewStore(time.Minute)}
	providers := stubRegistry{
		domain.ProviderBank:   &stubProvider{kind: domain.ProviderBank, tokens: &idp.Tokens{AccessToken: "bank-card", Identity: &domain.Identity{Subject: "user-1"}}},
		domain.ProviderWallet: &stubProvider{kind: domain.ProviderWallet, tokens: &idp.Tokens{AccessToken: walletToken(t), Identity: &domain.Identity{Subject: "wallet-user"}}},
	}
	net := &stubNetwork{}
	hub := terminalhub.New(nil)

	srv := New(cfg, Deps{
		Auth:     &usecase.AuthService{Providers: providers, Challenges: binder, JWTSecret: cfg.SessionSecret},
		Cart:     &usecase.CartService{Carts: carts, Products: products},
		Checkout: &usecase.CheckoutService{Orders: orders, Products: products, Carts: carts, Providers: providers, Challenges: binder, Network: net, MerchantID: cfg.MerchantID, Currency: cfg.Currency, Metrics: m},
		Orders:   &usecase.OrderService{Orders: orders, Network: net, MerchantID: cfg.MerchantID, Metrics: m},
		Terminals: &usecase.TerminalService{
			Terminals: terminals, Payments: repo.NewMemoryTerminalPaymentRepo(), Notifier: hub, MerchantID: cfg.MerchantID,
		},
		Hub:      hub,
		Metrics:  m,
		Gatherer: reg,
	})
	return &testEnv{srv: srv, net: net, orders: orders}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	if e.cookie != nil {
		req.AddCookie(e.cookie)
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookie {
			e.cookie = c
		}
	}
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body struct {
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body.Error
}

func location(t *testing.T, w *httptest.ResponseRecorder) *url.URL {
	t.Helper()
	require.Equal(t, http.StatusFound, w.Code)
	u, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	return u
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCart_SessionCookieCarriesCart(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/cart/items", `{"productId":"P1","quantity":2}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, e.cookie)
	assert.True(t, e.cookie.HttpOnly)

	w = e.do(t, http.MethodGet, "/api/cart", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view usecase.CartView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, int64(2000), view.Subtotal)

	w = e.do(t, http.MethodPost, "/api/cart/items", `{"productId":"nope"}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	body := errorBody(t, w)
	assert.Equal(t, "PRODUCT_NOT_FOUND", body["code"])
	assert.NotEmpty(t, body["requestId"])
}

func TestWalletCheckout_EndToEnd(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/api/cart/items", `{"productId":"P1","quantity":1}`, nil)

	idpURL := location(t, e.do(t, http.MethodGet, "/checkout/wallet", "", nil))
	assert.Equal(t, "idp.test", idpURL.Host)
	state := idpURL.Query().Get("state")
	require.NotEmpty(t, state)

	back := location(t, e.do(t, http.MethodGet, "/payment/wallet/callback?code=abc&state="+url.QueryEscape(state), "", nil))
	require.True(t, strings.HasPrefix(back.Path, "/orders/"), back.String())
	orderID := strings.TrimSuffix(strings.TrimPrefix(back.Path, "/orders/"), "/confirmation")

	w := e.do(t, http.MethodGet, "/api/me", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "wallet-user")

	w = e.do(t, http.MethodGet, "/api/orders/"+orderID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var o domain.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &o))
	assert.Equal(t, domain.OrderAuthorized, o.Status)
	require.NotNil(t, o.PaymentDetails)
	assert.NotEmpty(t, o.PaymentDetails.TransactionID)
	assert.Empty(t, o.PaymentDetails.CardToken)
	assert.Empty(t, o.PaymentDetails.WalletCardToken)
	assert.NotContains(t, w.Body.String(), "ctok")
	assert.NotContains(t, w.Body.String(), "wtok")

	w = e.do(t, http.MethodPost, "/api/admin/orders/"+orderID+"/capture", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	admin := map[string]string{"X-Admin-Key": "admin-key"}
	w = e.do(t, http.MethodPost, "/api/admin/orders/"+orderID+"/capture", "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodPost, "/api/admin/orders/"+orderID+"/refund", `{"amount":400}`, admin)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &o))
	assert.Equal(t, domain.OrderCaptured, o.Status)
	assert.Equal(t, int64(400), o.PaymentDetails.RefundedAmount)

	w = e.do(t, http.MethodPost, "/api/admin/orders/"+orderID+"/void", "", admin)
	assert.Equal(t, http.StatusConflict, w.Code)
	body := errorBody(t, w)
	assert.Equal(t, "INVALID_TRANSITION", body["code"])
	assert.Equal(t, map[string]any{"from": "captured", "to": "voided"}, body["details"])

	w = e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Contains(t, w.Body.String(), "storefront_order_transitions_total")
}

func TestCheckout_BankNeedsSignIn(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/api/cart/items", `{"productId":"P1"}`, nil)

	u := location(t, e.do(t, http.MethodGet, "/checkout/bank", "", nil))
	assert.Equal(t, "/checkout", u.Path)
	assert.Equal(t, "AUTH_REQUIRED", u.Query().Get("error"))

	login := location(t, e.do(t, http.MethodGet, "/auth/login", "", nil))
	home := location(t, e.do(t, http.MethodGet, "/auth/callback?code=c&state="+url.QueryEscape(login.Query().Get("state")), "", nil))
	assert.Equal(t, "/", home.Path)

	idpURL := location(t, e.do(t, http.MethodGet, "/checkout/bank", "", nil))
	assert.Equal(t, "/bank", idpURL.Path)
}

func TestCallback_ProviderErrorRedirectsWithOrder(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/api/cart/items", `{"productId":"P1"}`, nil)
	state := location(t, e.do(t, http.MethodGet, "/checkout/wallet", "", nil)).Query().Get("state")

	u := location(t, e.do(t, http.MethodGet, "/payment/wallet/callback?error=access_denied&state="+url.QueryEscape(state), "", nil))
	assert.Equal(t, "PROVIDER_AUTH", u.Query().Get("error"))
	orderID := u.Query().Get("orderId")
	require.NotEmpty(t, orderID)

	o, err := e.orders.Get(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderDeclined, o.Status)
	assert.Empty(t, e.net.calls)
}

func TestCheckout_EmptyCartAndUnknownProvider(t *testing.T) {
	e := newTestEnv(t)
	u := location(t, e.do(t, http.MethodGet, "/checkout/wallet", "", nil))
	assert.Equal(t, "EMPTY_CART", u.Query().Get("error"))

	u = location(t, e.do(t, http.MethodGet, "/checkout/paypal", "", nil))
	assert.Equal(t, "VALIDATION_FAILED", u.Query().Get("error"))
}

func TestCheckout_RateLimited(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) {
		c.CheckoutRatePerSecond = 0.001
		c.CheckoutBurst = 1
	})
	e.do(t, http.MethodGet, "/checkout/wallet", "", nil)
	w := e.do(t, http.MethodGet, "/checkout/wallet", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", errorBody(t, w)["code"])
}

func TestTerminalPayment_OfflineTerminal(t *testing.T) {
	e := newTestEnv(t)
	admin := map[string]string{"X-Admin-Key": "admin-key"}

	w := e.do(t, http.MethodPost, "/api/terminal/payments", `{"terminalId":"term-1","amount":500}`, admin)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "TERMINAL_OFFLINE", errorBody(t, w)["code"])

	w = e.do(t, http.MethodGet, "/api/terminal/payments/missing", "", admin)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodGet, "/terminal/ws", "", map[string]string{"X-Terminal-Id": "term-1", "X-Terminal-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOrder_HiddenFromOtherUsers(t *testing.T) {
	e := newTestEnv(t)
	now := time.Now().UTC()
	require.NoError(t, e.orders.Create(context.Background(), &domain.Order{
		ID: "o-1", UserID: "someone-else", Status: domain.OrderPending, CreatedAt: now, UpdatedAt: now,
	}))

	w := e.do(t, http.MethodGet, "/api/orders/o-1", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ORDER_NOT_FOUND", errorBody(t, w)["code"])
}
