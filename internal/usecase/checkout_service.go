package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/infrastructure/idp"
	"storefront/internal/infrastructure/network"
	"storefront/internal/metrics"
)

// CheckoutService runs the redirect-based checkout: initiation sends the
// browser to an identity provider, the callback turns the returned code into
// a card credential and authorizes it on the payment network.
type CheckoutService struct {
	Orders     OrderRepo
	Products   ProductCatalog
	Carts      CartStore
	Providers  ProviderRegistry
	Challenges ChallengeBinder
	Network    PaymentNetwork
	MerchantID string
	Currency   string
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

type InitiateRequest struct {
	SessionID string
	Provider  domain.ProviderKind
	// Identity is the signed-in caller, nil for anonymous sessions.
	Identity *domain.Identity
}

type InitiateResult struct {
	OrderID     string
	RedirectURL string
}

type CallbackRequest struct {
	SessionID        string
	Code             string
	State            string
	Error            string
	ErrorDescription string
	Identity         *domain.Identity
}

type CallbackResult struct {
	Order *domain.Order
	// AdoptedIdentity is set when the wallet ID token named the purchaser.
	AdoptedIdentity *domain.Identity
}

func (s *CheckoutService) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	res, err := s.initiate(ctx, req)
	if err != nil {
		s.Metrics.Checkout(string(req.Provider), string(domain.GetErrorCode(err)))
		return nil, err
	}
	s.Metrics.Checkout(string(req.Provider), "redirect")
	return res, nil
}

func (s *CheckoutService) initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if req.Provider != domain.ProviderBank && req.Provider != domain.ProviderWallet {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, fmt.Sprintf("unknown provider %q", req.Provider))
	}
	if req.Provider == domain.ProviderBank && req.Identity == nil {
		return nil, domain.ErrAuthRequired
	}

	lines, err := s.Carts.Get(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if len(lines) == 0 {
		return nil, domain.ErrEmptyCart
	}
	items, subtotal, currency, err := s.snapshot(ctx, lines)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	o := &domain.Order{
		ID:        newID(),
		UserID:    domain.GuestUserID,
		Items:     items,
		Subtotal:  subtotal,
		Currency:  currency,
		Provider:  req.Provider,
		Status:    domain.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Identity != nil && req.Identity.Subject != "" {
		o.UserID = req.Identity.Subject
	}
	if err := s.Orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	ch, err := s.Challenges.Bind(req.SessionID, req.Provider, domain.PurposeCheckout, o.ID)
	if err != nil {
		s.fail(ctx, o, err)
		return nil, err
	}
	p, err := s.Providers.Provider(ctx, req.Provider)
	if err != nil {
		s.Challenges.Discard(req.SessionID)
		s.fail(ctx, o, err)
		return nil, err
	}

	var claims *idp.PaymentClaims
	if req.Provider == domain.ProviderWallet {
		claims = &idp.PaymentClaims{Amount: o.Subtotal, Currency: o.Currency, MerchantID: s.MerchantID, OrderID: o.ID}
	}
	s.logger().Info("checkout initiated",
		zap.String("order_id", o.ID),
		zap.String("provider", string(req.Provider)),
		zap.Int64("subtotal", o.Subtotal),
	)
	return &InitiateResult{OrderID: o.ID, RedirectURL: p.AuthCodeURL(ch, claims)}, nil
}

// snapshot resolves every cart line before anything is written, so a bad
// cart never produces an order.
func (s *CheckoutService) snapshot(ctx context.Context, lines []domain.CartLine) ([]domain.OrderItem, int64, string, error) {
	items := make([]domain.OrderItem, 0, len(lines))
	var subtotal int64
	currency := ""
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, 0, "", domain.NewDomainError(domain.ErrorCodeValidationFailed, "cart quantity must be positive").
				WithDetail("productId", l.ProductID)
		}
		p, err := s.Products.Get(ctx, l.ProductID)
		if err != nil {
			return nil, 0, "", err
		}
		c := p.Currency
		if c == "" {
			c = s.Currency
		}
		if currency == "" {
			currency = c
		} else if !strings.EqualFold(currency, c) {
			return nil, 0, "", domain.NewDomainError(domain.ErrorCodeValidationFailed, "cart mixes currencies").
				WithDetail("productId", p.ID)
		}
		line := p.Price * int64(l.Quantity)
		items = append(items, domain.OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    l.Quantity,
			UnitPrice:   p.Price,
			Subtotal:    line,
		})
		subtotal += line
	}
	return items, subtotal, strings.ToUpper(currency), nil
}

// Callback completes a checkout started by Initiate. When the order is known
// the result is returned alongside any error.
func (s *CheckoutService) Callback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	ch, err := s.Challenges.Consume(req.SessionID, req.State)
	if err != nil {
		if ch != nil {
			s.logger().Warn("checkout callback state mismatch",
				zap.String("order_id", ch.OrderID),
				zap.String("provider", string(ch.Provider)),
			)
			s.Metrics.Callback(string(ch.Provider), string(domain.ErrorCodeStateMismatch))
		}
		return nil, err
	}
	if ch.Purpose != domain.PurposeCheckout || ch.OrderID == "" {
		return nil, domain.ErrInvalidState
	}

	o, err := s.Orders.Get(ctx, ch.OrderID)
	if err != nil {
		return nil, err
	}
	res := &CallbackResult{Order: o}
	defer func() { s.Metrics.Callback(string(ch.Provider), string(res.Order.Status)) }()

	if o.Status != domain.OrderPending {
		return res, &domain.InvalidTransitionError{Entity: "order", ID: o.ID, From: string(o.Status), To: string(domain.OrderAuthorized)}
	}

	if req.Error != "" {
		perr := domain.NewDomainError(domain.ErrorCodeProviderAuth, providerMessage(req.Error, req.ErrorDescription)).
			WithDetail("providerError", req.Error)
		res.Order = s.settle(ctx, o, domain.OrderDeclined, req.Error)
		return res, perr
	}
	if strings.TrimSpace(req.Code) == "" {
		err := domain.NewDomainError(domain.ErrorCodeTokenExchange, "authorization code missing")
		res.Order = s.fail(ctx, o, err)
		return res, err
	}

	p, err := s.Providers.Provider(ctx, ch.Provider)
	if err != nil {
		res.Order = s.fail(ctx, o, err)
		return res, err
	}
	toks, err := p.Exchange(ctx, req.Code, ch)
	if err != nil {
		res.Order = s.fail(ctx, o, err)
		return res, err
	}
	cred, err := idp.ExtractCardCredential(ch.Provider, toks.AccessToken)
	if err != nil {
		res.Order = s.fail(ctx, o, err)
		return res, err
	}

	if ch.Provider == domain.ProviderWallet && o.UserID == domain.GuestUserID && toks.Identity != nil {
		o.UserID = toks.Identity.Subject
		res.AdoptedIdentity = toks.Identity
	}

	card, walletCard := cred.Tokens()
	start := time.Now()
	result, err := s.Network.Authorize(ctx, network.AuthorizeRequest{
		MerchantID:      s.MerchantID,
		OrderID:         o.ID,
		Amount:          o.Subtotal,
		Currency:        o.Currency,
		CardToken:       card,
		WalletCardToken: walletCard,
	})
	if err != nil {
		s.Metrics.NetworkCall("authorize", "error", time.Since(start))
		res.Order = s.fail(ctx, o, err)
		return res, err
	}
	s.Metrics.NetworkCall("authorize", string(result.Status), time.Since(start))

	switch result.Status {
	case network.StatusAuthorized:
		from := o.Status
		if err := o.Transition(domain.OrderAuthorized); err != nil {
			return res, err
		}
		o.PaymentDetails = &domain.PaymentDetails{
			TransactionID:     result.TransactionID,
			AuthorizationCode: result.AuthorizationCode,
			CardToken:         card,
			WalletCardToken:   walletCard,
			PaymentMethod:     cred.Method(),
		}
		if err := s.Orders.Update(ctx, o, from); err != nil {
			s.logger().Error("authorized order not persisted",
				zap.String("order_id", o.ID),
				zap.String("transaction_id", result.TransactionID),
				zap.Error(err),
			)
			s.releaseHold(ctx, o.ID, result.TransactionID)
			if cur, gerr := s.Orders.Get(ctx, o.ID); gerr == nil {
				res.Order = cur
			}
			return res, err
		}
		s.Metrics.OrderTransition(string(from), string(o.Status))
		if err := s.Carts.Clear(ctx, req.SessionID); err != nil {
			s.logger().Warn("cart not cleared", zap.String("order_id", o.ID), zap.Error(err))
		}
		s.logger().Info("order authorized",
			zap.String("order_id", o.ID),
			zap.String("transaction_id", result.TransactionID),
			zap.String("payment_method", string(cred.Method())),
		)
		res.Order = o
		return res, nil
	case network.StatusDeclined:
		res.Order = s.settle(ctx, o, domain.OrderDeclined, result.DeclineReason)
		return res, domain.NewDomainError(domain.ErrorCodePaymentDeclined, declineMessage(result.DeclineReason))
	default:
		err := domain.NewDomainError(domain.ErrorCodePaymentNetwork, fmt.Sprintf("authorize returned %s", result.Status))
		res.Order = s.fail(ctx, o, err)
		return res, err
	}
}

// releaseHold voids an authorization whose order moved on while the network
// call was in flight.
func (s *CheckoutService) releaseHold(ctx context.Context, orderID, transactionID string) {
	start := time.Now()
	res, err := s.Network.Void(ctx, network.VoidRequest{
		MerchantID:    s.MerchantID,
		OrderID:       orderID,
		TransactionID: transactionID,
	})
	if err != nil {
		s.Metrics.NetworkCall("void", "error", time.Since(start))
		s.logger().Error("orphaned authorization not voided",
			zap.String("order_id", orderID),
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
		return
	}
	s.Metrics.NetworkCall("void", string(res.Status), time.Since(start))
	if res.Status != network.StatusVoided {
		s.logger().Error("orphaned authorization not voided",
			zap.String("order_id", orderID),
			zap.String("transaction_id", transactionID),
			zap.String("status", string(res.Status)),
		)
		return
	}
	s.logger().Warn("orphaned authorization voided",
		zap.String("order_id", orderID),
		zap.String("transaction_id", transactionID),
	)
}

func (s *CheckoutService) fail(ctx context.Context, o *domain.Order, cause error) *domain.Order {
	return s.settle(ctx, o, domain.OrderFailed, failureReason(cause))
}

// settle moves o to a final status and persists it. A lost race is logged;
// the stored order is returned in that case.
func (s *CheckoutService) settle(ctx context.Context, o *domain.Order, to domain.OrderStatus, reason string) *domain.Order {
	return settleOrder(ctx, s.Orders, s.logger(), s.Metrics, o, to, reason)
}

func (s *CheckoutService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func settleOrder(ctx context.Context, repo OrderRepo, log *zap.Logger, m *metrics.Metrics, o *domain.Order, to domain.OrderStatus, reason string) *domain.Order {
	from := o.Status
	next := o.Clone()
	if err := next.Transition(to); err != nil {
		log.Warn("order transition rejected", zap.String("order_id", o.ID), zap.Error(err))
		return o
	}
	next.FailureReason = reason
	if err := repo.Update(ctx, next, from); err != nil {
		log.Error("order transition not persisted",
			zap.String("order_id", o.ID),
			zap.String("to", string(to)),
			zap.Error(err),
		)
		if cur, gerr := repo.Get(ctx, o.ID); gerr == nil {
			return cur
		}
		return o
	}
	m.OrderTransition(string(from), string(to))
	log.Info("order settled",
		zap.String("order_id", o.ID),
		zap.String("status", string(to)),
		zap.String("reason", reason),
	)
	return next
}

func failureReason(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) {
		return string(de.Code) + ": " + de.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func providerMessage(code, description string) string {
	if description == "" {
		return "identity provider returned " + code
	}
	return description
}

func declineMessage(reason string) string {
	if reason == "" {
		return "payment declined"
	}
	return reason
}
