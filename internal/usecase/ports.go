package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"storefront/internal/domain"
	"storefront/internal/infrastructure/idp"
	"storefront/internal/infrastructure/network"
	"storefront/internal/infrastructure/wallet"
)

type OrderRepo interface {
	Create(ctx context.Context, o *domain.Order) error
	Get(ctx context.Context, id string) (*domain.Order, error)
	// Update stores o only if the stored status still equals expected.
	Update(ctx context.Context, o *domain.Order, expected domain.OrderStatus) error
	List(ctx context.Context, page, pageSize int) ([]domain.Order, int, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
}

type ProductCatalog interface {
	Get(ctx context.Context, id string) (*domain.Product, error)
	List(ctx context.Context) ([]domain.Product, error)
}

type CartStore interface {
	Get(ctx context.Context, sessionID string) ([]domain.CartLine, error)
	Add(ctx context.Context, sessionID string, line domain.CartLine) error
	Clear(ctx context.Context, sessionID string) error
}

type TerminalRepo interface {
	Get(ctx context.Context, id string) (*domain.Terminal, error)
	Put(ctx context.Context, t domain.Terminal) error
	SetStatus(ctx context.Context, id string, status domain.TerminalStatus, seenAt time.Time) error
}

type TerminalPaymentRepo interface {
	Create(ctx context.Context, p *domain.TerminalPayment) error
	Get(ctx context.Context, id string) (*domain.TerminalPayment, error)
	GetByWalletRequest(ctx context.Context, requestID string) (*domain.TerminalPayment, error)
	CompareAndSetStatus(ctx context.Context, id string, from, to domain.TerminalPaymentStatus, at time.Time) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.TerminalPayment, error)
}

type ProviderRegistry interface {
	Provider(ctx context.Context, kind domain.ProviderKind) (idp.Provider, error)
}

type ChallengeBinder interface {
	Bind(sessionID string, provider domain.ProviderKind, purpose domain.ChallengePurpose, orderID string) (*domain.ChallengeState, error)
	Consume(sessionID, returnedState string) (*domain.ChallengeState, error)
	Discard(sessionID string)
}

type PaymentNetwork interface {
	Authorize(ctx context.Context, req network.AuthorizeRequest) (*network.Result, error)
	Capture(ctx context.Context, req network.CaptureRequest) (*network.Result, error)
	Void(ctx context.Context, req network.VoidRequest) (*network.Result, error)
	Refund(ctx context.Context, req network.RefundRequest) (*network.Result, error)
}

type WalletAPI interface {
	CreatePaymentRequest(ctx context.Context, in wallet.PaymentRequest) (wallet.PaymentRequestResp, error)
	Status(ctx context.Context, requestID string) (domain.TerminalPaymentStatus, error)
}

type TerminalNotifier interface {
	Notify(ctx context.Context, terminalID string, msg domain.TerminalMessage) error
}

func newID() string {
	return uuid.NewString()
}
