package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/infrastructure/network"
	"storefront/internal/metrics"
)

// OrderService handles the post-authorization lifecycle of an order.
type OrderService struct {
	Orders     OrderRepo
	Network    PaymentNetwork
	MerchantID string
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

func (s *OrderService) Get(ctx context.Context, id string) (*domain.Order, error) {
	return s.Orders.Get(ctx, id)
}

func (s *OrderService) List(ctx context.Context, page, pageSize int) ([]domain.Order, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.Orders.List(ctx, page, pageSize)
}

// Capture settles an authorized order. A nil amount captures the subtotal.
func (s *OrderService) Capture(ctx context.Context, id string, amount *int64) (*domain.Order, error) {
	o, err := s.load(ctx, id, domain.OrderCaptured)
	if err != nil {
		return nil, err
	}
	amt := o.Subtotal
	if amount != nil {
		amt = *amount
	}
	if amt <= 0 || amt > o.Subtotal {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed,
			fmt.Sprintf("capture amount must be between 1 and %d", o.Subtotal)).WithDetail("amount", amt)
	}

	start := time.Now()
	res, err := s.Network.Capture(ctx, network.CaptureRequest{
		MerchantID:    s.MerchantID,
		OrderID:       o.ID,
		TransactionID: o.PaymentDetails.TransactionID,
		Amount:        amt,
	})
	if err := s.outcome(ctx, o, "capture", start, res, err, network.StatusCaptured); err != nil {
		return nil, err
	}

	from := o.Status
	if err := o.Transition(domain.OrderCaptured); err != nil {
		return nil, err
	}
	o.PaymentDetails.CapturedAmount = amt
	return s.save(ctx, o, from)
}

func (s *OrderService) Void(ctx context.Context, id string) (*domain.Order, error) {
	o, err := s.load(ctx, id, domain.OrderVoided)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := s.Network.Void(ctx, network.VoidRequest{
		MerchantID:    s.MerchantID,
		OrderID:       o.ID,
		TransactionID: o.PaymentDetails.TransactionID,
	})
	if err := s.outcome(ctx, o, "void", start, res, err, network.StatusVoided); err != nil {
		return nil, err
	}
	from := o.Status
	if err := o.Transition(domain.OrderVoided); err != nil {
		return nil, err
	}
	return s.save(ctx, o, from)
}

// Refund returns amount to the payer. Refunds accumulate; the order becomes
// refunded once the refunded total reaches the captured amount and otherwise
// stays captured.
func (s *OrderService) Refund(ctx context.Context, id string, amount int64) (*domain.Order, error) {
	o, err := s.load(ctx, id, domain.OrderRefunded)
	if err != nil {
		return nil, err
	}
	if amount <= 0 || amount > o.RefundableAmount() {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed,
			fmt.Sprintf("refund amount must be between 1 and %d", o.RefundableAmount())).WithDetail("amount", amount)
	}

	start := time.Now()
	res, err := s.Network.Refund(ctx, network.RefundRequest{
		MerchantID:    s.MerchantID,
		OrderID:       o.ID,
		TransactionID: o.PaymentDetails.TransactionID,
		Amount:        amount,
	})
	if err := s.outcome(ctx, o, "refund", start, res, err, network.StatusRefunded); err != nil {
		return nil, err
	}

	from := o.Status
	o.PaymentDetails.RefundedAmount += amount
	if o.RefundableAmount() == 0 {
		if err := o.Transition(domain.OrderRefunded); err != nil {
			return nil, err
		}
	} else {
		o.Touch()
	}
	return s.save(ctx, o, from)
}

// ExpireStale expires pending orders created before cutoff and returns how
// many were moved.
func (s *OrderService) ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := s.Orders.ListPendingBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range stale {
		o := &stale[i]
		if err := o.Transition(domain.OrderExpired); err != nil {
			continue
		}
		o.FailureReason = "checkout not completed in time"
		if err := s.Orders.Update(ctx, o, domain.OrderPending); err != nil {
			s.logger().Debug("order not expired", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		s.Metrics.OrderTransition(string(domain.OrderPending), string(domain.OrderExpired))
		n++
	}
	return n, nil
}

func (s *OrderService) load(ctx context.Context, id string, to domain.OrderStatus) (*domain.Order, error) {
	o, err := s.Orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(o.Status, to) || o.PaymentDetails == nil {
		return nil, &domain.InvalidTransitionError{Entity: "order", ID: o.ID, From: string(o.Status), To: string(to)}
	}
	return o, nil
}

// outcome turns a network response into an error. Transport failures and a
// failed status move the order to failed; a decline leaves it untouched.
func (s *OrderService) outcome(ctx context.Context, o *domain.Order, op string, start time.Time, res *network.Result, err error, want network.Status) error {
	if err != nil {
		s.Metrics.NetworkCall(op, "error", time.Since(start))
		settleOrder(ctx, s.Orders, s.logger(), s.Metrics, o, domain.OrderFailed, failureReason(err))
		return err
	}
	s.Metrics.NetworkCall(op, string(res.Status), time.Since(start))
	switch res.Status {
	case want:
		return nil
	case network.StatusDeclined:
		s.logger().Warn("payment network declined operation",
			zap.String("order_id", o.ID),
			zap.String("operation", op),
			zap.String("reason", res.DeclineReason),
		)
		return domain.NewDomainError(domain.ErrorCodePaymentDeclined, declineMessage(res.DeclineReason)).
			WithDetail("operation", op).
			WithDetail("status", string(o.Status))
	default:
		nerr := domain.NewDomainError(domain.ErrorCodePaymentNetwork, fmt.Sprintf("%s returned %s", op, res.Status)).
			WithDetail("operation", op)
		settleOrder(ctx, s.Orders, s.logger(), s.Metrics, o, domain.OrderFailed, failureReason(nerr))
		return nerr
	}
}

func (s *OrderService) save(ctx context.Context, o *domain.Order, from domain.OrderStatus) (*domain.Order, error) {
	if err := s.Orders.Update(ctx, o, from); err != nil {
		s.logger().Error("order update not persisted", zap.String("order_id", o.ID), zap.Error(err))
		return nil, err
	}
	if from != o.Status {
		s.Metrics.OrderTransition(string(from), string(o.Status))
	}
	s.logger().Info("order updated",
		zap.String("order_id", o.ID),
		zap.String("status", string(o.Status)),
	)
	return o, nil
}

func (s *OrderService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
