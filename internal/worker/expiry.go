package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const sweepBatch = 100

// OrderExpirer expires pending orders created before cutoff.
type OrderExpirer interface {
	ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// PaymentExpirer expires terminal payments whose deadline is before now.
type PaymentExpirer interface {
	ExpireStale(ctx context.Context, now time.Time, limit int) (int, error)
}

// ChallengePruner drops abandoned checkout and login challenges.
type ChallengePruner interface {
	Prune(now time.Time) int
}

// ExpiryWorker applies the timeout policy: checkouts that never came back
// and terminal payments nobody completed.
type ExpiryWorker struct {
	orders     OrderExpirer
	payments   PaymentExpirer
	challenges ChallengePruner
	pendingTTL time.Duration
	interval   time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func NewExpiryWorker(orders OrderExpirer, payments PaymentExpirer, challenges ChallengePruner, pendingTTL, interval time.Duration, logger *zap.Logger) *ExpiryWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpiryWorker{
		orders:     orders,
		payments:   payments,
		challenges: challenges,
		pendingTTL: pendingTTL,
		interval:   interval,
		logger:     logger,
		now:        time.Now,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("expiry worker started", zap.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("expiry worker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Errors are logged; the next tick retries.
func (w *ExpiryWorker) Sweep(ctx context.Context) {
	now := w.now().UTC()
	if w.orders != nil && w.pendingTTL > 0 {
		n, err := w.orders.ExpireStale(ctx, now.Add(-w.pendingTTL), sweepBatch)
		if err != nil {
			w.logger.Warn("order expiry failed", zap.Error(err))
		} else if n > 0 {
			w.logger.Info("pending orders expired", zap.Int("count", n))
		}
	}
	if w.payments != nil {
		n, err := w.payments.ExpireStale(ctx, now, sweepBatch)
		if err != nil {
			w.logger.Warn("terminal payment expiry failed", zap.Error(err))
		} else if n > 0 {
			w.logger.Info("terminal payments expired", zap.Int("count", n))
		}
	}
	if w.challenges != nil {
		if n := w.challenges.Prune(now); n > 0 {
			w.logger.Debug("challenges pruned", zap.Int("count", n))
		}
	}
}
