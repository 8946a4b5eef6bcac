package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"storefront/internal/domain"
)

type MemoryOrderRepo struct {
	mu sync.RWMutex
	m  map[string]*domain.Order
}

func NewMemoryOrderRepo() *MemoryOrderRepo {
	return &MemoryOrderRepo{m: make(map[string]*domain.Order)}
}

func (r *MemoryOrderRepo) Create(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[o.ID]; ok {
		return domain.NewDomainError(domain.ErrorCodeOrderConflict, fmt.Sprintf("order %s already exists", o.ID))
	}
	r.m[o.ID] = o.Clone()
	return nil
}

func (r *MemoryOrderRepo) Get(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.m[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// Update replaces the order only if its stored status is still expected.
func (r *MemoryOrderRepo) Update(_ context.Context, o *domain.Order, expected domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.m[o.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if cur.Status != expected {
		return domain.NewDomainError(domain.ErrorCodeOrderConflict,
			fmt.Sprintf("order %s is %s, expected %s", o.ID, cur.Status, expected))
	}
	r.m[o.ID] = o.Clone()
	return nil
}

func (r *MemoryOrderRepo) List(_ context.Context, page, pageSize int) ([]domain.Order, int, error) {
	r.mu.RLock()
	all := make([]domain.Order, 0, len(r.m))
	for _, o := range r.m {
		all = append(all, *o.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (r *MemoryOrderRepo) ListPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Order
	for _, o := range r.m {
		if o.Status == domain.OrderPending && o.CreatedAt.Before(cutoff) {
			out = append(out, *o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type MemoryProductRepo struct {
	mu sync.RWMutex
	m  map[string]domain.Product
}

func NewMemoryProductRepo(products ...domain.Product) *MemoryProductRepo {
	r := &MemoryProductRepo{m: make(map[string]domain.Product)}
	for _, p := range products {
		r.m[p.ID] = p
	}
	return r
}

func (r *MemoryProductRepo) Put(_ context.Context, p domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[p.ID] = p
	return nil
}

func (r *MemoryProductRepo) Get(_ context.Context, id string) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.m[id]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodeProductNotFound, fmt.Sprintf("product %s not found", id)).
			WithDetail("productId", id)
	}
	return &p, nil
}

func (r *MemoryProductRepo) List(_ context.Context) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Product, 0, len(r.m))
	for _, p := range r.m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type MemoryCartRepo struct {
	mu sync.RWMutex
	m  map[string][]domain.CartLine
}

func NewMemoryCartRepo() *MemoryCartRepo {
	return &MemoryCartRepo{m: make(map[string][]domain.CartLine)}
}

func (r *MemoryCartRepo) Get(_ context.Context, sessionID string) ([]domain.CartLine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.CartLine(nil), r.m[sessionID]...), nil
}

// Add merges quantity into an existing line for the same product.
func (r *MemoryCartRepo) Add(_ context.Context, sessionID string, line domain.CartLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := r.m[sessionID]
	for i := range lines {
		if lines[i].ProductID == line.ProductID {
			lines[i].Quantity += line.Quantity
			return nil
		}
	}
	r.m[sessionID] = append(lines, line)
	return nil
}

func (r *MemoryCartRepo) Clear(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, sessionID)
	return nil
}

type MemoryTerminalRepo struct {
	mu sync.RWMutex
	m  map[string]domain.Terminal
}

func NewMemoryTerminalRepo() *MemoryTerminalRepo {
	return &MemoryTerminalRepo{m: make(map[string]domain.Terminal)}
}

func (r *MemoryTerminalRepo) Put(_ context.Context, t domain.Terminal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[t.ID] = t
	return nil
}

func (r *MemoryTerminalRepo) Get(_ context.Context, id string) (*domain.Terminal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.m[id]
	if !ok {
		return nil, domain.ErrTerminalNotFound
	}
	return &t, nil
}

func (r *MemoryTerminalRepo) SetStatus(_ context.Context, id string, status domain.TerminalStatus, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.m[id]
	if !ok {
		return domain.ErrTerminalNotFound
	}
	t.Status = status
	t.LastSeenAt = seenAt
	r.m[id] = t
	return nil
}

type MemoryTerminalPaymentRepo struct {
	mu        sync.RWMutex
	m         map[string]domain.TerminalPayment
	byRequest map[string]string
}

func NewMemoryTerminalPaymentRepo() *MemoryTerminalPaymentRepo {
	return &MemoryTerminalPaymentRepo{
		m:         make(map[string]domain.TerminalPayment),
		byRequest: make(map[string]string),
	}
}

func (r *MemoryTerminalPaymentRepo) Create(_ context.Context, p *domain.TerminalPayment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[p.PaymentID]; ok {
		return domain.NewDomainError(domain.ErrorCodeOrderConflict, fmt.Sprintf("terminal payment %s already exists", p.PaymentID))
	}
	r.m[p.PaymentID] = *p
	if p.WalletRequestID != "" {
		r.byRequest[p.WalletRequestID] = p.PaymentID
	}
	return nil
}

func (r *MemoryTerminalPaymentRepo) Get(_ context.Context, id string) (*domain.TerminalPayment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.m[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return &p, nil
}

func (r *MemoryTerminalPaymentRepo) GetByWalletRequest(_ context.Context, requestID string) (*domain.TerminalPayment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byRequest[requestID]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	p := r.m[id]
	return &p, nil
}

// CompareAndSetStatus moves the payment from one status to another and
// reports whether this call performed the write.
func (r *MemoryTerminalPaymentRepo) CompareAndSetStatus(_ context.Context, id string, from, to domain.TerminalPaymentStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.m[id]
	if !ok {
		return false, domain.ErrPaymentNotFound
	}
	if p.Status != from {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = at
	r.m[id] = p
	return true, nil
}

func (r *MemoryTerminalPaymentRepo) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.TerminalPayment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.TerminalPayment
	for _, p := range r.m {
		if p.Status == domain.TerminalPaymentPending && !p.ExpiresAt.IsZero() && p.ExpiresAt.Before(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
