package usecase

import (
	"context"
	"fmt"

	"storefront/internal/domain"
)

const maxLineQuantity = 99

type CartService struct {
	Carts    CartStore
	Products ProductCatalog
}

type CartItemView struct {
	Product  domain.Product `json:"product"`
	Quantity int            `json:"quantity"`
	Subtotal int64          `json:"subtotal"`
}

type CartView struct {
	Items    []CartItemView `json:"items"`
	Subtotal int64          `json:"subtotal"`
}

func (s *CartService) Catalog(ctx context.Context) ([]domain.Product, error) {
	return s.Products.List(ctx)
}

// View prices the session's cart against the current catalog. Lines whose
// product has disappeared are reported with a zero price.
func (s *CartService) View(ctx context.Context, sessionID string) (*CartView, error) {
	lines, err := s.Carts.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := &CartView{Items: make([]CartItemView, 0, len(lines))}
	for _, l := range lines {
		p, err := s.Products.Get(ctx, l.ProductID)
		if err != nil {
			out.Items = append(out.Items, CartItemView{Product: domain.Product{ID: l.ProductID}, Quantity: l.Quantity})
			continue
		}
		sub := p.Price * int64(l.Quantity)
		out.Items = append(out.Items, CartItemView{Product: *p, Quantity: l.Quantity, Subtotal: sub})
		out.Subtotal += sub
	}
	return out, nil
}

func (s *CartService) Add(ctx context.Context, sessionID, productID string, quantity int) error {
	if sessionID == "" {
		return domain.NewDomainError(domain.ErrorCodeValidationFailed, "session required")
	}
	if quantity <= 0 || quantity > maxLineQuantity {
		return domain.NewDomainError(domain.ErrorCodeValidationFailed, fmt.Sprintf("quantity must be between 1 and %d", maxLineQuantity))
	}
	if _, err := s.Products.Get(ctx, productID); err != nil {
		return err
	}
	return s.Carts.Add(ctx, sessionID, domain.CartLine{ProductID: productID, Quantity: quantity})
}

func (s *CartService) Clear(ctx context.Context, sessionID string) error {
	return s.Carts.Clear(ctx, sessionID)
}
