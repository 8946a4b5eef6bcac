package domain

import "time"

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderAuthorized OrderStatus = "authorized"
	OrderCaptured   OrderStatus = "captured"
	OrderVoided     OrderStatus = "voided"
	OrderRefunded   OrderStatus = "refunded"
	OrderDeclined   OrderStatus = "declined"
	OrderFailed     OrderStatus = "failed"
	OrderExpired    OrderStatus = "expired"
)

// GuestUserID is recorded when the wallet flow completes before any identity
// is known.
const GuestUserID = "guest"

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderAuthorized, OrderDeclined, OrderFailed, OrderExpired},
	OrderAuthorized: {OrderCaptured, OrderVoided, OrderDeclined, OrderFailed},
	OrderCaptured:   {OrderRefunded, OrderFailed},
}

// CanTransition reports whether the order state machine allows from -> to.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Final reports whether no further transition is possible.
func (s OrderStatus) Final() bool {
	return len(orderTransitions[s]) == 0
}

type PaymentMethod string

const (
	PaymentMethodBank   PaymentMethod = "bank"
	PaymentMethodWallet PaymentMethod = "wallet"
)

type OrderItem struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	Subtotal    int64  `json:"subtotal"`
}

type PaymentDetails struct {
	TransactionID     string        `json:"transactionId"`
	AuthorizationCode string        `json:"authorizationCode,omitempty"`
	CardToken         string        `json:"cardToken,omitempty"`
	WalletCardToken   string        `json:"walletCardToken,omitempty"`
	PaymentMethod     PaymentMethod `json:"paymentMethod,omitempty"`
	CapturedAmount    int64         `json:"capturedAmount,omitempty"`
	RefundedAmount    int64         `json:"refundedAmount,omitempty"`
}

type Order struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Items          []OrderItem     `json:"items"`
	Subtotal       int64           `json:"subtotal"`
	Currency       string          `json:"currency"`
	Provider       ProviderKind    `json:"provider"`
	Status         OrderStatus     `json:"status"`
	PaymentDetails *PaymentDetails `json:"paymentDetails,omitempty"`
	FailureReason  string          `json:"failureReason,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Transition moves the order to status to, or returns an
// *InvalidTransitionError when the state machine forbids it.
func (o *Order) Transition(to OrderStatus) error {
	if !CanTransition(o.Status, to) {
		return &InvalidTransitionError{Entity: "order", ID: o.ID, From: string(o.Status), To: string(to)}
	}
	o.Status = to
	o.Touch()
	return nil
}

func (o *Order) Touch() {
	o.UpdatedAt = time.Now().UTC()
}

// RefundableAmount is what has been captured and not yet refunded.
func (o *Order) RefundableAmount() int64 {
	if o.PaymentDetails == nil {
		return 0
	}
	return o.PaymentDetails.CapturedAmount - o.PaymentDetails.RefundedAmount
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	if o.PaymentDetails != nil {
		pd := *o.PaymentDetails
		cp.PaymentDetails = &pd
	}
	return &cp
}
