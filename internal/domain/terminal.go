package domain

import "time"

type TerminalStatus string

const (
	TerminalOnline  TerminalStatus = "online"
	TerminalOffline TerminalStatus = "offline"
)

type Terminal struct {
	ID         string         `json:"id"`
	StoreID    string         `json:"storeId"`
	Name       string         `json:"name"`
	APIKey     string         `json:"-"`
	Status     TerminalStatus `json:"status"`
	LastSeenAt time.Time      `json:"lastSeenAt"`
}

type TerminalPaymentStatus string

const (
	TerminalPaymentPending   TerminalPaymentStatus = "pending"
	TerminalPaymentApproved  TerminalPaymentStatus = "approved"
	TerminalPaymentDeclined  TerminalPaymentStatus = "declined"
	TerminalPaymentCancelled TerminalPaymentStatus = "cancelled"
	TerminalPaymentExpired   TerminalPaymentStatus = "expired"
)

func ParseTerminalPaymentStatus(s string) (TerminalPaymentStatus, bool) {
	switch st := TerminalPaymentStatus(s); st {
	case TerminalPaymentPending, TerminalPaymentApproved, TerminalPaymentDeclined,
		TerminalPaymentCancelled, TerminalPaymentExpired:
		return st, true
	}
	return "", false
}

type TerminalPayment struct {
	PaymentID       string                `json:"paymentId"`
	StoreID         string                `json:"storeId"`
	TerminalID      string                `json:"terminalId"`
	Amount          int64                 `json:"amount"`
	Currency        string                `json:"currency"`
	Reference       string                `json:"reference,omitempty"`
	Status          TerminalPaymentStatus `json:"status"`
	WalletRequestID string                `json:"wsimRequestId,omitempty"`
	QRCodeURL       string                `json:"qrCodeUrl,omitempty"`
	ExpiresAt       time.Time             `json:"expiresAt"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

// TerminalMessage is pushed to a connected terminal.
type TerminalMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

const (
	TerminalMessagePaymentRequest  = "payment_request"
	TerminalMessagePaymentComplete = "payment_complete"
)

type PaymentCompletePayload struct {
	PaymentID string                `json:"paymentId"`
	Status    TerminalPaymentStatus `json:"status"`
}

// Transition checks the terminal payment lifecycle: only pending sessions
// move, and only to a final status.
func (p *TerminalPayment) Transition(to TerminalPaymentStatus) error {
	if p.Status != TerminalPaymentPending || to == TerminalPaymentPending {
		return &InvalidTransitionError{Entity: "terminal payment", ID: p.PaymentID, From: string(p.Status), To: string(to)}
	}
	p.Status = to
	p.UpdatedAt = time.Now().UTC()
	return nil
}
