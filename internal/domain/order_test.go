package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderPending, OrderAuthorized, true},
		{OrderPending, OrderDeclined, true},
		{OrderPending, OrderFailed, true},
		{OrderPending, OrderExpired, true},
		{OrderPending, OrderCaptured, false},
		{OrderAuthorized, OrderCaptured, true},
		{OrderAuthorized, OrderVoided, true},
		{OrderAuthorized, OrderDeclined, true},
		{OrderAuthorized, OrderFailed, true},
		{OrderAuthorized, OrderRefunded, false},
		{OrderAuthorized, OrderExpired, false},
		{OrderCaptured, OrderRefunded, true},
		{OrderCaptured, OrderFailed, true},
		{OrderCaptured, OrderPending, false},
		{OrderCaptured, OrderVoided, false},
		{OrderVoided, OrderCaptured, false},
		{OrderRefunded, OrderCaptured, false},
		{OrderDeclined, OrderAuthorized, false},
		{OrderFailed, OrderFailed, false},
		{OrderExpired, OrderPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestFinalStatuses(t *testing.T) {
	for _, s := range []OrderStatus{OrderVoided, OrderRefunded, OrderDeclined, OrderFailed, OrderExpired} {
		assert.True(t, s.Final(), s)
	}
	for _, s := range []OrderStatus{OrderPending, OrderAuthorized, OrderCaptured} {
		assert.False(t, s.Final(), s)
	}
}

func TestOrder_TransitionRejectsIllegalMove(t *testing.T) {
	before := time.Now().Add(-time.Hour).UTC()
	o := &Order{ID: "o-1", Status: OrderCaptured, UpdatedAt: before}

	err := o.Transition(OrderPending)
	require.Error(t, err)

	var te *InvalidTransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "captured", te.From)
	assert.Equal(t, "pending", te.To)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, ErrorCodeInvalidTransition, GetErrorCode(err))
	assert.Equal(t, OrderCaptured, o.Status)
	assert.Equal(t, before, o.UpdatedAt)
}

func TestOrder_TransitionBumpsUpdatedAt(t *testing.T) {
	before := time.Now().Add(-time.Hour).UTC()
	o := &Order{ID: "o-1", Status: OrderPending, UpdatedAt: before}

	require.NoError(t, o.Transition(OrderAuthorized))
	assert.Equal(t, OrderAuthorized, o.Status)
	assert.True(t, o.UpdatedAt.After(before))
}

func TestOrder_CloneIsDeep(t *testing.T) {
	o := &Order{
		ID:             "o-1",
		Items:          []OrderItem{{ProductID: "P1", Quantity: 1}},
		PaymentDetails: &PaymentDetails{TransactionID: "T1"},
	}
	cp := o.Clone()
	cp.Items[0].Quantity = 5
	cp.PaymentDetails.RefundedAmount = 10

	assert.Equal(t, 1, o.Items[0].Quantity)
	assert.Zero(t, o.PaymentDetails.RefundedAmount)
}

func TestTerminalPayment_Transition(t *testing.T) {
	p := &TerminalPayment{PaymentID: "p-1", Status: TerminalPaymentPending}
	require.NoError(t, p.Transition(TerminalPaymentApproved))

	err := p.Transition(TerminalPaymentCancelled)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, TerminalPaymentApproved, p.Status)
}
