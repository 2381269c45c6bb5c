package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// ============================================
// Status Transition Tests
// ============================================

func TestOrder_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"pending to paid", StatusPendingPayment, StatusPaid, true},
		{"pending to payment_failed", StatusPendingPayment, StatusPaymentFailed, true},
		{"pending to cancelled", StatusPendingPayment, StatusCancelled, true},
		{"pending to shipped", StatusPendingPayment, StatusShipped, false},
		{"paid to processing", StatusPaid, StatusProcessing, true},
		{"paid to refunded", StatusPaid, StatusRefunded, true},
		{"paid to pending", StatusPaid, StatusPendingPayment, false},
		{"processing to shipped", StatusProcessing, StatusShipped, true},
		{"processing to delivered", StatusProcessing, StatusDelivered, false},
		{"shipped to delivered", StatusShipped, StatusDelivered, true},
		{"shipped to refunded", StatusShipped, StatusRefunded, true},
		{"delivered is terminal", StatusDelivered, StatusRefunded, false},
		{"cancelled is terminal", StatusCancelled, StatusPaid, false},
		{"refunded is terminal", StatusRefunded, StatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Order{ID: "order-1", Status: tt.from}
			assert.Equal(t, tt.allowed, o.CanTransitionTo(tt.to))
		})
	}
}

func TestStatus_Fulfillment(t *testing.T) {
	assert.True(t, StatusProcessing.Fulfillment())
	assert.True(t, StatusShipped.Fulfillment())
	assert.True(t, StatusDelivered.Fulfillment())
	assert.False(t, StatusPaid.Fulfillment())
	assert.False(t, StatusCancelled.Fulfillment())
}

func TestStatus_HoldsStock(t *testing.T) {
	assert.True(t, StatusPendingPayment.HoldsStock())
	assert.True(t, StatusPaid.HoldsStock())
	assert.True(t, StatusDelivered.HoldsStock())
	assert.False(t, StatusCancelled.HoldsStock())
	assert.False(t, StatusRefunded.HoldsStock())
}

// ============================================
// Insufficient Stock Error Tests
// ============================================

func TestInsufficientStockError_ReportsEveryLine(t *testing.T) {
	err := &InsufficientStockError{Shortages: []Shortage{
		{ProductID: "prod-1", Available: 1, Requested: 5},
		{ProductID: "prod-2", Available: 0, Requested: 2},
	}}

	msg := err.Error()

	assert.Contains(t, msg, "prod-1 (requested 5, available 1)")
	assert.Contains(t, msg, "prod-2 (requested 2, available 0)")
}
