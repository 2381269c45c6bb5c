package order

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusPaymentFailed  Status = "payment_failed"
	StatusProcessing     Status = "processing"
	StatusShipped        Status = "shipped"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusRefunded       Status = "refunded"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrEmptyOrder    = errors.New("order must have at least one item")
	ErrMixedSellers  = errors.New("order items must belong to a single seller")
	ErrInvalidStatus = errors.New("invalid order status transition")
	ErrForbidden     = errors.New("not allowed to modify this order")
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusPendingPayment: {StatusPaid, StatusPaymentFailed, StatusCancelled, StatusRefunded},
	StatusPaid:           {StatusProcessing, StatusCancelled, StatusRefunded},
	StatusPaymentFailed:  {StatusCancelled, StatusRefunded},
	StatusProcessing:     {StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:        {StatusDelivered, StatusCancelled, StatusRefunded},
	StatusDelivered:      {}, // terminal
	StatusCancelled:      {}, // terminal
	StatusRefunded:       {}, // terminal
}

// fulfillmentTransitions are the seller-driven transitions that never touch
// shared stock counters.
var fulfillmentTransitions = map[Status]bool{
	StatusProcessing: true,
	StatusShipped:    true,
	StatusDelivered:  true,
}

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}

// Fulfillment reports whether s is a seller-driven fulfillment status.
func (s Status) Fulfillment() bool {
	return fulfillmentTransitions[s]
}

// HoldsStock reports whether an order in status s still holds decremented
// stock that a cancellation or refund must restore.
func (s Status) HoldsStock() bool {
	return s != StatusCancelled && s != StatusRefunded
}

type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     int    `json:"price"`
}

// Order is a purchase against one or more products. Line items are a
// snapshot taken at creation time, independent of later product edits.
type Order struct {
	ID         string      `json:"id"`
	BuyerID    string      `json:"buyer_id"`
	BuyerEmail string      `json:"buyer_email,omitempty"`
	SellerID   string      `json:"seller_id"`
	Items      []OrderItem `json:"items"`
	Total      int         `json:"total"`
	Status     Status      `json:"status"`
	PaymentRef string      `json:"payment_ref"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// CanTransitionTo checks if the order can transition to the target status
func (o *Order) CanTransitionTo(target Status) bool {
	allowed, exists := validTransitions[o.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// TransitionError returns the error describing why target is not reachable.
func (o *Order) TransitionError(target Status) error {
	return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, o.Status, target)
}

// Shortage describes one line item that failed stock validation.
type Shortage struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

// InsufficientStockError rejects a whole order. It reports every failing
// line item, not just the first one.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", s.ProductID, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}
