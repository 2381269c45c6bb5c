package booking

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusConfirmed      Status = "confirmed"
	StatusPaymentFailed  Status = "payment_failed"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrInvalidStatus   = errors.New("invalid booking status transition")
	ErrForbidden       = errors.New("not allowed to modify this booking")
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusPendingPayment: {StatusConfirmed, StatusPaymentFailed, StatusCancelled},
	StatusConfirmed:      {StatusCompleted, StatusCancelled},
	StatusPaymentFailed:  {StatusCancelled},
	StatusCompleted:      {}, // terminal
	StatusCancelled:      {}, // terminal
}

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Booking is a reservation against one slot. The guest count and total are
// snapshots taken at creation time, independent of later slot edits. Bookings
// are never deleted; status carries the history.
type Booking struct {
	ID          string     `json:"id"`
	SlotID      string     `json:"slot_id"`
	BuyerID     string     `json:"buyer_id"`
	BuyerEmail  string     `json:"buyer_email,omitempty"`
	Guests      int        `json:"guests"`
	Total       int        `json:"total"`
	Status      Status     `json:"status"`
	PaymentRef  string     `json:"payment_ref"`
	NeedsReview bool       `json:"needs_review,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// CanTransitionTo checks if the booking can transition to the target status
func (b *Booking) CanTransitionTo(target Status) bool {
	allowed, exists := validTransitions[b.Status]
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
func (b *Booking) TransitionError(target Status) error {
	return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, b.Status, target)
}
