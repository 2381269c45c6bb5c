// Package reservation implements the booking workflow: creating a pending
// reservation against a slot, settling it on payment events and cancelling
// it with capacity restore.
package reservation

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/example/marketplace/internal/domain/booking"
	"github.com/example/marketplace/internal/domain/slot"
	"github.com/example/marketplace/internal/infrastructure/store"
	"github.com/example/marketplace/internal/occ"
	"github.com/example/marketplace/internal/payment"
)

// Publisher delivers committed transition events to external subscribers.
// Delivery is at-least-once and failure never affects workflow correctness.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Service struct {
	store     store.Store
	exec      *occ.Executor
	intents   payment.Intents
	publisher Publisher
}

func NewService(st store.Store, exec *occ.Executor, intents payment.Intents, pub Publisher) *Service {
	return &Service{store: st, exec: exec, intents: intents, publisher: pub}
}

type CreateInput struct {
	SlotID     string
	BuyerID    string
	BuyerEmail string
	Guests     int
}

// CancelResult reports what a cancellation actually did, for observability
// and for the reclaimer's summary.
type CancelResult struct {
	Cancelled      bool
	GuestsReleased int
	FlaggedReview  bool
}

// Create reserves capacity and records a pending booking. The capacity
// decrement and the booking insert share one transaction; the conditional
// slot write recheck capacity on every retry, so a losing racer fails with
// ErrSlotUnavailable instead of overselling.
func (s *Service) Create(ctx context.Context, in CreateInput) (*booking.Booking, error) {
	if in.Guests <= 0 {
		return nil, slot.ErrInvalidGuests
	}

	// Early read for price snapshot and a fast rejection. Capacity is
	// rechecked under the conditional write; this read decides nothing.
	sl, err := s.store.GetSlot(ctx, in.SlotID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, slot.ErrSlotNotFound
		}
		return nil, err
	}
	if !sl.Available || sl.Remaining() < in.Guests {
		return nil, slot.ErrSlotUnavailable
	}

	bookingID := uuid.New().String()
	total := sl.Price * in.Guests

	intentRef, err := s.intents.CreateIntent(ctx, total, map[string]string{"booking_id": bookingID})
	if err != nil {
		return nil, err
	}

	b := &booking.Booking{
		ID:         bookingID,
		SlotID:     in.SlotID,
		BuyerID:    in.BuyerID,
		BuyerEmail: in.BuyerEmail,
		Guests:     in.Guests,
		Total:      total,
		Status:     booking.StatusPendingPayment,
		PaymentRef: intentRef,
		CreatedAt:  time.Now(),
	}

	err = s.store.WithTx(ctx, func(tx store.UnitOfWork) error {
		err := occ.Update(ctx, s.exec,
			func(ctx context.Context) (*slot.Slot, error) { return tx.GetSlot(ctx, in.SlotID) },
			func(current *slot.Slot) error { return current.Reserve(in.Guests) },
			func(ctx context.Context, current *slot.Slot, expected int) error {
				return tx.UpdateSlot(ctx, current, expected)
			},
		)
		if err != nil {
			return err
		}
		return tx.CreateBooking(ctx, b)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, b.ID, booking.BookingCreated{
		BookingID:  b.ID,
		SlotID:     b.SlotID,
		BuyerID:    b.BuyerID,
		BuyerEmail: b.BuyerEmail,
		Guests:     b.Guests,
		Total:      b.Total,
		PaymentRef: b.PaymentRef,
		CreatedAt:  b.CreatedAt,
	})
	return b, nil
}

// Confirm settles a booking on payment success. Replays and late duplicates
// are no-ops; success is authoritative and never downgraded.
func (s *Service) Confirm(ctx context.Context, bookingID, paymentRef string) error {
	b, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	if b.Status == booking.StatusConfirmed || b.Status.Terminal() {
		return nil
	}
	if paymentRef != "" && b.PaymentRef != paymentRef {
		return payment.ErrPaymentMismatch
	}

	now := time.Now()
	ok, err := s.store.TransitionBooking(ctx, bookingID, booking.StatusPendingPayment, booking.StatusConfirmed, now)
	if err != nil {
		return err
	}
	if !ok {
		// A concurrent writer moved the booking first; replaying the
		// same outcome is not an error.
		return nil
	}

	s.publish(ctx, b.ID, booking.BookingConfirmed{
		BookingID:   b.ID,
		SlotID:      b.SlotID,
		BuyerID:     b.BuyerID,
		BuyerEmail:  b.BuyerEmail,
		Guests:      b.Guests,
		Total:       b.Total,
		ConfirmedAt: now,
	})
	return nil
}

// Fail marks a booking's payment as failed. A booking that already reached
// confirmed or completed keeps its status.
func (s *Service) Fail(ctx context.Context, bookingID, paymentRef string) error {
	b, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	if b.Status != booking.StatusPendingPayment {
		return nil
	}
	if paymentRef != "" && b.PaymentRef != paymentRef {
		return payment.ErrPaymentMismatch
	}

	now := time.Now()
	ok, err := s.store.TransitionBooking(ctx, bookingID, booking.StatusPendingPayment, booking.StatusPaymentFailed, now)
	if err != nil || !ok {
		return err
	}

	s.publish(ctx, b.ID, booking.BookingPaymentFailed{
		BookingID: b.ID,
		SlotID:    b.SlotID,
		FailedAt:  now,
	})
	return nil
}

// Cancel moves a booking to cancelled and atomically restores slot
// capacity. Already-cancelled bookings are no-ops. A completed booking is
// never cancelled; it is flagged for manual review instead.
func (s *Service) Cancel(ctx context.Context, bookingID, reason string) (*CancelResult, error) {
	return s.cancel(ctx, bookingID, reason, false)
}

// CancelStale is the reclaimer's cancel. It acts only while the booking is
// still awaiting payment, so a success webhook that lands between the
// staleness listing and this call always keeps the booking confirmed.
func (s *Service) CancelStale(ctx context.Context, bookingID, reason string) (*CancelResult, error) {
	return s.cancel(ctx, bookingID, reason, true)
}

func (s *Service) cancel(ctx context.Context, bookingID, reason string, staleOnly bool) (*CancelResult, error) {
	result := &CancelResult{}
	var cancelled booking.Booking

	err := s.store.WithTx(ctx, func(tx store.UnitOfWork) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return booking.ErrBookingNotFound
			}
			return err
		}

		if staleOnly && b.Status != booking.StatusPendingPayment && b.Status != booking.StatusPaymentFailed {
			return nil
		}

		switch {
		case b.Status == booking.StatusCancelled:
			return nil
		case b.Status == booking.StatusCompleted:
			log.Printf("[Reservation] booking %s is completed, flagging for manual review instead of cancelling", b.ID)
			result.FlaggedReview = true
			return tx.FlagBookingReview(ctx, b.ID)
		case !b.CanTransitionTo(booking.StatusCancelled):
			return b.TransitionError(booking.StatusCancelled)
		}

		now := time.Now()
		// Conditional on the status just read: if a payment webhook
		// confirms concurrently, zero rows match and we skip the
		// capacity restore entirely.
		ok, err := tx.TransitionBooking(ctx, b.ID, b.Status, booking.StatusCancelled, now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		err = occ.Update(ctx, s.exec,
			func(ctx context.Context) (*slot.Slot, error) { return tx.GetSlot(ctx, b.SlotID) },
			func(current *slot.Slot) error { return current.Release(b.Guests) },
			func(ctx context.Context, current *slot.Slot, expected int) error {
				return tx.UpdateSlot(ctx, current, expected)
			},
		)
		if err != nil {
			return err
		}

		result.Cancelled = true
		result.GuestsReleased = b.Guests
		cancelled = *b
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Cancelled {
		s.publish(ctx, cancelled.ID, booking.BookingCancelled{
			BookingID:      cancelled.ID,
			SlotID:         cancelled.SlotID,
			GuestsReleased: cancelled.Guests,
			Reason:         reason,
			CancelledAt:    time.Now(),
		})
	}
	return result, nil
}

// CancelByBuyer is the buyer-facing cancel; only the booking's own buyer may
// use it.
func (s *Service) CancelByBuyer(ctx context.Context, bookingID, actorID, reason string) (*CancelResult, error) {
	b, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.BuyerID != actorID {
		return nil, booking.ErrForbidden
	}
	return s.Cancel(ctx, bookingID, reason)
}

// Get returns a booking, enforcing buyer-is-self at the workflow boundary.
func (s *Service) Get(ctx context.Context, bookingID, actorID string) (*booking.Booking, error) {
	b, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.BuyerID != actorID {
		return nil, booking.ErrForbidden
	}
	return b, nil
}

func (s *Service) getBooking(ctx context.Context, id string) (*booking.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, booking.ErrBookingNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *Service) publish(ctx context.Context, key string, event any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, key, event); err != nil {
		log.Printf("[Reservation] failed to publish event for %s: %v", key, err)
	}
}
