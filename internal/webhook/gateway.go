// Package webhook consumes payment-gateway events and drives the booking
// and order state machines to their settled outcomes, exactly once per
// event regardless of delivery retries.
package webhook

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/example/marketplace/internal/domain/booking"
	"github.com/example/marketplace/internal/domain/order"
	"github.com/example/marketplace/internal/fulfillment"
	"github.com/example/marketplace/internal/infrastructure/store"
	"github.com/example/marketplace/internal/payment"
	"github.com/example/marketplace/internal/reservation"
)

type Gateway struct {
	store    store.Store
	bookings *reservation.Service
	orders   *fulfillment.Service
	secret   string
}

func NewGateway(st store.Store, bookings *reservation.Service, orders *fulfillment.Service, secret string) *Gateway {
	return &Gateway{store: st, bookings: bookings, orders: orders, secret: secret}
}

// Handle processes one delivery. The returned error is retriable: the
// caller should answer the gateway with a retry signal only when Handle
// fails. Signature and payload problems are fatal (the gateway will not
// redeliver on a 4xx), and business-rule failures are recorded on the
// ledger but answered as received.
func (g *Gateway) Handle(ctx context.Context, payload []byte, signature string) error {
	if !VerifySignature(payload, signature, g.secret) {
		return ErrInvalidSignature
	}

	evt, err := ParseEvent(payload)
	if err != nil {
		return err
	}

	existing, err := g.store.GetWebhookEvent(ctx, evt.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if existing != nil && existing.Processed {
		// Idempotent skip: the event already ran to completion once.
		return nil
	}

	if existing == nil {
		// Record the event before any business mutation so a crash
		// mid-processing leaves a detectable seen-but-not-completed row.
		err := g.store.InsertWebhookEvent(ctx, &store.WebhookEvent{
			ExternalID: evt.ID,
			EventType:  evt.Type,
			Payload:    payload,
			ReceivedAt: time.Now(),
		})
		if errors.Is(err, store.ErrDuplicateEvent) {
			// A concurrent delivery of the same event holds the row;
			// let that worker finish, redelivery covers its failure.
			return nil
		}
		if err != nil {
			return err
		}
	}

	dispatchErr := g.dispatch(ctx, evt)
	if dispatchErr != nil {
		if isBusinessError(dispatchErr) {
			log.Printf("[Webhook] event %s hit business rule: %v", evt.ID, dispatchErr)
			return g.store.RecordWebhookError(ctx, evt.ID, dispatchErr.Error(), time.Now())
		}
		// Infrastructure failure: leave processed=false so the
		// gateway's redelivery retries once the store recovers.
		return dispatchErr
	}

	return g.store.MarkWebhookProcessed(ctx, evt.ID, time.Now())
}

func (g *Gateway) dispatch(ctx context.Context, evt *Event) error {
	target := evt.Target()
	if target.Kind == TargetUnknown {
		log.Printf("[Webhook] event %s (%s) carries no booking or order id, skipping", evt.ID, evt.Type)
		return nil
	}

	switch evt.Type {
	case EventPaymentSucceeded:
		if target.Kind == TargetBooking {
			return g.bookings.Confirm(ctx, target.ID, evt.PaymentRef)
		}
		return g.orders.MarkPaid(ctx, target.ID, evt.PaymentRef)

	case EventPaymentFailed:
		if target.Kind == TargetBooking {
			return g.bookings.Fail(ctx, target.ID, evt.PaymentRef)
		}
		return g.orders.MarkPaymentFailed(ctx, target.ID, evt.PaymentRef)

	case EventChargeRefunded:
		if target.Kind == TargetBooking {
			_, err := g.bookings.Cancel(ctx, target.ID, "charge refunded")
			return err
		}
		_, err := g.orders.Refund(ctx, target.ID)
		return err

	default:
		log.Printf("[Webhook] event %s has unhandled type %s, skipping", evt.ID, evt.Type)
		return nil
	}
}

// isBusinessError separates permanently-failing business conditions, which
// redelivery cannot fix, from infrastructure failures, which it can.
func isBusinessError(err error) bool {
	return errors.Is(err, booking.ErrBookingNotFound) ||
		errors.Is(err, order.ErrOrderNotFound) ||
		errors.Is(err, booking.ErrInvalidStatus) ||
		errors.Is(err, order.ErrInvalidStatus) ||
		errors.Is(err, payment.ErrPaymentMismatch)
}
