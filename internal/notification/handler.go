package notification

import (
	"context"
	"encoding/json"
	"log"

	"github.com/example/marketplace/internal/domain/booking"
	"github.com/example/marketplace/internal/domain/order"
	"github.com/example/marketplace/internal/email"
	"github.com/example/marketplace/internal/infrastructure/kafka"
)

// Handler turns settlement events into buyer-facing emails. Everything here
// is best-effort: a lost email never affects the workflows.
type Handler struct {
	emailService *email.Service
}

func NewHandler(emailSvc *email.Service) *Handler {
	return &Handler{emailService: emailSvc}
}

// HandleEvent processes an event from Kafka
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var env kafka.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		log.Printf("[Notifier] Failed to unmarshal envelope: %v", err)
		return err
	}

	switch env.EventType {
	case "booking.BookingConfirmed":
		return h.handleBookingConfirmed(env.Data)
	case "order.OrderPaid":
		return h.handleOrderPaid(env.Data)
	}

	return nil
}

func (h *Handler) handleBookingConfirmed(data json.RawMessage) error {
	var e booking.BookingConfirmed
	if err := json.Unmarshal(data, &e); err != nil {
		log.Printf("[Notifier] Failed to unmarshal BookingConfirmed: %v", err)
		return err
	}
	if e.BuyerEmail == "" {
		log.Printf("[Notifier] booking %s has no buyer email, skipping", e.BookingID)
		return nil
	}

	if err := h.emailService.SendBookingConfirmation(e.BuyerEmail, e.BookingID, e.Guests, e.Total); err != nil {
		log.Printf("[Notifier] Failed to send booking confirmation for %s: %v", e.BookingID, err)
		return nil
	}
	log.Printf("[Notifier] Sent booking confirmation for %s", e.BookingID)
	return nil
}

func (h *Handler) handleOrderPaid(data json.RawMessage) error {
	var e order.OrderPaid
	if err := json.Unmarshal(data, &e); err != nil {
		log.Printf("[Notifier] Failed to unmarshal OrderPaid: %v", err)
		return err
	}
	if e.BuyerEmail == "" {
		log.Printf("[Notifier] order %s has no buyer email, skipping", e.OrderID)
		return nil
	}

	if err := h.emailService.SendOrderReceipt(e.BuyerEmail, e.OrderID, e.Total); err != nil {
		log.Printf("[Notifier] Failed to send order receipt for %s: %v", e.OrderID, err)
		return nil
	}
	log.Printf("[Notifier] Sent order receipt for %s", e.OrderID)
	return nil
}
