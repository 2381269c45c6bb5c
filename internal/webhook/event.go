package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	EventPaymentSucceeded = "payment_succeeded"
	EventPaymentFailed    = "payment_failed"
	EventChargeRefunded   = "charge_refunded"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrBadPayload       = errors.New("malformed webhook payload")
)

// Event is one payment-gateway delivery. Metadata is the gateway's free-form
// bag; the booking/order identifier is extracted from it exactly once at
// parse time.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	PaymentRef string            `json:"payment_ref"`
	Metadata   map[string]string `json:"metadata"`
}

type TargetKind int

const (
	TargetUnknown TargetKind = iota
	TargetBooking
	TargetOrder
)

// PaymentTarget is the entity a payment event settles: a booking, an order,
// or something outside this core's scope.
type PaymentTarget struct {
	Kind TargetKind
	ID   string
}

// Target decides which entity the event concerns, once, from metadata.
func (e *Event) Target() PaymentTarget {
	if id := e.Metadata["booking_id"]; id != "" {
		return PaymentTarget{Kind: TargetBooking, ID: id}
	}
	if id := e.Metadata["order_id"]; id != "" {
		return PaymentTarget{Kind: TargetOrder, ID: id}
	}
	return PaymentTarget{Kind: TargetUnknown}
}

// ParseEvent decodes and minimally validates a raw gateway payload.
func ParseEvent(payload []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if e.ID == "" || e.Type == "" {
		return nil, fmt.Errorf("%w: missing event id or type", ErrBadPayload)
	}
	return &e, nil
}
