package booking

import "time"

const (
	EventBookingCreated       = "BookingCreated"
	EventBookingConfirmed     = "BookingConfirmed"
	EventBookingPaymentFailed = "BookingPaymentFailed"
	EventBookingCancelled     = "BookingCancelled"
)

type BookingCreated struct {
	BookingID  string    `json:"booking_id"`
	SlotID     string    `json:"slot_id"`
	BuyerID    string    `json:"buyer_id"`
	BuyerEmail string    `json:"buyer_email,omitempty"`
	Guests     int       `json:"guests"`
	Total      int       `json:"total"`
	PaymentRef string    `json:"payment_ref"`
	CreatedAt  time.Time `json:"created_at"`
}

type BookingConfirmed struct {
	BookingID   string    `json:"booking_id"`
	SlotID      string    `json:"slot_id"`
	BuyerID     string    `json:"buyer_id"`
	BuyerEmail  string    `json:"buyer_email,omitempty"`
	Guests      int       `json:"guests"`
	Total       int       `json:"total"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

type BookingPaymentFailed struct {
	BookingID string    `json:"booking_id"`
	SlotID    string    `json:"slot_id"`
	FailedAt  time.Time `json:"failed_at"`
}

type BookingCancelled struct {
	BookingID      string    `json:"booking_id"`
	SlotID         string    `json:"slot_id"`
	GuestsReleased int       `json:"guests_released"`
	Reason         string    `json:"reason"`
	CancelledAt    time.Time `json:"cancelled_at"`
}
