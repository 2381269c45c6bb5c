package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/marketplace/internal/domain/booking"
	"github.com/example/marketplace/internal/domain/order"
	"github.com/example/marketplace/internal/domain/product"
	"github.com/example/marketplace/internal/domain/slot"
	"github.com/example/marketplace/internal/domain/user"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrDuplicateEvent  = errors.New("duplicate webhook event")
	ErrDuplicateUser   = errors.New("duplicate user email")
)

// WebhookEvent is one row of the idempotency ledger. The unique constraint
// on ExternalID is the idempotency mechanism: there are never two rows for
// the same identifier.
type WebhookEvent struct {
	ExternalID  string     `json:"external_id"`
	EventType   string     `json:"event_type"`
	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Payload     []byte     `json:"payload,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
}

// UnitOfWork is the set of row operations available inside or outside a
// transaction. Conditional writes (expectedVersion, from-status) return
// ErrVersionConflict or report zero rows affected instead of applying a
// stale mutation.
type UnitOfWork interface {
	GetSlot(ctx context.Context, id string) (*slot.Slot, error)
	UpdateSlot(ctx context.Context, s *slot.Slot, expectedVersion int) error

	GetProduct(ctx context.Context, id string) (*product.Product, error)
	UpdateProduct(ctx context.Context, p *product.Product, expectedVersion int) error

	CreateBooking(ctx context.Context, b *booking.Booking) error
	GetBooking(ctx context.Context, id string) (*booking.Booking, error)
	TransitionBooking(ctx context.Context, id string, from, to booking.Status, at time.Time) (bool, error)
	FlagBookingReview(ctx context.Context, id string) error
	ListStaleBookings(ctx context.Context, before time.Time, limit int) ([]booking.Booking, error)

	CreateOrder(ctx context.Context, o *order.Order) error
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	TransitionOrder(ctx context.Context, id string, from, to order.Status, at time.Time) (bool, error)
	ListStaleOrders(ctx context.Context, before time.Time, limit int) ([]order.Order, error)

	CreateUser(ctx context.Context, u *user.User) error
	GetUserByEmail(ctx context.Context, email string) (*user.User, error)

	GetWebhookEvent(ctx context.Context, externalID string) (*WebhookEvent, error)
	InsertWebhookEvent(ctx context.Context, e *WebhookEvent) error
	MarkWebhookProcessed(ctx context.Context, externalID string, at time.Time) error
	RecordWebhookError(ctx context.Context, externalID, msg string, at time.Time) error
}

// Store adds the explicit transaction boundary. The closure receives a
// UnitOfWork bound to one database transaction; either everything it does
// commits or nothing does.
type Store interface {
	UnitOfWork
	WithTx(ctx context.Context, fn func(tx UnitOfWork) error) error
}
