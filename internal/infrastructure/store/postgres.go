package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/marketplace/internal/domain/booking"
	"github.com/example/marketplace/internal/domain/order"
	"github.com/example/marketplace/internal/domain/product"
	"github.com/example/marketplace/internal/domain/slot"
	"github.com/example/marketplace/internal/domain/user"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres stores slots, products, bookings, orders and the webhook ledger
// in PostgreSQL.
type Postgres struct {
	db *sql.DB
	q  querier
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, q: db}
}

// WithTx runs fn against a transaction-bound UnitOfWork. Nested calls reuse
// the surrounding transaction.
func (p *Postgres) WithTx(ctx context.Context, fn func(tx UnitOfWork) error) error {
	if _, ok := p.q.(*sql.Tx); ok {
		return fn(p)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&Postgres{db: p.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Slots

func (p *Postgres) GetSlot(ctx context.Context, id string) (*slot.Slot, error) {
	const query = `
SELECT id, experience_id, starts_at, ends_at, capacity, booked_count, available, price, version
FROM slots WHERE id = $1`

	var s slot.Slot
	err := p.q.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.ExperienceID, &s.StartsAt, &s.EndsAt,
		&s.Capacity, &s.BookedCount, &s.Available, &s.Price, &s.Version,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return &s, nil
}

// UpdateSlot writes the slot's counters conditionally on the version the
// caller read. Zero rows affected means the version was stale.
func (p *Postgres) UpdateSlot(ctx context.Context, s *slot.Slot, expectedVersion int) error {
	const stmt = `
UPDATE slots SET booked_count = $1, available = $2, version = $3
WHERE id = $4 AND version = $5`

	res, err := p.q.ExecContext(ctx, stmt, s.BookedCount, s.Available, expectedVersion+1, s.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update slot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update slot: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	s.SetVersion(expectedVersion + 1)
	return nil
}

// Products

func (p *Postgres) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	const query = `
SELECT id, seller_id, name, price, stock, status, created_at, updated_at, version
FROM products WHERE id = $1`

	var pr product.Product
	err := p.q.QueryRowContext(ctx, query, id).Scan(
		&pr.ID, &pr.SellerID, &pr.Name, &pr.Price, &pr.Stock,
		&pr.Status, &pr.CreatedAt, &pr.UpdatedAt, &pr.Version,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &pr, nil
}

func (p *Postgres) UpdateProduct(ctx context.Context, pr *product.Product, expectedVersion int) error {
	const stmt = `
UPDATE products SET stock = $1, updated_at = $2, version = $3
WHERE id = $4 AND version = $5`

	res, err := p.q.ExecContext(ctx, stmt, pr.Stock, time.Now(), expectedVersion+1, pr.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	pr.SetVersion(expectedVersion + 1)
	return nil
}

// Bookings

func (p *Postgres) CreateBooking(ctx context.Context, b *booking.Booking) error {
	const stmt = `
INSERT INTO bookings (id, slot_id, buyer_id, buyer_email, guests, total, status, payment_ref, needs_review, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := p.q.ExecContext(ctx, stmt,
		b.ID, b.SlotID, b.BuyerID, b.BuyerEmail, b.Guests, b.Total,
		b.Status, b.PaymentRef, b.NeedsReview, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

func (p *Postgres) GetBooking(ctx context.Context, id string) (*booking.Booking, error) {
	const query = `
SELECT id, slot_id, buyer_id, buyer_email, guests, total, status, payment_ref, needs_review, created_at, confirmed_at, cancelled_at
FROM bookings WHERE id = $1`

	var b booking.Booking
	err := p.q.QueryRowContext(ctx, query, id).Scan(
		&b.ID, &b.SlotID, &b.BuyerID, &b.BuyerEmail, &b.Guests, &b.Total,
		&b.Status, &b.PaymentRef, &b.NeedsReview, &b.CreatedAt, &b.ConfirmedAt, &b.CancelledAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return &b, nil
}

// TransitionBooking flips the status conditionally on the status the caller
// read. A false return means a concurrent writer got there first.
func (p *Postgres) TransitionBooking(ctx context.Context, id string, from, to booking.Status, at time.Time) (bool, error) {
	var stmt string
	switch to {
	case booking.StatusConfirmed:
		stmt = `UPDATE bookings SET status = $1, confirmed_at = $2 WHERE id = $3 AND status = $4`
	case booking.StatusCancelled:
		stmt = `UPDATE bookings SET status = $1, cancelled_at = $2 WHERE id = $3 AND status = $4`
	default:
		stmt = `UPDATE bookings SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	}

	res, err := p.q.ExecContext(ctx, stmt, to, at, id, from)
	if err != nil {
		return false, fmt.Errorf("transition booking: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition booking: %w", err)
	}
	return affected == 1, nil
}

func (p *Postgres) FlagBookingReview(ctx context.Context, id string) error {
	const stmt = `UPDATE bookings SET needs_review = TRUE WHERE id = $1`
	_, err := p.q.ExecContext(ctx, stmt, id)
	if err != nil {
		return fmt.Errorf("flag booking review: %w", err)
	}
	return nil
}

func (p *Postgres) ListStaleBookings(ctx context.Context, before time.Time, limit int) ([]booking.Booking, error) {
	const query = `
SELECT id, slot_id, buyer_id, buyer_email, guests, total, status, payment_ref, needs_review, created_at, confirmed_at, cancelled_at
FROM bookings
WHERE status IN ($1, $2) AND created_at < $3
ORDER BY created_at ASC
LIMIT $4`

	rows, err := p.q.QueryContext(ctx, query,
		booking.StatusPendingPayment, booking.StatusPaymentFailed, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale bookings: %w", err)
	}
	defer rows.Close()

	var out []booking.Booking
	for rows.Next() {
		var b booking.Booking
		if err := rows.Scan(
			&b.ID, &b.SlotID, &b.BuyerID, &b.BuyerEmail, &b.Guests, &b.Total,
			&b.Status, &b.PaymentRef, &b.NeedsReview, &b.CreatedAt, &b.ConfirmedAt, &b.CancelledAt,
		); err != nil {
			return nil, fmt.Errorf("list stale bookings: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Orders

func (p *Postgres) CreateOrder(ctx context.Context, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	const stmt = `
INSERT INTO orders (id, buyer_id, buyer_email, seller_id, items, total, status, payment_ref, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = p.q.ExecContext(ctx, stmt,
		o.ID, o.BuyerID, o.BuyerEmail, o.SellerID, items, o.Total,
		o.Status, o.PaymentRef, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	const query = `
SELECT id, buyer_id, buyer_email, seller_id, items, total, status, payment_ref, created_at, updated_at
FROM orders WHERE id = $1`

	var o order.Order
	var items []byte
	err := p.q.QueryRowContext(ctx, query, id).Scan(
		&o.ID, &o.BuyerID, &o.BuyerEmail, &o.SellerID, &items, &o.Total,
		&o.Status, &o.PaymentRef, &o.CreatedAt, &o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

func (p *Postgres) TransitionOrder(ctx context.Context, id string, from, to order.Status, at time.Time) (bool, error) {
	const stmt = `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`

	res, err := p.q.ExecContext(ctx, stmt, to, at, id, from)
	if err != nil {
		return false, fmt.Errorf("transition order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition order: %w", err)
	}
	return affected == 1, nil
}

func (p *Postgres) ListStaleOrders(ctx context.Context, before time.Time, limit int) ([]order.Order, error) {
	const query = `
SELECT id, buyer_id, buyer_email, seller_id, items, total, status, payment_ref, created_at, updated_at
FROM orders
WHERE status IN ($1, $2) AND created_at < $3
ORDER BY created_at ASC
LIMIT $4`

	rows, err := p.q.QueryContext(ctx, query,
		order.StatusPendingPayment, order.StatusPaymentFailed, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale orders: %w", err)
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		var o order.Order
		var items []byte
		if err := rows.Scan(
			&o.ID, &o.BuyerID, &o.BuyerEmail, &o.SellerID, &items, &o.Total,
			&o.Status, &o.PaymentRef, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("list stale orders: %w", err)
		}
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("list stale orders: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Users

func (p *Postgres) CreateUser(ctx context.Context, u *user.User) error {
	const stmt = `
INSERT INTO users (id, email, name, password_hash, role, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := p.q.ExecContext(ctx, stmt, u.ID, u.Email, u.Name, u.PasswordHash, u.Role, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	const query = `
SELECT id, email, name, password_hash, role, created_at
FROM users WHERE email = $1`

	var u user.User
	err := p.q.QueryRowContext(ctx, query, email).Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// Webhook ledger

func (p *Postgres) GetWebhookEvent(ctx context.Context, externalID string) (*WebhookEvent, error) {
	const query = `
SELECT external_id, event_type, processed, processed_at, last_error, payload, received_at
FROM webhook_events WHERE external_id = $1`

	var e WebhookEvent
	var lastErr sql.NullString
	err := p.q.QueryRowContext(ctx, query, externalID).Scan(
		&e.ExternalID, &e.EventType, &e.Processed, &e.ProcessedAt, &lastErr, &e.Payload, &e.ReceivedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	e.LastError = lastErr.String
	return &e, nil
}

// InsertWebhookEvent records first sight of an event identifier before any
// business mutation. The unique constraint turns a concurrent duplicate
// delivery into ErrDuplicateEvent.
func (p *Postgres) InsertWebhookEvent(ctx context.Context, e *WebhookEvent) error {
	const stmt = `
INSERT INTO webhook_events (external_id, event_type, processed, payload, received_at)
VALUES ($1, $2, $3, $4, $5)`

	_, err := p.q.ExecContext(ctx, stmt, e.ExternalID, e.EventType, e.Processed, e.Payload, e.ReceivedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

func (p *Postgres) MarkWebhookProcessed(ctx context.Context, externalID string, at time.Time) error {
	const stmt = `UPDATE webhook_events SET processed = TRUE, processed_at = $1, last_error = NULL WHERE external_id = $2`
	_, err := p.q.ExecContext(ctx, stmt, at, externalID)
	if err != nil {
		return fmt.Errorf("mark webhook processed: %w", err)
	}
	return nil
}

// RecordWebhookError stores a business-rule failure on the ledger row and
// marks it processed so the gateway is not asked to redeliver.
func (p *Postgres) RecordWebhookError(ctx context.Context, externalID, msg string, at time.Time) error {
	const stmt = `UPDATE webhook_events SET processed = TRUE, processed_at = $1, last_error = $2 WHERE external_id = $3`
	_, err := p.q.ExecContext(ctx, stmt, at, msg, externalID)
	if err != nil {
		return fmt.Errorf("record webhook error: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

// Connect establishes a connection to PostgreSQL
func Connect(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}
