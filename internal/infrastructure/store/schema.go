package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates every table this service owns. Statements are idempotent
// so EnsureSchema can run on every boot.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS slots (
		id            TEXT PRIMARY KEY,
		experience_id TEXT NOT NULL,
		starts_at     TIMESTAMPTZ NOT NULL,
		ends_at       TIMESTAMPTZ NOT NULL,
		capacity      INT NOT NULL,
		booked_count  INT NOT NULL DEFAULT 0,
		available     BOOLEAN NOT NULL DEFAULT TRUE,
		price         INT NOT NULL,
		version       INT NOT NULL DEFAULT 0,
		CHECK (booked_count >= 0),
		CHECK (booked_count <= capacity)
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id         TEXT PRIMARY KEY,
		seller_id  TEXT NOT NULL,
		name       TEXT NOT NULL,
		price      INT NOT NULL,
		stock      INT NOT NULL DEFAULT 0,
		status     TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		version    INT NOT NULL DEFAULT 0,
		CHECK (stock >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id           TEXT PRIMARY KEY,
		slot_id      TEXT NOT NULL REFERENCES slots(id),
		buyer_id     TEXT NOT NULL,
		buyer_email  TEXT NOT NULL DEFAULT '',
		guests       INT NOT NULL,
		total        INT NOT NULL,
		status       TEXT NOT NULL,
		payment_ref  TEXT NOT NULL DEFAULT '',
		needs_review BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ,
		confirmed_at TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_status_created ON bookings (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id          TEXT PRIMARY KEY,
		buyer_id    TEXT NOT NULL,
		buyer_email TEXT NOT NULL DEFAULT '',
		seller_id   TEXT NOT NULL,
		items       JSONB NOT NULL,
		total       INT NOT NULL,
		status      TEXT NOT NULL,
		payment_ref TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_events (
		external_id  TEXT PRIMARY KEY,
		event_type   TEXT NOT NULL,
		processed    BOOLEAN NOT NULL DEFAULT FALSE,
		processed_at TIMESTAMPTZ,
		last_error   TEXT,
		payload      BYTEA,
		received_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates the service's tables if they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
