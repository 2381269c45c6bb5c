// Package payment holds the boundary to the external payment gateway: the
// issuance of payment-intent references at reservation time. Webhook
// delivery from the gateway is handled by the webhook package.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrPaymentMismatch indicates that the payment reference carried by a
// gateway event does not match the one recorded on the entity. This is a
// data-integrity problem; it is surfaced and never auto-recovered.
var ErrPaymentMismatch = errors.New("payment reference mismatch")

// Intents issues payment-intent references against the gateway.
type Intents interface {
	CreateIntent(ctx context.Context, amount int, metadata map[string]string) (string, error)
}

// LocalIntents issues locally generated intent references. It stands in for
// the gateway client in development and tests.
type LocalIntents struct{}

func (LocalIntents) CreateIntent(ctx context.Context, amount int, metadata map[string]string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("create intent: amount must be positive, got %d", amount)
	}
	return "pi_" + uuid.New().String(), nil
}
