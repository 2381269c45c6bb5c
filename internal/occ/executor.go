// Package occ implements the optimistic update executor: a bounded
// compare-and-swap retry loop over versioned rows. It has no knowledge of
// booking or order semantics; the reservation workflow, the fulfillment
// workflow and the reclaimer all reuse it unchanged.
package occ

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/example/marketplace/internal/domain/aggregate"
	"github.com/example/marketplace/internal/infrastructure/store"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 20 * time.Millisecond
)

// ConflictError is returned after every attempt lost the version race.
// Callers above this core may treat it as retriable at the request level.
type ConflictError struct {
	EntityID string
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on %s after %d attempts", e.EntityID, e.Attempts)
}

type Executor struct {
	maxAttempts int
	backoff     time.Duration
}

type Option func(*Executor)

// WithMaxAttempts overrides the default retry bound.
func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithBackoff overrides the base delay between retries.
func WithBackoff(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.backoff = d
		}
	}
}

func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Update performs a read, mutate, conditional-write cycle, retrying on a stale
// version against freshly read state. mutate must be safe to call once per
// attempt: every business check inside it runs again on each retry, so
// capacity is rechecked rather than assumed stable. A mutate error aborts
// the loop immediately; it is a business rejection, not a conflict.
func Update[T aggregate.Versioned](
	ctx context.Context,
	e *Executor,
	read func(ctx context.Context) (T, error),
	mutate func(T) error,
	write func(ctx context.Context, entity T, expectedVersion int) error,
) error {
	var entityID string

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		entity, err := read(ctx)
		if err != nil {
			return err
		}
		entityID = entity.GetID()

		if err := mutate(entity); err != nil {
			return err
		}

		err = write(ctx, entity, entity.GetVersion())
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
		if attempt == e.maxAttempts {
			break
		}
		if err := e.sleep(ctx); err != nil {
			return err
		}
	}

	return &ConflictError{EntityID: entityID, Attempts: e.maxAttempts}
}

// sleep waits for the base backoff plus jitter, so hot contenders do not
// retry in lockstep.
func (e *Executor) sleep(ctx context.Context) error {
	delay := e.backoff + time.Duration(rand.Int63n(int64(e.backoff)))
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
