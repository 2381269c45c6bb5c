package occ

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/marketplace/internal/infrastructure/store"
)

type counter struct {
	ID      string
	Value   int
	Version int
}

func (c *counter) GetID() string    { return c.ID }
func (c *counter) GetVersion() int  { return c.Version }
func (c *counter) SetVersion(v int) { c.Version = v }

func fastExecutor() *Executor {
	return NewExecutor(WithBackoff(time.Millisecond))
}

// ============================================
// Update Tests
// ============================================

func TestUpdate_SucceedsFirstAttempt(t *testing.T) {
	exec := fastExecutor()
	stored := &counter{ID: "c-1", Value: 0, Version: 1}
	reads, writes := 0, 0

	err := Update(context.Background(), exec,
		func(ctx context.Context) (*counter, error) {
			reads++
			cp := *stored
			return &cp, nil
		},
		func(c *counter) error {
			c.Value++
			return nil
		},
		func(ctx context.Context, c *counter, expected int) error {
			writes++
			stored.Value = c.Value
			stored.Version = expected + 1
			return nil
		},
	)

	require.NoError(t, err)
	assert.Equal(t, 1, reads)
	assert.Equal(t, 1, writes)
	assert.Equal(t, 1, stored.Value)
}

func TestUpdate_RetriesOnConflictThenSucceeds(t *testing.T) {
	exec := fastExecutor()
	stored := &counter{ID: "c-1", Value: 0, Version: 1}
	writes := 0

	err := Update(context.Background(), exec,
		func(ctx context.Context) (*counter, error) {
			cp := *stored
			return &cp, nil
		},
		func(c *counter) error {
			c.Value++
			return nil
		},
		func(ctx context.Context, c *counter, expected int) error {
			writes++
			// First write loses the race; the retry reads fresh state.
			if writes == 1 {
				stored.Version++
				return store.ErrVersionConflict
			}
			stored.Value = c.Value
			stored.Version = expected + 1
			return nil
		},
	)

	require.NoError(t, err)
	assert.Equal(t, 2, writes)
	assert.Equal(t, 1, stored.Value)
}

func TestUpdate_ExhaustsAttempts(t *testing.T) {
	exec := fastExecutor()
	writes := 0

	err := Update(context.Background(), exec,
		func(ctx context.Context) (*counter, error) {
			return &counter{ID: "c-1", Version: 1}, nil
		},
		func(c *counter) error { return nil },
		func(ctx context.Context, c *counter, expected int) error {
			writes++
			return store.ErrVersionConflict
		},
	)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "c-1", conflict.EntityID)
	assert.Equal(t, 3, conflict.Attempts)
	assert.Equal(t, 3, writes)
}

func TestUpdate_MutateErrorAbortsImmediately(t *testing.T) {
	exec := fastExecutor()
	rejection := errors.New("business rejection")
	writes := 0

	err := Update(context.Background(), exec,
		func(ctx context.Context) (*counter, error) {
			return &counter{ID: "c-1", Version: 1}, nil
		},
		func(c *counter) error { return rejection },
		func(ctx context.Context, c *counter, expected int) error {
			writes++
			return nil
		},
	)

	assert.ErrorIs(t, err, rejection)
	assert.Equal(t, 0, writes, "a rejected mutation must never reach the store")
}

func TestUpdate_NonConflictWriteErrorAborts(t *testing.T) {
	exec := fastExecutor()
	infra := errors.New("connection reset")
	writes := 0

	err := Update(context.Background(), exec,
		func(ctx context.Context) (*counter, error) {
			return &counter{ID: "c-1", Version: 1}, nil
		},
		func(c *counter) error { return nil },
		func(ctx context.Context, c *counter, expected int) error {
			writes++
			return infra
		},
	)

	assert.ErrorIs(t, err, infra)
	assert.Equal(t, 1, writes)
}

func TestUpdate_ReadErrorAborts(t *testing.T) {
	exec := fastExecutor()
	notFound := errors.New("not found")

	err := Update(context.Background(), exec,
		func(ctx context.Context) (*counter, error) { return nil, notFound },
		func(c *counter) error { return nil },
		func(ctx context.Context, c *counter, expected int) error { return nil },
	)

	assert.ErrorIs(t, err, notFound)
}

func TestUpdate_ContextCancelledDuringBackoff(t *testing.T) {
	exec := NewExecutor(WithBackoff(50 * time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := Update(ctx, exec,
		func(ctx context.Context) (*counter, error) {
			return &counter{ID: "c-1", Version: 1}, nil
		},
		func(c *counter) error { return nil },
		func(ctx context.Context, c *counter, expected int) error {
			return store.ErrVersionConflict
		},
	)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestUpdate_WithMaxAttempts(t *testing.T) {
	exec := NewExecutor(WithMaxAttempts(5), WithBackoff(time.Millisecond))
	writes := 0

	err := Update(context.Background(), exec,
		func(ctx context.Context) (*counter, error) {
			return &counter{ID: "c-1", Version: 1}, nil
		},
		func(c *counter) error { return nil },
		func(ctx context.Context, c *counter, expected int) error {
			writes++
			return store.ErrVersionConflict
		},
	)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 5, writes)
}
