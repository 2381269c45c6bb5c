package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/example/marketplace/internal/domain/booking"
	"github.com/example/marketplace/internal/domain/order"
	"github.com/example/marketplace/internal/domain/product"
	"github.com/example/marketplace/internal/domain/slot"
	"github.com/example/marketplace/internal/domain/user"
	"github.com/example/marketplace/internal/infrastructure/store"
)

// MockStore is an in-memory implementation of store.Store for testing. Its
// conditional writes enforce the same version and status checks as the
// Postgres implementation, so optimistic-concurrency behavior can be
// exercised without a database.
type MockStore struct {
	mu sync.Mutex

	Slots         map[string]*slot.Slot
	Products      map[string]*product.Product
	Bookings      map[string]*booking.Booking
	Orders        map[string]*order.Order
	Users         map[string]*user.User
	WebhookEvents map[string]*store.WebhookEvent

	// For injecting failures in tests
	GetSlotErr       error
	UpdateSlotErr    error
	GetProductErr    error
	UpdateProductErr error
	InsertWebhookErr error

	// GetProductHook runs under the store lock before each product read,
	// with the 1-based call number and the stored row. Tests use it to
	// mutate state between the reads of one operation.
	GetProductHook func(call int, p *product.Product)

	// Call counters
	GetProductCalls    int
	UpdateSlotCalls    int
	UpdateProductCalls int
}

func NewMockStore() *MockStore {
	return &MockStore{
		Slots:         make(map[string]*slot.Slot),
		Products:      make(map[string]*product.Product),
		Bookings:      make(map[string]*booking.Booking),
		Orders:        make(map[string]*order.Order),
		Users:         make(map[string]*user.User),
		WebhookEvents: make(map[string]*store.WebhookEvent),
	}
}

// WithTx runs fn against the same store. The mock provides no rollback;
// tests asserting atomicity should use failure injection before the first
// mutation.
func (m *MockStore) WithTx(ctx context.Context, fn func(tx store.UnitOfWork) error) error {
	return fn(m)
}

// Slots

func (m *MockStore) GetSlot(ctx context.Context, id string) (*slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetSlotErr != nil {
		return nil, m.GetSlotErr
	}
	s, ok := m.Slots[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockStore) UpdateSlot(ctx context.Context, s *slot.Slot, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateSlotCalls++
	if m.UpdateSlotErr != nil {
		return m.UpdateSlotErr
	}
	current, ok := m.Slots[s.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	cp := *s
	cp.Version = expectedVersion + 1
	m.Slots[s.ID] = &cp
	s.SetVersion(expectedVersion + 1)
	return nil
}

// Products

func (m *MockStore) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetProductCalls++
	if m.GetProductErr != nil {
		return nil, m.GetProductErr
	}
	p, ok := m.Products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if m.GetProductHook != nil {
		m.GetProductHook(m.GetProductCalls, p)
	}
	cp := *p
	return &cp, nil
}

func (m *MockStore) UpdateProduct(ctx context.Context, p *product.Product, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateProductCalls++
	if m.UpdateProductErr != nil {
		return m.UpdateProductErr
	}
	current, ok := m.Products[p.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	cp := *p
	cp.Version = expectedVersion + 1
	m.Products[p.ID] = &cp
	p.SetVersion(expectedVersion + 1)
	return nil
}

// Bookings

func (m *MockStore) CreateBooking(ctx context.Context, b *booking.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.Bookings[b.ID] = &cp
	return nil
}

func (m *MockStore) GetBooking(ctx context.Context, id string) (*booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Bookings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MockStore) TransitionBooking(ctx context.Context, id string, from, to booking.Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Bookings[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	switch to {
	case booking.StatusConfirmed:
		b.ConfirmedAt = &at
	case booking.StatusCancelled:
		b.CancelledAt = &at
	}
	return true, nil
}

func (m *MockStore) FlagBookingReview(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.Bookings[id]; ok {
		b.NeedsReview = true
	}
	return nil
}

func (m *MockStore) ListStaleBookings(ctx context.Context, before time.Time, limit int) ([]booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []booking.Booking
	for _, b := range m.Bookings {
		if len(out) >= limit {
			break
		}
		stale := b.Status == booking.StatusPendingPayment || b.Status == booking.StatusPaymentFailed
		if stale && b.CreatedAt.Before(before) {
			out = append(out, *b)
		}
	}
	return out, nil
}

// Orders

func (m *MockStore) CreateOrder(ctx context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	cp.Items = append([]order.OrderItem(nil), o.Items...)
	m.Orders[o.ID] = &cp
	return nil
}

func (m *MockStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.Orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *o
	cp.Items = append([]order.OrderItem(nil), o.Items...)
	return &cp, nil
}

func (m *MockStore) TransitionOrder(ctx context.Context, id string, from, to order.Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.Orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = at
	return true, nil
}

func (m *MockStore) ListStaleOrders(ctx context.Context, before time.Time, limit int) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for _, o := range m.Orders {
		if len(out) >= limit {
			break
		}
		stale := o.Status == order.StatusPendingPayment || o.Status == order.StatusPaymentFailed
		if stale && o.CreatedAt.Before(before) {
			out = append(out, *o)
		}
	}
	return out, nil
}

// Users

func (m *MockStore) CreateUser(ctx context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Users {
		if existing.Email == u.Email {
			return store.ErrDuplicateUser
		}
	}
	cp := *u
	m.Users[u.ID] = &cp
	return nil
}

func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// Webhook ledger

func (m *MockStore) GetWebhookEvent(ctx context.Context, externalID string) (*store.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.WebhookEvents[externalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MockStore) InsertWebhookEvent(ctx context.Context, e *store.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertWebhookErr != nil {
		return m.InsertWebhookErr
	}
	if _, exists := m.WebhookEvents[e.ExternalID]; exists {
		return store.ErrDuplicateEvent
	}
	cp := *e
	m.WebhookEvents[e.ExternalID] = &cp
	return nil
}

func (m *MockStore) MarkWebhookProcessed(ctx context.Context, externalID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.WebhookEvents[externalID]; ok {
		e.Processed = true
		e.ProcessedAt = &at
		e.LastError = ""
	}
	return nil
}

func (m *MockStore) RecordWebhookError(ctx context.Context, externalID, msg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.WebhookEvents[externalID]; ok {
		e.Processed = true
		e.ProcessedAt = &at
		e.LastError = msg
	}
	return nil
}
