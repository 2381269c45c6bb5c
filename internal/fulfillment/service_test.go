package fulfillment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/marketplace/internal/domain/order"
	"github.com/example/marketplace/internal/domain/product"
	"github.com/example/marketplace/internal/infrastructure/store/mocks"
	"github.com/example/marketplace/internal/occ"
	"github.com/example/marketplace/internal/payment"
)

type publisherRecorder struct {
	mu     sync.Mutex
	events []any
}

func (p *publisherRecorder) Publish(ctx context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *publisherRecorder) Events() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.events...)
}

func newTestService() (*Service, *mocks.MockStore, *publisherRecorder) {
	st := mocks.NewMockStore()
	pub := &publisherRecorder{}
	exec := occ.NewExecutor(occ.WithBackoff(time.Millisecond))
	svc := NewService(st, exec, payment.LocalIntents{}, pub)
	return svc, st, pub
}

func seedProduct(st *mocks.MockStore, id string, stock, price int) *product.Product {
	p := &product.Product{
		ID:       id,
		SellerID: "seller-1",
		Name:     "Product " + id,
		Price:    price,
		Stock:    stock,
		Status:   product.StatusActive,
		Version:  1,
	}
	st.Products[id] = p
	return p
}

func seedOrder(st *mocks.MockStore, status order.Status) *order.Order {
	o := &order.Order{
		ID:         "order-1",
		BuyerID:    "buyer-1",
		BuyerEmail: "buyer@example.com",
		SellerID:   "seller-1",
		Items: []order.OrderItem{
			{ProductID: "prod-1", Quantity: 2, Price: 1000},
			{ProductID: "prod-2", Quantity: 1, Price: 3000},
		},
		Total:      5000,
		Status:     status,
		PaymentRef: "pi_test",
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	st.Orders[o.ID] = o
	return o
}

// ============================================
// Create Tests
// ============================================

func TestService_Create_Success(t *testing.T) {
	svc, st, pub := newTestService()
	seedProduct(st, "prod-1", 10, 1000)
	seedProduct(st, "prod-2", 5, 3000)

	o, err := svc.Create(context.Background(), CreateInput{
		BuyerID:    "buyer-1",
		BuyerEmail: "buyer@example.com",
		Items: []CartItem{
			{ProductID: "prod-1", Quantity: 2},
			{ProductID: "prod-2", Quantity: 1},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, order.StatusPendingPayment, o.Status)
	assert.Equal(t, 5000, o.Total)
	assert.Equal(t, "seller-1", o.SellerID)
	assert.NotEmpty(t, o.PaymentRef)
	assert.Len(t, o.Items, 2)

	p1, _ := st.GetProduct(context.Background(), "prod-1")
	p2, _ := st.GetProduct(context.Background(), "prod-2")
	assert.Equal(t, 8, p1.Stock)
	assert.Equal(t, 4, p2.Stock)

	events := pub.Events()
	require.Len(t, events, 1)
	_, ok := events[0].(order.OrderCreated)
	assert.True(t, ok)
}

func TestService_Create_EmptyOrder(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Create(context.Background(), CreateInput{BuyerID: "buyer-1"})

	assert.ErrorIs(t, err, order.ErrEmptyOrder)
}

func TestService_Create_InvalidQuantity(t *testing.T) {
	svc, st, _ := newTestService()
	seedProduct(st, "prod-1", 10, 1000)

	_, err := svc.Create(context.Background(), CreateInput{
		BuyerID: "buyer-1",
		Items:   []CartItem{{ProductID: "prod-1", Quantity: 0}},
	})

	assert.ErrorIs(t, err, product.ErrInvalidQuantity)
}

func TestService_Create_ProductNotFound(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Create(context.Background(), CreateInput{
		BuyerID: "buyer-1",
		Items:   []CartItem{{ProductID: "missing", Quantity: 1}},
	})

	assert.ErrorIs(t, err, product.ErrProductNotFound)
}

func TestService_Create_ReportsEveryShortage(t *testing.T) {
	svc, st, _ := newTestService()
	seedProduct(st, "prod-1", 1, 1000)
	seedProduct(st, "prod-2", 0, 2000)
	seedProduct(st, "prod-3", 10, 500)

	_, err := svc.Create(context.Background(), CreateInput{
		BuyerID: "buyer-1",
		Items: []CartItem{
			{ProductID: "prod-1", Quantity: 5},
			{ProductID: "prod-2", Quantity: 2},
			{ProductID: "prod-3", Quantity: 1},
		},
	})

	var insufficient *order.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Len(t, insufficient.Shortages, 2, "every failing line is reported, not just the first")
	assert.Equal(t, order.Shortage{ProductID: "prod-1", Available: 1, Requested: 5}, insufficient.Shortages[0])
	assert.Equal(t, order.Shortage{ProductID: "prod-2", Available: 0, Requested: 2}, insufficient.Shortages[1])

	p3, _ := st.GetProduct(context.Background(), "prod-3")
	assert.Equal(t, 10, p3.Stock, "a rejected order must not decrement anything")
}

func TestService_Create_InactiveProductIsShortage(t *testing.T) {
	svc, st, _ := newTestService()
	p := seedProduct(st, "prod-1", 10, 1000)
	p.Status = product.StatusArchived

	_, err := svc.Create(context.Background(), CreateInput{
		BuyerID: "buyer-1",
		Items:   []CartItem{{ProductID: "prod-1", Quantity: 1}},
	})

	var insufficient *order.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Len(t, insufficient.Shortages, 1)
	assert.Equal(t, 0, insufficient.Shortages[0].Available)
}

func TestService_Create_ArchivedDuringCreateIsShortage(t *testing.T) {
	svc, st, _ := newTestService()
	seedProduct(st, "prod-1", 10, 1000)
	// Archive the product between the validation read and the decrement
	// read, the way a concurrent seller update would.
	st.GetProductHook = func(call int, p *product.Product) {
		if call == 2 {
			p.Status = product.StatusArchived
		}
	}

	_, err := svc.Create(context.Background(), CreateInput{
		BuyerID: "buyer-1",
		Items:   []CartItem{{ProductID: "prod-1", Quantity: 1}},
	})

	var insufficient *order.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Len(t, insufficient.Shortages, 1)
	assert.Equal(t, order.Shortage{ProductID: "prod-1", Available: 0, Requested: 1}, insufficient.Shortages[0])

	p, _ := st.GetProduct(context.Background(), "prod-1")
	assert.Equal(t, 10, p.Stock, "a rejected order must not decrement anything")
}

func TestService_Create_ItemsFollowProductIDOrder(t *testing.T) {
	svc, st, _ := newTestService()
	seedProduct(st, "prod-b", 10, 1000)
	seedProduct(st, "prod-a", 10, 2000)

	o, err := svc.Create(context.Background(), CreateInput{
		BuyerID: "buyer-1",
		Items: []CartItem{
			{ProductID: "prod-b", Quantity: 1},
			{ProductID: "prod-a", Quantity: 1},
		},
	})

	require.NoError(t, err)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "prod-a", o.Items[0].ProductID, "line items are deducted and recorded in product id order")
	assert.Equal(t, "prod-b", o.Items[1].ProductID)
	assert.Equal(t, 3000, o.Total)
}

func TestService_Create_MixedSellers(t *testing.T) {
	svc, st, _ := newTestService()
	seedProduct(st, "prod-1", 10, 1000)
	other := seedProduct(st, "prod-2", 10, 1000)
	other.SellerID = "seller-2"

	_, err := svc.Create(context.Background(), CreateInput{
		BuyerID: "buyer-1",
		Items: []CartItem{
			{ProductID: "prod-1", Quantity: 1},
			{ProductID: "prod-2", Quantity: 1},
		},
	})

	assert.ErrorIs(t, err, order.ErrMixedSellers)
}

func TestService_Create_LastUnitRace(t *testing.T) {
	svc, st, _ := newTestService()
	seedProduct(st, "prod-1", 1, 1000)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Create(context.Background(), CreateInput{
				BuyerID: "buyer-1",
				Items:   []CartItem{{ProductID: "prod-1", Quantity: 1}},
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			var insufficient *order.InsufficientStockError
			assert.ErrorAs(t, err, &insufficient)
		}
	}
	assert.Equal(t, 1, winners, "exactly one racer gets the last unit")

	p, _ := st.GetProduct(context.Background(), "prod-1")
	assert.Equal(t, 0, p.Stock, "stock never goes negative")
}

// ============================================
// Payment Settlement Tests
// ============================================

func TestService_MarkPaid_Success(t *testing.T) {
	svc, st, pub := newTestService()
	seedOrder(st, order.StatusPendingPayment)

	err := svc.MarkPaid(context.Background(), "order-1", "pi_test")

	require.NoError(t, err)
	o, _ := st.GetOrder(context.Background(), "order-1")
	assert.Equal(t, order.StatusPaid, o.Status)

	events := pub.Events()
	require.Len(t, events, 1)
	_, ok := events[0].(order.OrderPaid)
	assert.True(t, ok)
}

func TestService_MarkPaid_ReplayIsNoOp(t *testing.T) {
	svc, st, pub := newTestService()
	seedOrder(st, order.StatusPendingPayment)

	require.NoError(t, svc.MarkPaid(context.Background(), "order-1", "pi_test"))
	require.NoError(t, svc.MarkPaid(context.Background(), "order-1", "pi_test"))

	o, _ := st.GetOrder(context.Background(), "order-1")
	assert.Equal(t, order.StatusPaid, o.Status)
	assert.Len(t, pub.Events(), 1)
}

func TestService_MarkPaid_PaymentMismatch(t *testing.T) {
	svc, st, _ := newTestService()
	seedOrder(st, order.StatusPendingPayment)

	err := svc.MarkPaid(context.Background(), "order-1", "pi_other")

	assert.ErrorIs(t, err, payment.ErrPaymentMismatch)
	o, _ := st.GetOrder(context.Background(), "order-1")
	assert.Equal(t, order.StatusPendingPayment, o.Status)
}

func TestService_MarkPaid_NotFound(t *testing.T) {
	svc, _, _ := newTestService()

	err := svc.MarkPaid(context.Background(), "missing", "pi_test")

	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestService_MarkPaymentFailed_Success(t *testing.T) {
	svc, st, _ := newTestService()
	seedOrder(st, order.StatusPendingPayment)

	err := svc.MarkPaymentFailed(context.Background(), "order-1", "pi_test")

	require.NoError(t, err)
	o, _ := st.GetOrder(context.Background(), "order-1")
	assert.Equal(t, order.StatusPaymentFailed, o.Status)
}

func TestService_MarkPaymentFailed_AfterPaidIsNoOp(t *testing.T) {
	svc, st, _ := newTestService()
	seedOrder(st, order.StatusPaid)

	err := svc.MarkPaymentFailed(context.Background(), "order-1", "pi_test")

	require.NoError(t, err)
	o, _ := st.GetOrder(context.Background(), "order-1")
	assert.Equal(t, order.StatusPaid, o.Status, "a paid order is never downgraded")
}

// ============================================
// Refund and Cancel Tests
// ============================================

func TestService_Refund_RestoresStockOnce(t *testing.T) {
	svc, st, pub := newTestService()
	seedProduct(st, "prod-1", 8, 1000)
	seedProduct(st, "prod-2", 4, 3000)
	seedOrder(st, order.StatusPaid)

	res, err := svc.Refund(context.Background(), "order-1")

	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Equal(t, 3, res.UnitsRestored)

	o, _ := st.GetOrder(context.Background(), "order-1")
	assert.Equal(t, order.StatusRefunded, o.Status)

	p1, _ := st.GetProduct(context.Background(), "prod-1")
	p2, _ := st.GetProduct(context.Background(), "prod-2")
	assert.Equal(t, 10, p1.Stock)
	assert.Equal(t, 5, p2.Stock)

	// Second refund is a no-op and must not restore again.
	res, err = svc.Refund(context.Background(), "order-1")
	require.NoError(t, err)
	assert.False(t, res.Done)
	assert.Equal(t, 0, res.UnitsRestored)

	p1, _ = st.GetProduct(context.Background(), "prod-1")
	assert.Equal(t, 10, p1.Stock)

	events := pub.Events()
	require.Len(t, events, 1)
	_, ok := events[0].(order.OrderRefunded)
	assert.True(t, ok)
}

func TestService_Refund_AfterCancelRejected(t *testing.T) {
	svc, st, _ := newTestService()
	seedOrder(st, order.StatusCancelled)

	_, err := svc.Refund(context.Background(), "order-1")

	assert.ErrorIs(t, err, order.ErrInvalidStatus)
}

func TestService_Cancel_PendingRestoresStock(t *testing.T) {
	svc, st, _ := newTestService()
	seedProduct(st, "prod-1", 8, 1000)
	seedProduct(st, "prod-2", 4, 3000)
	seedOrder(st, order.StatusPendingPayment)

	res, err := svc.Cancel(context.Background(), "order-1", "payment not received in time")

	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Equal(t, 3, res.UnitsRestored)

	o, _ := st.GetOrder(context.Background(), "order-1")
	assert.Equal(t, order.StatusCancelled, o.Status)
}

func TestService_Cancel_DeliveredRejected(t *testing.T) {
	svc, st, _ := newTestService()
	seedOrder(st, order.StatusDelivered)

	_, err := svc.Cancel(context.Background(), "order-1", "too late")

	assert.ErrorIs(t, err, order.ErrInvalidStatus)
}

// ============================================
// Stale Cancel Tests
// ============================================

func TestService_CancelStale_PendingRestoresStock(t *testing.T) {
	svc, st, _ := newTestService()
	seedProduct(st, "prod-1", 8, 1000)
	seedProduct(st, "prod-2", 4, 3000)
	seedOrder(st, order.StatusPendingPayment)

	res, err := svc.CancelStale(context.Background(), "order-1", "payment not received in time")

	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Equal(t, 3, res.UnitsRestored)

	o, _ := st.GetOrder(context.Background(), "order-1")
	assert.Equal(t, order.StatusCancelled, o.Status)
}

func TestService_CancelStale_PaidUntouched(t *testing.T) {
	svc, st, pub := newTestService()
	seedProduct(st, "prod-1", 8, 1000)
	seedProduct(st, "prod-2", 4, 3000)
	seedOrder(st, order.StatusPaid)

	res, err := svc.CancelStale(context.Background(), "order-1", "payment not received in time")

	require.NoError(t, err)
	assert.False(t, res.Done)

	o, _ := st.GetOrder(context.Background(), "order-1")
	assert.Equal(t, order.StatusPaid, o.Status, "a settled order is never reclaimed")

	p1, _ := st.GetProduct(context.Background(), "prod-1")
	assert.Equal(t, 8, p1.Stock)
	assert.Empty(t, pub.Events())
}

// ============================================
// Fulfillment Transition Tests
// ============================================

func TestService_UpdateFulfillment_Flow(t *testing.T) {
	svc, st, pub := newTestService()
	seedOrder(st, order.StatusPaid)
	ctx := context.Background()

	require.NoError(t, svc.UpdateFulfillment(ctx, "order-1", "seller-1", order.StatusProcessing))
	require.NoError(t, svc.UpdateFulfillment(ctx, "order-1", "seller-1", order.StatusShipped))
	require.NoError(t, svc.UpdateFulfillment(ctx, "order-1", "seller-1", order.StatusDelivered))

	o, _ := st.GetOrder(ctx, "order-1")
	assert.Equal(t, order.StatusDelivered, o.Status)
	assert.Len(t, pub.Events(), 3)
}

func TestService_UpdateFulfillment_SkippingStepRejected(t *testing.T) {
	svc, st, _ := newTestService()
	seedOrder(st, order.StatusPaid)

	err := svc.UpdateFulfillment(context.Background(), "order-1", "seller-1", order.StatusDelivered)

	assert.ErrorIs(t, err, order.ErrInvalidStatus)
}

func TestService_UpdateFulfillment_NonFulfillmentTarget(t *testing.T) {
	svc, st, _ := newTestService()
	seedOrder(st, order.StatusPaid)

	err := svc.UpdateFulfillment(context.Background(), "order-1", "seller-1", order.StatusCancelled)

	assert.ErrorIs(t, err, order.ErrInvalidStatus)
}

func TestService_UpdateFulfillment_Forbidden(t *testing.T) {
	svc, st, _ := newTestService()
	seedOrder(st, order.StatusPaid)

	err := svc.UpdateFulfillment(context.Background(), "order-1", "seller-2", order.StatusProcessing)

	assert.ErrorIs(t, err, order.ErrForbidden)
}

// ============================================
// Access Control Tests
// ============================================

func TestService_Get_BuyerAndSeller(t *testing.T) {
	svc, st, _ := newTestService()
	seedOrder(st, order.StatusPaid)
	ctx := context.Background()

	_, err := svc.Get(ctx, "order-1", "buyer-1")
	require.NoError(t, err)

	_, err = svc.Get(ctx, "order-1", "seller-1")
	require.NoError(t, err)

	_, err = svc.Get(ctx, "order-1", "someone-else")
	assert.ErrorIs(t, err, order.ErrForbidden)
}
