// Package fulfillment implements the order workflow: creating a pending
// order from a cart snapshot with atomic stock decrements, settling it on
// payment events, and seller-driven fulfillment transitions.
package fulfillment

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/example/marketplace/internal/domain/order"
	"github.com/example/marketplace/internal/domain/product"
	"github.com/example/marketplace/internal/infrastructure/store"
	"github.com/example/marketplace/internal/occ"
	"github.com/example/marketplace/internal/payment"
)

// Publisher delivers committed transition events to external subscribers.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Service struct {
	store     store.Store
	exec      *occ.Executor
	intents   payment.Intents
	publisher Publisher
}

func NewService(st store.Store, exec *occ.Executor, intents payment.Intents, pub Publisher) *Service {
	return &Service{store: st, exec: exec, intents: intents, publisher: pub}
}

type CartItem struct {
	ProductID string
	Quantity  int
}

type CreateInput struct {
	BuyerID    string
	BuyerEmail string
	Items      []CartItem
}

// CancelResult reports what a cancellation or refund actually did.
type CancelResult struct {
	Done          bool
	UnitsRestored int
}

// Create validates every line item, then decrements stock for each product
// and inserts the order inside one transaction: either all decrements and
// the order land, or none do. Validation failures are collected so the
// rejection names every failing line item.
func (s *Service) Create(ctx context.Context, in CreateInput) (*order.Order, error) {
	if len(in.Items) == 0 {
		return nil, order.ErrEmptyOrder
	}

	orderID := uuid.New().String()
	now := time.Now()
	o := &order.Order{
		ID:         orderID,
		BuyerID:    in.BuyerID,
		BuyerEmail: in.BuyerEmail,
		Status:     order.StatusPendingPayment,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.store.WithTx(ctx, func(tx store.UnitOfWork) error {
		// Validation pass: reject the whole order before any mutation.
		var shortages []order.Shortage
		products := make(map[string]*product.Product, len(in.Items))
		for _, item := range in.Items {
			if item.Quantity <= 0 {
				return product.ErrInvalidQuantity
			}
			p, err := tx.GetProduct(ctx, item.ProductID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return product.ErrProductNotFound
				}
				return err
			}
			products[item.ProductID] = p

			if p.Status != product.StatusActive {
				shortages = append(shortages, order.Shortage{ProductID: p.ID, Available: 0, Requested: item.Quantity})
				continue
			}
			if p.Stock < item.Quantity {
				shortages = append(shortages, order.Shortage{ProductID: p.ID, Available: p.Stock, Requested: item.Quantity})
			}
		}
		if len(shortages) > 0 {
			return &order.InsufficientStockError{Shortages: shortages}
		}

		for _, p := range products {
			if o.SellerID == "" {
				o.SellerID = p.SellerID
			} else if o.SellerID != p.SellerID {
				return order.ErrMixedSellers
			}
		}

		// Mutation pass: one conditional decrement per product. A racer
		// that drains stock between validation and write surfaces here,
		// because the stock check reruns on every retry. Decrements run
		// in product id order so concurrent orders take their row locks
		// in the same sequence.
		items := append([]CartItem(nil), in.Items...)
		sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
		for _, item := range items {
			item := item
			err := occ.Update(ctx, s.exec,
				func(ctx context.Context) (*product.Product, error) { return tx.GetProduct(ctx, item.ProductID) },
				func(current *product.Product) error { return current.Deduct(item.Quantity) },
				func(ctx context.Context, current *product.Product, expected int) error {
					return tx.UpdateProduct(ctx, current, expected)
				},
			)
			if errors.Is(err, product.ErrStockExhausted) || errors.Is(err, product.ErrProductInactive) {
				available := 0
				if p, readErr := tx.GetProduct(ctx, item.ProductID); readErr == nil && p.Status == product.StatusActive {
					available = p.Stock
				}
				return &order.InsufficientStockError{Shortages: []order.Shortage{
					{ProductID: item.ProductID, Available: available, Requested: item.Quantity},
				}}
			}
			if err != nil {
				return err
			}

			p := products[item.ProductID]
			o.Items = append(o.Items, order.OrderItem{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Price:     p.Price,
			})
			o.Total += p.Price * item.Quantity
		}

		intentRef, err := s.intents.CreateIntent(ctx, o.Total, map[string]string{"order_id": orderID})
		if err != nil {
			return err
		}
		o.PaymentRef = intentRef

		return tx.CreateOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, o.ID, order.OrderCreated{
		OrderID:    o.ID,
		BuyerID:    o.BuyerID,
		BuyerEmail: o.BuyerEmail,
		SellerID:   o.SellerID,
		Items:      o.Items,
		Total:      o.Total,
		PaymentRef: o.PaymentRef,
		CreatedAt:  o.CreatedAt,
	})
	return o, nil
}

// MarkPaid settles an order on payment success. Replays are no-ops and a
// paid order is never downgraded.
func (s *Service) MarkPaid(ctx context.Context, orderID, paymentRef string) error {
	o, err := s.getOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if o.Status != order.StatusPendingPayment {
		return nil
	}
	if paymentRef != "" && o.PaymentRef != paymentRef {
		return payment.ErrPaymentMismatch
	}

	now := time.Now()
	ok, err := s.store.TransitionOrder(ctx, orderID, order.StatusPendingPayment, order.StatusPaid, now)
	if err != nil || !ok {
		return err
	}

	s.publish(ctx, o.ID, order.OrderPaid{
		OrderID:    o.ID,
		BuyerID:    o.BuyerID,
		BuyerEmail: o.BuyerEmail,
		Total:      o.Total,
		PaidAt:     now,
	})
	return nil
}

// MarkPaymentFailed records a failed payment. Orders that already reached
// paid or beyond keep their status.
func (s *Service) MarkPaymentFailed(ctx context.Context, orderID, paymentRef string) error {
	o, err := s.getOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if o.Status != order.StatusPendingPayment {
		return nil
	}
	if paymentRef != "" && o.PaymentRef != paymentRef {
		return payment.ErrPaymentMismatch
	}

	now := time.Now()
	ok, err := s.store.TransitionOrder(ctx, orderID, order.StatusPendingPayment, order.StatusPaymentFailed, now)
	if err != nil || !ok {
		return err
	}

	s.publish(ctx, o.ID, order.OrderPaymentFailed{OrderID: o.ID, FailedAt: now})
	return nil
}

// Refund moves a pre-delivered order to refunded and restores stock for
// every line item exactly once.
func (s *Service) Refund(ctx context.Context, orderID string) (*CancelResult, error) {
	return s.release(ctx, orderID, order.StatusRefunded, "charge refunded", false)
}

// Cancel moves an unsettled order to cancelled and restores stock.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (*CancelResult, error) {
	return s.release(ctx, orderID, order.StatusCancelled, reason, false)
}

// CancelStale is the reclaimer's cancel. It acts only while the order is
// still awaiting payment, so a success webhook that lands between the
// staleness listing and this call always keeps the order paid.
func (s *Service) CancelStale(ctx context.Context, orderID, reason string) (*CancelResult, error) {
	return s.release(ctx, orderID, order.StatusCancelled, reason, true)
}

// release is the shared cancel/refund path: a conditional status flip
// followed by stock restores in the same transaction. If the flip loses to
// a concurrent writer, nothing is restored.
func (s *Service) release(ctx context.Context, orderID string, target order.Status, reason string, staleOnly bool) (*CancelResult, error) {
	result := &CancelResult{}
	var released order.Order

	err := s.store.WithTx(ctx, func(tx store.UnitOfWork) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return order.ErrOrderNotFound
			}
			return err
		}

		if staleOnly && o.Status != order.StatusPendingPayment && o.Status != order.StatusPaymentFailed {
			return nil
		}

		if o.Status == target {
			return nil
		}
		if !o.CanTransitionTo(target) {
			return o.TransitionError(target)
		}

		ok, err := tx.TransitionOrder(ctx, o.ID, o.Status, target, time.Now())
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if o.Status.HoldsStock() {
			for _, item := range o.Items {
				item := item
				err := occ.Update(ctx, s.exec,
					func(ctx context.Context) (*product.Product, error) { return tx.GetProduct(ctx, item.ProductID) },
					func(current *product.Product) error { return current.Restore(item.Quantity) },
					func(ctx context.Context, current *product.Product, expected int) error {
						return tx.UpdateProduct(ctx, current, expected)
					},
				)
				if err != nil {
					return err
				}
				result.UnitsRestored += item.Quantity
			}
		}

		result.Done = true
		released = *o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Done {
		now := time.Now()
		if target == order.StatusRefunded {
			s.publish(ctx, released.ID, order.OrderRefunded{OrderID: released.ID, RefundedAt: now})
		} else {
			s.publish(ctx, released.ID, order.OrderCancelled{OrderID: released.ID, Reason: reason, CancelledAt: now})
		}
	}
	return result, nil
}

// UpdateFulfillment applies a seller-driven transition (processing, shipped,
// delivered). Only the order's seller may call it, and it never touches
// stock counters.
func (s *Service) UpdateFulfillment(ctx context.Context, orderID, actorID string, target order.Status) error {
	if !target.Fulfillment() {
		return order.ErrInvalidStatus
	}

	o, err := s.getOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.SellerID != actorID {
		return order.ErrForbidden
	}
	if !o.CanTransitionTo(target) {
		return o.TransitionError(target)
	}

	now := time.Now()
	ok, err := s.store.TransitionOrder(ctx, orderID, o.Status, target, now)
	if err != nil {
		return err
	}
	if !ok {
		return order.ErrInvalidStatus
	}

	s.publish(ctx, o.ID, order.OrderStatusChanged{
		OrderID:   o.ID,
		From:      o.Status,
		To:        target,
		ChangedAt: now,
	})
	return nil
}

// Get returns an order to its buyer or seller.
func (s *Service) Get(ctx context.Context, orderID, actorID string) (*order.Order, error) {
	o, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != actorID && o.SellerID != actorID {
		return nil, order.ErrForbidden
	}
	return o, nil
}

func (s *Service) getOrder(ctx context.Context, id string) (*order.Order, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, order.ErrOrderNotFound
		}
		return nil, err
	}
	return o, nil
}

func (s *Service) publish(ctx context.Context, key string, event any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, key, event); err != nil {
		log.Printf("[Fulfillment] failed to publish event for %s: %v", key, err)
	}
}
