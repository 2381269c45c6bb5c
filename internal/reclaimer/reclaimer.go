// Package reclaimer sweeps bookings and orders stuck awaiting payment past
// the abandonment threshold, cancels them and restores the capacity or
// stock they hold.
package reclaimer

import (
	"context"
	"log"
	"time"

	"github.com/example/marketplace/internal/fulfillment"
	"github.com/example/marketplace/internal/infrastructure/store"
	"github.com/example/marketplace/internal/reservation"
)

const (
	DefaultThreshold = 30 * time.Minute
	sweepBatchSize   = 500
)

// Detail is the per-entity record of one sweep, for observability.
type Detail struct {
	Kind          string `json:"kind"` // "booking" or "order"
	ID            string `json:"id"`
	UnitsRestored int    `json:"units_restored"`
}

// Summary reports what one sweep did.
type Summary struct {
	CancelledCount int      `json:"cancelled_count"`
	UnitsRestored  int      `json:"units_restored"`
	Details        []Detail `json:"details"`
}

type Reclaimer struct {
	store    store.Store
	bookings *reservation.Service
	orders   *fulfillment.Service
}

func New(st store.Store, bookings *reservation.Service, orders *fulfillment.Service) *Reclaimer {
	return &Reclaimer{store: st, bookings: bookings, orders: orders}
}

// Reclaim cancels every booking and order still awaiting payment that was
// created before now minus threshold. It is safe to run concurrently with
// webhook settlement: the stale-only cancel paths re-check entity status
// under the transaction and skip anything a success webhook got to first.
func (r *Reclaimer) Reclaim(ctx context.Context, threshold time.Duration) (*Summary, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	cutoff := time.Now().Add(-threshold)
	summary := &Summary{}

	staleBookings, err := r.store.ListStaleBookings(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return nil, err
	}
	for _, b := range staleBookings {
		res, err := r.bookings.CancelStale(ctx, b.ID, "payment not received in time")
		if err != nil {
			log.Printf("[Reclaimer] failed to cancel booking %s: %v", b.ID, err)
			continue
		}
		if !res.Cancelled {
			continue
		}
		summary.CancelledCount++
		summary.UnitsRestored += res.GuestsReleased
		summary.Details = append(summary.Details, Detail{
			Kind:          "booking",
			ID:            b.ID,
			UnitsRestored: res.GuestsReleased,
		})
	}

	staleOrders, err := r.store.ListStaleOrders(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return nil, err
	}
	for _, o := range staleOrders {
		res, err := r.orders.CancelStale(ctx, o.ID, "payment not received in time")
		if err != nil {
			log.Printf("[Reclaimer] failed to cancel order %s: %v", o.ID, err)
			continue
		}
		if !res.Done {
			continue
		}
		summary.CancelledCount++
		summary.UnitsRestored += res.UnitsRestored
		summary.Details = append(summary.Details, Detail{
			Kind:          "order",
			ID:            o.ID,
			UnitsRestored: res.UnitsRestored,
		})
	}

	return summary, nil
}

// Run sweeps on every tick until the context is cancelled.
func (r *Reclaimer) Run(ctx context.Context, interval, threshold time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			summary, err := r.Reclaim(ctx, threshold)
			if err != nil {
				log.Printf("[Reclaimer] sweep failed: %v", err)
				continue
			}
			log.Printf("[Reclaimer] sweep done: cancelled=%d units_restored=%d",
				summary.CancelledCount, summary.UnitsRestored)
		}
	}
}
