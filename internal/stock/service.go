package stock

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-digital-stock.git/internal/shop"
)

const DefaultReservationTTL = 15 * time.Minute

// Service is the reservation / finalization / release core. It holds no
// state of its own; consistency comes from the stores' atomic
// conditional updates, so any number of callers may hit it concurrently.
type Service struct {
	Items  ItemStore
	Orders OrderStore
	TTL    time.Duration    // reservation time-to-live
	Now    func() time.Time // injectable clock, defaults to time.Now
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultReservationTTL
}

// ReservationTTL is the effective time-to-live for new reservations.
func (s *Service) ReservationTTL() time.Duration { return s.ttl() }

// Reserve claims qty items of a product for the order, all-or-nothing.
// Re-invoking while the order already holds a live reservation for the
// product is a no-op returning the existing count.
func (s *Service) Reserve(ctx context.Context, orderID, productCode string, qty int) (ReservationResult, error) {
	if qty <= 0 {
		return ReservationResult{Reason: ReasonInvalidQuantity}, nil
	}
	exists, err := s.Items.ProductExists(ctx, productCode)
	if err != nil {
		return ReservationResult{}, err
	}
	if !exists {
		return ReservationResult{Reason: ReasonUnknownProduct}, nil
	}

	// Idempotent short-circuit: a live reservation already covers this
	// order+product, do not claim a second batch. The expiry reported is
	// the one the items actually carry, not a fresh clock read.
	live, liveExp, err := s.Items.LiveReservation(ctx, orderID, productCode, s.now())
	if err != nil {
		return ReservationResult{}, err
	}
	if live > 0 {
		return ReservationResult{OK: true, Reserved: live, ExpiresAt: liveExp}, nil
	}

	expiresAt := s.now().Add(s.ttl())
	claimed, err := s.Items.ClaimAvailable(ctx, orderID, productCode, qty, expiresAt)
	if err != nil {
		return ReservationResult{}, err
	}
	if claimed != qty {
		return ReservationResult{Reserved: 0, Available: claimed, Reason: ReasonInsufficientStock}, nil
	}
	return ReservationResult{OK: true, Reserved: claimed, ExpiresAt: expiresAt}, nil
}

// Finalize converts the order's reservations into a sale and returns
// the exact payloads sold, exactly once no matter how often it is
// retried.
//
// The fulfillment record is checked first and is authoritative. After
// that the engine converges the order towards full coverage of its line
// items: claim reservations (expiry does not matter, payment success
// overrides it), re-read already-sold units, then fall back to fresh
// stock per shortfall. Only a fully covered order gets its fulfillment
// record written and its status moved to COMPLETED.
func (s *Service) Finalize(ctx context.Context, orderID string) (FinalizationResult, error) {
	record, err := s.Orders.Fulfillment(ctx, orderID)
	if err != nil {
		return FinalizationResult{}, err
	}
	if len(record) > 0 {
		return FinalizationResult{OK: true, Items: record, Replayed: true}, nil
	}

	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, shop.ErrOrderNotFound) {
			return FinalizationResult{Reason: ReasonOrderNotFound}, nil
		}
		return FinalizationResult{}, err
	}
	// Settled payment for an order that was already cancelled or failed:
	// its reservations are long released and COMPLETED is unreachable, so
	// claiming stock here would sell items nobody can ever receive. Flag
	// the order and let an operator pick refund or manual fulfillment.
	if o.Status == shop.OrderCancelled || o.Status == shop.OrderFailed {
		if err := s.Orders.MarkAttention(ctx, orderID, string(ReasonSettledAfterCancel)); err != nil {
			return FinalizationResult{}, err
		}
		return FinalizationResult{Reason: ReasonSettledAfterCancel}, nil
	}
	lines, err := s.Orders.LineItems(ctx, orderID)
	if err != nil {
		return FinalizationResult{}, err
	}

	// Claim reservations first, then read sold units. The claim is a
	// single conditional update, so a concurrent finalize that beat us
	// to it has already committed its rows and the read observes them.
	if _, err := s.Items.ClaimReservedAsSold(ctx, orderID); err != nil {
		return FinalizationResult{}, err
	}
	sold, err := s.Items.SoldByOrder(ctx, orderID)
	if err != nil {
		return FinalizationResult{}, err
	}

	got := map[string]int{}
	for _, it := range sold {
		got[it.ProductCode]++
	}
	for _, ln := range lines {
		missing := ln.Qty - got[ln.ProductCode]
		if missing <= 0 {
			continue
		}
		// Reservation expired and was swept before payment settled:
		// recover from currently available stock.
		extra, err := s.Items.ClaimAvailableAsSold(ctx, orderID, ln.ProductCode, missing)
		if err != nil {
			return FinalizationResult{}, err
		}
		if len(extra) != missing {
			// Genuine fulfillment failure. Leave what is sold in place
			// for the operator and never report the order as completed.
			if err := s.Orders.MarkAttention(ctx, orderID, string(ReasonNoItemsAvailable)); err != nil {
				return FinalizationResult{}, err
			}
			return FinalizationResult{Reason: ReasonNoItemsAvailable}, nil
		}
		sold = append(sold, extra...)
	}

	if err := s.Orders.SaveFulfillment(ctx, orderID, sold); err != nil {
		return FinalizationResult{}, err
	}
	if _, err := s.Orders.UpdateStatus(ctx, orderID, shop.OrderCompleted); err != nil {
		return FinalizationResult{}, err
	}

	out := make([]shop.FulfillmentItem, 0, len(sold))
	for _, it := range sold {
		out = append(out, shop.FulfillmentItem{ItemID: it.ID, ProductCode: it.ProductCode, Payload: it.Payload})
	}
	return FinalizationResult{OK: true, Items: out}, nil
}

// Release returns the order's reserved (not sold) items to the pool.
// Releasing an order with nothing reserved is a successful no-op.
func (s *Service) Release(ctx context.Context, orderID, reason string) (ReleaseResult, error) {
	_ = reason // recorded by callers in events/logs
	n, err := s.Items.ReleaseByOrder(ctx, orderID)
	if err != nil {
		return ReleaseResult{}, err
	}
	return ReleaseResult{OK: true, Released: n}, nil
}

// SweepExpired releases every reservation past its expiry, across all
// products and independent of order status. Safety net for orders whose
// own cancellation path never ran.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	return s.Items.ReleaseExpired(ctx, s.now())
}

// GetOrderStatus answers client-facing polling. Payloads are included
// only once the order is COMPLETED, straight from the fulfillment
// record.
func (s *Service) GetOrderStatus(ctx context.Context, orderID string) (OrderStatusResult, error) {
	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, shop.ErrOrderNotFound) {
			return OrderStatusResult{Reason: ReasonOrderNotFound}, nil
		}
		return OrderStatusResult{}, err
	}
	res := OrderStatusResult{OK: true, Status: o.Status, AttentionReason: o.AttentionReason}
	if o.Status == shop.OrderCompleted {
		items, err := s.Orders.Fulfillment(ctx, orderID)
		if err != nil {
			return OrderStatusResult{}, err
		}
		res.Items = items
	}
	return res, nil
}
