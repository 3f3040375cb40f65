package fulfill

import (
	"context"
	"fmt"
	"log"
	"time"

	kafkax "github.com/ariefcatur/go-digital-stock.git/internal/kafka"
	"github.com/ariefcatur/go-digital-stock.git/internal/payment"
	"github.com/ariefcatur/go-digital-stock.git/internal/redisx"
	"github.com/ariefcatur/go-digital-stock.git/internal/shop"
	"github.com/ariefcatur/go-digital-stock.git/internal/stock"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher is what the coordinator needs from the Kafka producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Coordinator maps a normalized payment status onto the stock engines.
// Both the webhook handler and the sync job go through Apply, so the
// settle/release decision lives in exactly one place.
type Coordinator struct {
	Stock    *stock.Service
	Orders   stock.OrderStore
	Producer Publisher     // optional
	Redis    *redis.Client // optional, order-status cache
	Service  string        // event producer name
}

// Apply drives finalization or release for one order based on what the
// provider reported. Safe to call repeatedly: the engines underneath
// are idempotent.
func (c *Coordinator) Apply(ctx context.Context, orderID string, st payment.Status, transactionID string) error {
	switch st {
	case payment.StatusPending:
		return nil

	case payment.StatusSettled:
		if transactionID != "" {
			if err := c.Orders.SetTransaction(ctx, orderID, transactionID); err != nil {
				return err
			}
		}
		// PAID is best effort; COMPLETED with a populated fulfillment
		// record is what matters.
		if _, err := c.Orders.UpdateStatus(ctx, orderID, shop.OrderPaid); err != nil {
			return err
		}
		res, err := c.Stock.Finalize(ctx, orderID)
		if err != nil {
			return err
		}
		switch {
		case res.OK:
			c.publish(orderID, shop.EventOrderCompleted,
				shop.OrderCompletedPayload{OrderID: orderID, ItemCount: len(res.Items)})
		case res.Reason == stock.ReasonNoItemsAvailable,
			res.Reason == stock.ReasonSettledAfterCancel:
			log.Printf("order %s settled but unfulfillable (%s), flagged for admin", orderID, res.Reason)
			c.publish(orderID, shop.EventOrderNeedsAttention,
				shop.OrderNeedsAttentionPayload{OrderID: orderID, Reason: string(res.Reason)})
		default:
			return fmt.Errorf("finalize %s: %s", orderID, res.Reason)
		}
		c.cacheStatus(ctx, orderID)
		return nil

	case payment.StatusDenied, payment.StatusCancelled, payment.StatusExpired:
		rel, err := c.Stock.Release(ctx, orderID, string(st))
		if err != nil {
			return err
		}
		// Guarded: no-op when finalization already completed the order.
		moved, err := c.Orders.UpdateStatus(ctx, orderID, shop.OrderFailed)
		if err != nil {
			return err
		}
		if moved {
			c.publish(orderID, shop.EventOrderFailed,
				shop.OrderFailedPayload{OrderID: orderID, Reason: string(st)})
		}
		if rel.Released > 0 {
			c.publish(orderID, shop.EventStockReleased,
				shop.StockReleasedPayload{OrderID: orderID, Released: rel.Released, Cause: "payment_failed"})
		}
		c.cacheStatus(ctx, orderID)
		return nil

	default:
		return fmt.Errorf("unhandled payment status %q for order %s", st, orderID)
	}
}

// Cancel handles buyer/admin cancellation before payment. ok=false
// means the order is past the point of cancelling.
func (c *Coordinator) Cancel(ctx context.Context, orderID string) (released int, ok bool, err error) {
	moved, err := c.Orders.UpdateStatus(ctx, orderID, shop.OrderCancelled)
	if err != nil {
		return 0, false, err
	}
	if !moved {
		return 0, false, nil
	}
	rel, err := c.Stock.Release(ctx, orderID, "cancelled")
	if err != nil {
		return 0, false, err
	}
	c.publish(orderID, shop.EventOrderCancelled,
		shop.OrderCancelledPayload{OrderID: orderID, Released: rel.Released})
	c.cacheStatus(ctx, orderID)
	return rel.Released, true, nil
}

func (c *Coordinator) publish(orderID, eventType string, payload any) {
	if c.Producer == nil {
		return
	}
	ev := shop.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      c.Service,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	c.Producer.Publish(shop.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

// cacheStatus refreshes the shared Redis status entry so polling stays
// cheap across instances. Best effort, the DB stays the truth.
func (c *Coordinator) cacheStatus(ctx context.Context, orderID string) {
	if c.Redis == nil {
		return
	}
	o, err := c.Orders.Get(ctx, orderID)
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	body := fmt.Sprintf(`{"status":%q}`, o.Status)
	_ = c.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err()
}
