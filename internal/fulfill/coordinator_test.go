package fulfill

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-digital-stock.git/internal/payment"
	"github.com/ariefcatur/go-digital-stock.git/internal/shop"
	"github.com/ariefcatur/go-digital-stock.git/internal/stock"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePublisher records published envelopes in order.
type fakePublisher struct {
	mu     sync.Mutex
	events []shop.Envelope
}

func (f *fakePublisher) Publish(_, value []byte, _ ...kafkago.Header) {
	var env shop.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		panic(err)
	}
	f.mu.Lock()
	f.events = append(f.events, env)
	f.mu.Unlock()
}

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.EventType)
	}
	return out
}

func newCoordinator(ttl time.Duration) (*stock.MemoryStore, *Coordinator, *fakePublisher) {
	store := stock.NewMemoryStore()
	svc := &stock.Service{Items: store, Orders: store, TTL: ttl}
	pub := &fakePublisher{}
	coord := &Coordinator{Stock: svc, Orders: store, Producer: pub, Service: "test"}
	return store, coord, pub
}

func seedOrder(store *stock.MemoryStore, orderID string, qty int, payloads ...string) {
	store.AddProduct("DEMO1", "Demo Account", 500)
	store.AddItems("DEMO1", payloads...)
	store.CreateOrder(orderID, "ext-"+orderID, "user-1", []shop.LineItem{
		{ProductCode: "DEMO1", Qty: qty, PriceCents: 500},
	})
}

func TestApplySettled(t *testing.T) {
	store, coord, pub := newCoordinator(time.Minute)
	seedOrder(store, "ORD-1", 2, "acc-1", "acc-2")
	ctx := context.Background()

	res, err := coord.Stock.Reserve(ctx, "ORD-1", "DEMO1", 2)
	require.NoError(t, err)
	require.True(t, res.OK)

	require.NoError(t, coord.Apply(ctx, "ORD-1", payment.StatusSettled, "txn-9"))

	o, err := store.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, shop.OrderCompleted, o.Status)
	assert.Equal(t, "txn-9", o.TransactionID)

	record, err := store.Fulfillment(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Len(t, record, 2)
	assert.Equal(t, []string{shop.EventOrderCompleted}, pub.types())

	// Duplicate notification replays, never double-charges inventory.
	require.NoError(t, coord.Apply(ctx, "ORD-1", payment.StatusSettled, "txn-9"))
	_, _, sold := store.Counts("DEMO1")
	assert.Equal(t, 2, sold)
}

func TestApplyDenied(t *testing.T) {
	store, coord, pub := newCoordinator(time.Minute)
	seedOrder(store, "ORD-2", 2, "acc-1", "acc-2")
	ctx := context.Background()

	_, err := coord.Stock.Reserve(ctx, "ORD-2", "DEMO1", 2)
	require.NoError(t, err)

	require.NoError(t, coord.Apply(ctx, "ORD-2", payment.StatusDenied, ""))

	o, err := store.Get(ctx, "ORD-2")
	require.NoError(t, err)
	assert.Equal(t, shop.OrderFailed, o.Status)

	avail, reserved, _ := store.Counts("DEMO1")
	assert.Equal(t, 2, avail)
	assert.Equal(t, 0, reserved)
	assert.Equal(t, []string{shop.EventOrderFailed, shop.EventStockReleased}, pub.types())
}

func TestApplyPendingIsNoop(t *testing.T) {
	store, coord, pub := newCoordinator(time.Minute)
	seedOrder(store, "ORD-3", 1, "acc-1")
	ctx := context.Background()

	_, err := coord.Stock.Reserve(ctx, "ORD-3", "DEMO1", 1)
	require.NoError(t, err)
	require.NoError(t, coord.Apply(ctx, "ORD-3", payment.StatusPending, ""))

	o, err := store.Get(ctx, "ORD-3")
	require.NoError(t, err)
	assert.Equal(t, shop.OrderPending, o.Status)
	assert.Empty(t, pub.types())
}

// Settlement lands after the sweep gave the stock away: the order must
// surface for the operator, not complete and not fail silently.
func TestApplySettledUnfulfillable(t *testing.T) {
	store, coord, pub := newCoordinator(time.Second)
	seedOrder(store, "ORD-4", 1, "acc-1")
	ctx := context.Background()

	base := time.Now()
	coord.Stock.Now = func() time.Time { return base }
	_, err := coord.Stock.Reserve(ctx, "ORD-4", "DEMO1", 1)
	require.NoError(t, err)

	coord.Stock.Now = func() time.Time { return base.Add(2 * time.Second) }
	_, err = coord.Stock.SweepExpired(ctx)
	require.NoError(t, err)
	other, err := coord.Stock.Reserve(ctx, "ORD-5", "DEMO1", 1)
	require.NoError(t, err)
	require.True(t, other.OK)

	require.NoError(t, coord.Apply(ctx, "ORD-4", payment.StatusSettled, "txn-1"))

	o, err := store.Get(ctx, "ORD-4")
	require.NoError(t, err)
	assert.NotEqual(t, shop.OrderCompleted, o.Status)
	assert.Equal(t, "no_items_available", o.AttentionReason)
	assert.Equal(t, []string{shop.EventOrderNeedsAttention}, pub.types())
}

// A settled notification with a fresh event id can arrive after the
// buyer cancelled. The order must stay CANCELLED, no stock may be
// consumed, and the contradiction is flagged for an operator.
func TestApplySettledAfterCancel(t *testing.T) {
	store, coord, pub := newCoordinator(time.Minute)
	seedOrder(store, "ORD-8", 1, "acc-1")
	ctx := context.Background()

	res, err := coord.Stock.Reserve(ctx, "ORD-8", "DEMO1", 1)
	require.NoError(t, err)
	require.True(t, res.OK)

	released, ok, err := coord.Cancel(ctx, "ORD-8")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, released)

	require.NoError(t, coord.Apply(ctx, "ORD-8", payment.StatusSettled, "txn-3"))

	o, err := store.Get(ctx, "ORD-8")
	require.NoError(t, err)
	assert.Equal(t, shop.OrderCancelled, o.Status)
	assert.Equal(t, "settled_after_cancel", o.AttentionReason)

	record, err := store.Fulfillment(ctx, "ORD-8")
	require.NoError(t, err)
	assert.Empty(t, record)

	avail, reserved, sold := store.Counts("DEMO1")
	assert.Equal(t, 1, avail)
	assert.Equal(t, 0, reserved)
	assert.Equal(t, 0, sold, "cancelled order must not consume stock")
	assert.Equal(t, []string{shop.EventOrderCancelled, shop.EventOrderNeedsAttention}, pub.types())
}

func TestCancel(t *testing.T) {
	store, coord, pub := newCoordinator(time.Minute)
	seedOrder(store, "ORD-6", 2, "acc-1", "acc-2")
	ctx := context.Background()

	_, err := coord.Stock.Reserve(ctx, "ORD-6", "DEMO1", 2)
	require.NoError(t, err)

	released, ok, err := coord.Cancel(ctx, "ORD-6")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, released)

	o, err := store.Get(ctx, "ORD-6")
	require.NoError(t, err)
	assert.Equal(t, shop.OrderCancelled, o.Status)
	avail, _, _ := store.Counts("DEMO1")
	assert.Equal(t, 2, avail)
	assert.Equal(t, []string{shop.EventOrderCancelled}, pub.types())

	// Second cancel finds a terminal order.
	_, ok, err = coord.Cancel(ctx, "ORD-6")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelCompletedOrderRejected(t *testing.T) {
	store, coord, _ := newCoordinator(time.Minute)
	seedOrder(store, "ORD-7", 1, "acc-1")
	ctx := context.Background()

	_, err := coord.Stock.Reserve(ctx, "ORD-7", "DEMO1", 1)
	require.NoError(t, err)
	require.NoError(t, coord.Apply(ctx, "ORD-7", payment.StatusSettled, "txn-2"))

	_, ok, err := coord.Cancel(ctx, "ORD-7")
	require.NoError(t, err)
	assert.False(t, ok)

	// Sold inventory stays sold.
	_, _, sold := store.Counts("DEMO1")
	assert.Equal(t, 1, sold)
}
