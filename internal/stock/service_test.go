package stock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-digital-stock.git/internal/shop"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixture(ttl time.Duration) (*MemoryStore, *Service) {
	store := NewMemoryStore()
	svc := &Service{Items: store, Orders: store, TTL: ttl}
	return store, svc
}

func seedDemo(store *MemoryStore, payloads ...string) {
	store.AddProduct("DEMO1", "Demo Account", 500)
	store.AddItems("DEMO1", payloads...)
}

func TestReserveInputValidation(t *testing.T) {
	store, svc := newFixture(0)
	seedDemo(store, "acc-1")
	ctx := context.Background()

	res, err := svc.Reserve(ctx, "ORD-1", "DEMO1", 0)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonInvalidQuantity, res.Reason)

	res, err = svc.Reserve(ctx, "ORD-1", "DEMO1", -3)
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidQuantity, res.Reason)

	res, err = svc.Reserve(ctx, "ORD-1", "NOPE", 1)
	require.NoError(t, err)
	assert.Equal(t, ReasonUnknownProduct, res.Reason)
}

// Scenario: 3 items, two competing orders, release frees the loser.
func TestReserveReleaseRoundTrip(t *testing.T) {
	store, svc := newFixture(time.Minute)
	seedDemo(store, "acc-1", "acc-2", "acc-3")
	ctx := context.Background()

	res, err := svc.Reserve(ctx, "ORD-1", "DEMO1", 2)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 2, res.Reserved)

	// Only 1 left: all-or-nothing, so zero items are claimed.
	res, err = svc.Reserve(ctx, "ORD-2", "DEMO1", 2)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonInsufficientStock, res.Reason)
	assert.Equal(t, 1, res.Available)

	avail, reserved, sold := store.Counts("DEMO1")
	assert.Equal(t, [3]int{1, 2, 0}, [3]int{avail, reserved, sold})

	rel, err := svc.Release(ctx, "ORD-1", "cancelled")
	require.NoError(t, err)
	assert.True(t, rel.OK)
	assert.Equal(t, 2, rel.Released)

	res, err = svc.Reserve(ctx, "ORD-2", "DEMO1", 2)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 2, res.Reserved)
}

func TestReserveIdempotent(t *testing.T) {
	store, svc := newFixture(15 * time.Minute)
	seedDemo(store, "acc-1", "acc-2", "acc-3", "acc-4")
	ctx := context.Background()

	base := time.Now()
	svc.Now = func() time.Time { return base }
	first, err := svc.Reserve(ctx, "ORD-1", "DEMO1", 2)
	require.NoError(t, err)
	require.True(t, first.OK)
	assert.True(t, first.ExpiresAt.Equal(base.Add(15*time.Minute)))

	// Same order, live reservation, five minutes later: no second claim,
	// and the reported expiry is the one the items carry, not now+TTL.
	svc.Now = func() time.Time { return base.Add(5 * time.Minute) }
	again, err := svc.Reserve(ctx, "ORD-1", "DEMO1", 2)
	require.NoError(t, err)
	assert.True(t, again.OK)
	assert.Equal(t, 2, again.Reserved)
	assert.True(t, again.ExpiresAt.Equal(first.ExpiresAt))

	avail, reserved, _ := store.Counts("DEMO1")
	assert.Equal(t, 2, avail)
	assert.Equal(t, 2, reserved)
}

func TestReleaseNothingReservedIsOK(t *testing.T) {
	_, svc := newFixture(time.Minute)
	rel, err := svc.Release(context.Background(), "ORD-404", "cancelled")
	require.NoError(t, err)
	assert.True(t, rel.OK)
	assert.Equal(t, 0, rel.Released)
}

// Scenario: finalize sells the reserved item and replays identically.
func TestFinalizeExactlyOnce(t *testing.T) {
	store, svc := newFixture(time.Minute)
	seedDemo(store, "acc-1", "acc-2")
	store.CreateOrder("ORD-3", "ext-3", "user-1", []shop.LineItem{
		{ProductCode: "DEMO1", Qty: 1, PriceCents: 500},
	})
	ctx := context.Background()

	res, err := svc.Reserve(ctx, "ORD-3", "DEMO1", 1)
	require.NoError(t, err)
	require.True(t, res.OK)

	fin, err := svc.Finalize(ctx, "ORD-3")
	require.NoError(t, err)
	require.True(t, fin.OK)
	require.Len(t, fin.Items, 1)
	assert.False(t, fin.Replayed)

	o, err := store.Get(ctx, "ORD-3")
	require.NoError(t, err)
	assert.Equal(t, shop.OrderCompleted, o.Status)

	avail, reserved, sold := store.Counts("DEMO1")
	assert.Equal(t, [3]int{1, 0, 1}, [3]int{avail, reserved, sold})

	// Replay: same payload, no new item touched.
	fin2, err := svc.Finalize(ctx, "ORD-3")
	require.NoError(t, err)
	require.True(t, fin2.OK)
	assert.True(t, fin2.Replayed)
	assert.Equal(t, fin.Items, fin2.Items)

	_, _, sold = store.Counts("DEMO1")
	assert.Equal(t, 1, sold)
}

func TestFinalizeUnknownOrder(t *testing.T) {
	_, svc := newFixture(time.Minute)
	fin, err := svc.Finalize(context.Background(), "ORD-404")
	require.NoError(t, err)
	assert.False(t, fin.OK)
	assert.Equal(t, ReasonOrderNotFound, fin.Reason)
}

// Scenario: reservation expires and is swept before payment settles;
// finalize recovers from fresh stock, or fails loudly when the pool is
// dry.
func TestFinalizeAfterExpirySweep(t *testing.T) {
	store, svc := newFixture(time.Second)
	seedDemo(store, "acc-1")
	store.CreateOrder("ORD-5", "ext-5", "user-1", []shop.LineItem{
		{ProductCode: "DEMO1", Qty: 1, PriceCents: 500},
	})
	ctx := context.Background()

	base := time.Now()
	svc.Now = func() time.Time { return base }

	res, err := svc.Reserve(ctx, "ORD-5", "DEMO1", 1)
	require.NoError(t, err)
	require.True(t, res.OK)

	// Past the TTL the sweep frees the item.
	svc.Now = func() time.Time { return base.Add(2 * time.Second) }
	n, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	avail, reserved, _ := store.Counts("DEMO1")
	assert.Equal(t, 1, avail)
	assert.Equal(t, 0, reserved)

	// Payment settled late: fallback claims the freed item.
	fin, err := svc.Finalize(ctx, "ORD-5")
	require.NoError(t, err)
	require.True(t, fin.OK)
	require.Len(t, fin.Items, 1)
	assert.Equal(t, "acc-1", fin.Items[0].Payload)
}

func TestFinalizeNoItemsAvailable(t *testing.T) {
	store, svc := newFixture(time.Second)
	seedDemo(store, "acc-1")
	store.CreateOrder("ORD-6", "ext-6", "user-1", []shop.LineItem{
		{ProductCode: "DEMO1", Qty: 1, PriceCents: 500},
	})
	ctx := context.Background()

	base := time.Now()
	svc.Now = func() time.Time { return base }
	res, err := svc.Reserve(ctx, "ORD-6", "DEMO1", 1)
	require.NoError(t, err)
	require.True(t, res.OK)

	svc.Now = func() time.Time { return base.Add(2 * time.Second) }
	_, err = svc.SweepExpired(ctx)
	require.NoError(t, err)

	// Another buyer takes the only item before the late settle.
	other, err := svc.Reserve(ctx, "ORD-7", "DEMO1", 1)
	require.NoError(t, err)
	require.True(t, other.OK)

	fin, err := svc.Finalize(ctx, "ORD-6")
	require.NoError(t, err)
	assert.False(t, fin.OK)
	assert.Equal(t, ReasonNoItemsAvailable, fin.Reason)

	// The order is flagged for the operator, never silently completed.
	o, err := store.Get(ctx, "ORD-6")
	require.NoError(t, err)
	assert.Equal(t, string(ReasonNoItemsAvailable), o.AttentionReason)
	assert.NotEqual(t, shop.OrderCompleted, o.Status)
}

// A settled payment landing after the order was cancelled must not pull
// fresh stock: a CANCELLED order can never reach COMPLETED, so anything
// sold to it would be consumed with no delivery path. The order is
// flagged instead.
func TestFinalizeAfterCancelNeverClaimsStock(t *testing.T) {
	store, svc := newFixture(time.Minute)
	seedDemo(store, "acc-1")
	store.CreateOrder("ORD-11", "ext-11", "user-1", []shop.LineItem{
		{ProductCode: "DEMO1", Qty: 1, PriceCents: 500},
	})
	ctx := context.Background()

	res, err := svc.Reserve(ctx, "ORD-11", "DEMO1", 1)
	require.NoError(t, err)
	require.True(t, res.OK)

	rel, err := svc.Release(ctx, "ORD-11", "cancelled")
	require.NoError(t, err)
	assert.Equal(t, 1, rel.Released)
	moved, err := store.UpdateStatus(ctx, "ORD-11", shop.OrderCancelled)
	require.NoError(t, err)
	require.True(t, moved)

	fin, err := svc.Finalize(ctx, "ORD-11")
	require.NoError(t, err)
	assert.False(t, fin.OK)
	assert.Equal(t, ReasonSettledAfterCancel, fin.Reason)

	avail, reserved, sold := store.Counts("DEMO1")
	assert.Equal(t, [3]int{1, 0, 0}, [3]int{avail, reserved, sold})

	record, err := store.Fulfillment(ctx, "ORD-11")
	require.NoError(t, err)
	assert.Empty(t, record)

	o, err := store.Get(ctx, "ORD-11")
	require.NoError(t, err)
	assert.Equal(t, shop.OrderCancelled, o.Status)
	assert.Equal(t, string(ReasonSettledAfterCancel), o.AttentionReason)
}

// A release that loses to finalize must be a no-op: only RESERVED rows
// are touched, SOLD is terminal.
func TestReleaseAfterFinalizeIsNoop(t *testing.T) {
	store, svc := newFixture(time.Minute)
	seedDemo(store, "acc-1", "acc-2")
	store.CreateOrder("ORD-8", "ext-8", "user-1", []shop.LineItem{
		{ProductCode: "DEMO1", Qty: 2, PriceCents: 500},
	})
	ctx := context.Background()

	_, err := svc.Reserve(ctx, "ORD-8", "DEMO1", 2)
	require.NoError(t, err)
	fin, err := svc.Finalize(ctx, "ORD-8")
	require.NoError(t, err)
	require.True(t, fin.OK)

	rel, err := svc.Release(ctx, "ORD-8", "expired")
	require.NoError(t, err)
	assert.True(t, rel.OK)
	assert.Equal(t, 0, rel.Released)

	_, _, sold := store.Counts("DEMO1")
	assert.Equal(t, 2, sold)
}

// K concurrent reserves against M available items: exactly M items end
// up reserved across the winners, no overselling, nothing lost.
func TestConcurrentReserveNoOversell(t *testing.T) {
	const (
		total = 10
		qty   = 3
		k     = 8
	)
	store, svc := newFixture(time.Minute)
	payloads := make([]string, total)
	for i := range payloads {
		payloads[i] = "acc"
	}
	seedDemo(store, payloads...)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]ReservationResult, k)
	errs := make([]error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Reserve(ctx, "ORD-"+string(rune('A'+i)), "DEMO1", qty)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	wins := 0
	for _, res := range results {
		if res.OK {
			wins++
		} else {
			assert.Equal(t, ReasonInsufficientStock, res.Reason)
		}
	}
	avail, reserved, sold := store.Counts("DEMO1")
	assert.Equal(t, total/qty, wins)
	assert.Equal(t, wins*qty, reserved)
	assert.Equal(t, 0, sold)
	assert.Equal(t, total, avail+reserved+sold, "conservation")
}

// Two racing finalize calls for one order must observe the same result,
// never claim disjoint stock.
func TestConcurrentFinalizeSameOrder(t *testing.T) {
	store, svc := newFixture(time.Minute)
	seedDemo(store, "acc-1", "acc-2", "acc-3", "acc-4")
	store.CreateOrder("ORD-9", "ext-9", "user-1", []shop.LineItem{
		{ProductCode: "DEMO1", Qty: 2, PriceCents: 500},
	})
	ctx := context.Background()

	_, err := svc.Reserve(ctx, "ORD-9", "DEMO1", 2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	fins := make([]FinalizationResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fins[i], errs[i] = svc.Finalize(ctx, "ORD-9")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	require.True(t, fins[0].OK)
	require.True(t, fins[1].OK)
	assert.ElementsMatch(t, fins[0].Items, fins[1].Items)

	_, _, sold := store.Counts("DEMO1")
	assert.Equal(t, 2, sold, "inventory charged exactly once")
}

func TestGetOrderStatus(t *testing.T) {
	store, svc := newFixture(time.Minute)
	seedDemo(store, "acc-1")
	store.CreateOrder("ORD-10", "ext-10", "user-1", []shop.LineItem{
		{ProductCode: "DEMO1", Qty: 1, PriceCents: 500},
	})
	ctx := context.Background()

	st, err := svc.GetOrderStatus(ctx, "ORD-10")
	require.NoError(t, err)
	assert.True(t, st.OK)
	assert.Equal(t, shop.OrderPending, st.Status)
	assert.Empty(t, st.Items, "payloads only surface once completed")

	_, err = svc.Reserve(ctx, "ORD-10", "DEMO1", 1)
	require.NoError(t, err)
	fin, err := svc.Finalize(ctx, "ORD-10")
	require.NoError(t, err)
	require.True(t, fin.OK)

	st, err = svc.GetOrderStatus(ctx, "ORD-10")
	require.NoError(t, err)
	assert.Equal(t, shop.OrderCompleted, st.Status)
	require.Len(t, st.Items, 1)
	assert.Equal(t, "acc-1", st.Items[0].Payload)

	st, err = svc.GetOrderStatus(ctx, "ORD-404")
	require.NoError(t, err)
	assert.False(t, st.OK)
	assert.Equal(t, ReasonOrderNotFound, st.Reason)
}
