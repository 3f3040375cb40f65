package stock

import (
	"context"
	"time"

	"github.com/ariefcatur/go-digital-stock.git/internal/shop"
)

// ItemStore is the claimable pool. Every method is independently
// atomic: claims are conditional updates that report what they actually
// touched, never read-count-then-write.
type ItemStore interface {
	ProductExists(ctx context.Context, productCode string) (bool, error)
	CountAvailable(ctx context.Context, productCode string) (int, error)

	// LiveReservation reports how many items the order holds reserved
	// (not yet expired) for the product, and the earliest expiry among
	// them. Zero time when nothing is held.
	LiveReservation(ctx context.Context, orderID, productCode string, now time.Time) (int, time.Time, error)

	// ClaimAvailable reserves qty items all-or-nothing. Returns qty on
	// success; on shortfall nothing is kept and the claimable count is
	// returned instead.
	ClaimAvailable(ctx context.Context, orderID, productCode string, qty int, expiresAt time.Time) (int, error)

	// ClaimReservedAsSold converts all of the order's reservations
	// (expired or not) into sales and returns the items it claimed.
	ClaimReservedAsSold(ctx context.Context, orderID string) ([]shop.Item, error)

	// ClaimAvailableAsSold claims fresh stock straight to SOLD,
	// all-or-nothing. Finalize fallback after an expiry sweep.
	ClaimAvailableAsSold(ctx context.Context, orderID, productCode string, qty int) ([]shop.Item, error)

	SoldByOrder(ctx context.Context, orderID string) ([]shop.Item, error)
	ReleaseByOrder(ctx context.Context, orderID string) (int, error)
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)
}

// OrderStore is the slice of the order ledger the engines need.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (*shop.Order, error)
	LineItems(ctx context.Context, orderID string) ([]shop.LineItem, error)

	// UpdateStatus applies a guarded transition and reports whether the
	// order actually moved.
	UpdateStatus(ctx context.Context, orderID string, to shop.OrderStatus) (bool, error)
	SetTransaction(ctx context.Context, orderID, transactionID string) error

	SaveFulfillment(ctx context.Context, orderID string, items []shop.Item) error
	Fulfillment(ctx context.Context, orderID string) ([]shop.FulfillmentItem, error)
	MarkAttention(ctx context.Context, orderID, reason string) error
}
