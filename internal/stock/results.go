package stock

import (
	"time"

	"github.com/ariefcatur/go-digital-stock.git/internal/shop"
)

// Reason codes for expected business outcomes. These travel in result
// values, not errors; only storage failures surface as errors.
type Reason string

const (
	ReasonInsufficientStock Reason = "insufficient_stock"
	ReasonUnknownProduct    Reason = "unknown_product"
	ReasonInvalidQuantity   Reason = "invalid_quantity"
	ReasonOrderNotFound     Reason = "order_not_found"

	// ReasonNoItemsAvailable is fatal to the automated flow: payment
	// settled but the pool cannot cover the order. Needs an operator.
	ReasonNoItemsAvailable Reason = "no_items_available"

	// ReasonSettledAfterCancel: payment settled for an order already
	// CANCELLED or FAILED. Stock is never claimed for it; an operator
	// decides between refund and manual fulfillment.
	ReasonSettledAfterCancel Reason = "settled_after_cancel"
)

type ReservationResult struct {
	OK        bool      `json:"ok"`
	Reserved  int       `json:"reserved"`
	Available int       `json:"available,omitempty"` // filled on insufficient_stock
	ExpiresAt time.Time `json:"expires_at"`          // actual reservation expiry, also on idempotent replays
	Reason    Reason    `json:"reason,omitempty"`
}

type FinalizationResult struct {
	OK       bool                   `json:"ok"`
	Items    []shop.FulfillmentItem `json:"items,omitempty"`
	Replayed bool                   `json:"replayed"` // served from the fulfillment record
	Reason   Reason                 `json:"reason,omitempty"`
}

type ReleaseResult struct {
	OK       bool `json:"ok"`
	Released int  `json:"released"`
}

type OrderStatusResult struct {
	OK              bool                   `json:"ok"`
	Status          shop.OrderStatus       `json:"status,omitempty"`
	Items           []shop.FulfillmentItem `json:"items,omitempty"` // only once COMPLETED
	AttentionReason string                 `json:"attention_reason,omitempty"`
	Reason          Reason                 `json:"reason,omitempty"`
}
