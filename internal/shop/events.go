package shop

import (
	"encoding/json"
	"time"
)

const (
	EventOrderReserved       = "OrderReserved"
	EventOrderCompleted      = "OrderCompleted"
	EventOrderFailed         = "OrderFailed"
	EventOrderCancelled      = "OrderCancelled"
	EventStockReleased       = "StockReleased"
	EventOrderNeedsAttention = "OrderNeedsAttention"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g. "store-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload per event ----
//
// Lifecycle events carry counts only, never item payloads. Delivered
// credentials are served exclusively from the fulfillment record.

type LineQty struct {
	ProductCode string `json:"product_code"`
	Qty         int    `json:"qty"`
}

type OrderReservedPayload struct {
	OrderID   string    `json:"order_id"`
	Lines     []LineQty `json:"lines"`
	ExpiresAt time.Time `json:"expires_at"`
}

type OrderCompletedPayload struct {
	OrderID   string `json:"order_id"`
	ItemCount int    `json:"item_count"`
}

type OrderFailedPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"` // e.g. DENIED, EXPIRED
}

type OrderCancelledPayload struct {
	OrderID  string `json:"order_id"`
	Released int    `json:"released"`
}

type StockReleasedPayload struct {
	OrderID  string `json:"order_id,omitempty"` // empty for expiry sweeps
	Released int    `json:"released"`
	Cause    string `json:"cause"` // cancelled | expired | payment_failed
}

type OrderNeedsAttentionPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"` // e.g. no_items_available
}
