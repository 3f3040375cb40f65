package shop

import "time"

type Product struct {
	Code       string
	Name       string
	PriceCents int
	Available  int // count of AVAILABLE items, display only
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Item is one sellable unit: an account credential, license key or
// voucher code. Payload is the thing actually sold and must never
// leave the system except through the order's fulfillment record.
type Item struct {
	ID                   string
	ProductCode          string
	Payload              string
	Status               ItemStatus
	ReservedForOrder     string
	ReservationExpiresAt *time.Time
	SoldAt               *time.Time
	OrderID              string
	Batch                string
	CreatedAt            time.Time
}

type Order struct {
	ID              string
	ExternalID      string
	UserID          string
	Status          OrderStatus // see status.go
	TotalCents      int
	TransactionID   string
	AttentionReason string // non-empty when the order needs manual resolution
	CreatedAt       time.Time
	PaidAt          *time.Time
	UpdatedAt       time.Time
}

type LineItem struct {
	OrderID     string
	ProductCode string
	Qty         int
	PriceCents  int
}

// FulfillmentItem is one delivered payload from the order's
// fulfillment record.
type FulfillmentItem struct {
	ItemID      string `json:"item_id"`
	ProductCode string `json:"product_code"`
	Payload     string `json:"payload"`
}
