package stock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-digital-stock.git/internal/shop"

	"github.com/google/uuid"
)

// MemoryStore implements ItemStore and OrderStore in memory. One mutex
// around each operation gives the same per-operation atomicity the
// Postgres repos get from conditional updates. Used by tests and local
// runs without a database.
type MemoryStore struct {
	mu       sync.Mutex
	products map[string]shop.Product
	items    map[string]*shop.Item
	orders   map[string]*shop.Order
	lines    map[string][]shop.LineItem
	records  map[string][]shop.FulfillmentItem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: map[string]shop.Product{},
		items:    map[string]*shop.Item{},
		orders:   map[string]*shop.Order{},
		lines:    map[string][]shop.LineItem{},
		records:  map[string][]shop.FulfillmentItem{},
	}
}

// ---- seeding helpers ----

func (m *MemoryStore) AddProduct(code, name string, priceCents int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[code] = shop.Product{Code: code, Name: name, PriceCents: priceCents}
}

func (m *MemoryStore) AddItems(productCode string, payloads ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range payloads {
		id := uuid.NewString()
		m.items[id] = &shop.Item{
			ID: id, ProductCode: productCode, Payload: p,
			Status: shop.ItemAvailable, CreatedAt: time.Now(),
		}
	}
}

func (m *MemoryStore) CreateOrder(orderID, externalID, userID string, lines []shop.LineItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for i := range lines {
		lines[i].OrderID = orderID
		total += lines[i].Qty * lines[i].PriceCents
	}
	now := time.Now()
	m.orders[orderID] = &shop.Order{
		ID: orderID, ExternalID: externalID, UserID: userID,
		Status: shop.OrderPending, TotalCents: total,
		CreatedAt: now, UpdatedAt: now,
	}
	m.lines[orderID] = lines
}

// Counts reports (available, reserved, sold) for a product. Handy for
// conservation checks.
func (m *MemoryStore) Counts(productCode string) (available, reserved, sold int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ProductCode != productCode {
			continue
		}
		switch it.Status {
		case shop.ItemAvailable:
			available++
		case shop.ItemReserved:
			reserved++
		case shop.ItemSold:
			sold++
		}
	}
	return
}

// ---- ItemStore ----

func (m *MemoryStore) ProductExists(_ context.Context, productCode string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.products[productCode]
	return ok, nil
}

func (m *MemoryStore) CountAvailable(_ context.Context, productCode string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if it.ProductCode == productCode && it.Status == shop.ItemAvailable {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) LiveReservation(_ context.Context, orderID, productCode string, now time.Time) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	var earliest time.Time
	for _, it := range m.items {
		if it.Status == shop.ItemReserved && it.ReservedForOrder == orderID &&
			it.ProductCode == productCode &&
			it.ReservationExpiresAt != nil && it.ReservationExpiresAt.After(now) {
			n++
			if earliest.IsZero() || it.ReservationExpiresAt.Before(earliest) {
				earliest = *it.ReservationExpiresAt
			}
		}
	}
	return n, earliest, nil
}

func (m *MemoryStore) ClaimAvailable(_ context.Context, orderID, productCode string, qty int, expiresAt time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.availableIDs(productCode)
	if len(ids) < qty {
		return len(ids), nil // all-or-nothing
	}
	for _, id := range ids[:qty] {
		it := m.items[id]
		it.Status = shop.ItemReserved
		it.ReservedForOrder = orderID
		exp := expiresAt
		it.ReservationExpiresAt = &exp
	}
	return qty, nil
}

func (m *MemoryStore) ClaimReservedAsSold(_ context.Context, orderID string) ([]shop.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []shop.Item
	for _, it := range m.sortedItems() {
		if it.Status == shop.ItemReserved && it.ReservedForOrder == orderID {
			m.sell(it, orderID)
			out = append(out, *it)
		}
	}
	return out, nil
}

func (m *MemoryStore) ClaimAvailableAsSold(_ context.Context, orderID, productCode string, qty int) ([]shop.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.availableIDs(productCode)
	if len(ids) < qty {
		return nil, nil // all-or-nothing
	}
	var out []shop.Item
	for _, id := range ids[:qty] {
		it := m.items[id]
		m.sell(it, orderID)
		out = append(out, *it)
	}
	return out, nil
}

func (m *MemoryStore) SoldByOrder(_ context.Context, orderID string) ([]shop.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []shop.Item
	for _, it := range m.sortedItems() {
		if it.Status == shop.ItemSold && it.OrderID == orderID {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (m *MemoryStore) ReleaseByOrder(_ context.Context, orderID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if it.Status == shop.ItemReserved && it.ReservedForOrder == orderID {
			m.free(it)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ReleaseExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if it.Status == shop.ItemReserved &&
			it.ReservationExpiresAt != nil && it.ReservationExpiresAt.Before(now) {
			m.free(it)
			n++
		}
	}
	return n, nil
}

// ---- OrderStore ----

func (m *MemoryStore) Get(_ context.Context, orderID string) (*shop.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, shop.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) LineItems(_ context.Context, orderID string) ([]shop.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]shop.LineItem(nil), m.lines[orderID]...), nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, orderID string, to shop.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || !shop.CanTransition(o.Status, to) {
		return false, nil
	}
	o.Status = to
	if to == shop.OrderPaid {
		now := time.Now()
		o.PaidAt = &now
	}
	o.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) SetTransaction(_ context.Context, orderID, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok && o.TransactionID == "" {
		o.TransactionID = transactionID
	}
	return nil
}

func (m *MemoryStore) SaveFulfillment(_ context.Context, orderID string, items []shop.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for _, fi := range m.records[orderID] {
		seen[fi.ItemID] = true
	}
	for _, it := range items {
		if seen[it.ID] {
			continue
		}
		m.records[orderID] = append(m.records[orderID], shop.FulfillmentItem{
			ItemID: it.ID, ProductCode: it.ProductCode, Payload: it.Payload,
		})
	}
	return nil
}

func (m *MemoryStore) Fulfillment(_ context.Context, orderID string) ([]shop.FulfillmentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]shop.FulfillmentItem(nil), m.records[orderID]...), nil
}

func (m *MemoryStore) MarkAttention(_ context.Context, orderID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok {
		o.AttentionReason = reason
		o.UpdatedAt = time.Now()
	}
	return nil
}

// FindStuckPending mirrors OrderRepo.FindStuckPending for sync-job
// tests.
func (m *MemoryStore) FindStuckPending(_ context.Context, olderThan time.Duration, limit int) ([]shop.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []shop.Order
	for _, o := range m.orders {
		if o.Status == shop.OrderPending && o.UpdatedAt.Before(cutoff) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- internals (callers hold mu) ----

func (m *MemoryStore) availableIDs(productCode string) []string {
	var ids []string
	for id, it := range m.items {
		if it.ProductCode == productCode && it.Status == shop.ItemAvailable {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (m *MemoryStore) sortedItems() []*shop.Item {
	out := make([]*shop.Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) sell(it *shop.Item, orderID string) {
	now := time.Now()
	it.Status = shop.ItemSold
	it.SoldAt = &now
	it.OrderID = orderID
	it.ReservedForOrder = ""
	it.ReservationExpiresAt = nil
}

func (m *MemoryStore) free(it *shop.Item) {
	it.Status = shop.ItemAvailable
	it.ReservedForOrder = ""
	it.ReservationExpiresAt = nil
}
