package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-digital-stock.git/internal/fulfill"
	kafkax "github.com/ariefcatur/go-digital-stock.git/internal/kafka"
	"github.com/ariefcatur/go-digital-stock.git/internal/payment"
	"github.com/ariefcatur/go-digital-stock.git/internal/redisx"
	"github.com/ariefcatur/go-digital-stock.git/internal/shop"
	"github.com/ariefcatur/go-digital-stock.git/internal/stock"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

type StoreHandler struct {
	Orders   *shop.OrderRepo
	Items    *shop.ItemRepo
	Stock    *stock.Service
	Coord    *fulfill.Coordinator
	Verifier payment.Verifier
	Producer *kafkax.Producer
	Redis    *redis.Client
	Service  string
}

func (h *StoreHandler) Register(r *chi.Mux) {
	r.Post("/checkout", h.checkout)
	r.Post("/webhooks/payment", h.paymentWebhook)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/products", h.listProducts)
	r.Post("/admin/items", h.ingestItems)
	r.Post("/admin/items/{id}/invalidate", h.invalidateItem)
	r.Get("/admin/attention", h.listAttention)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ---- checkout ----

type CheckoutReq struct {
	ExternalID string           `json:"external_id"`
	UserID     string           `json:"user_id"`
	Items      []shop.LineInput `json:"items"`
}

type CheckoutResp struct {
	OrderID    string    `json:"order_id"`
	TotalCents int       `json:"total_cents"`
	ExpiresAt  time.Time `json:"reservation_expires_at"`
	Idempotent bool      `json:"idempotent"`
}

// checkout creates the order (idempotent by external_id) and reserves
// every line all-or-nothing. A line that cannot be covered releases the
// whole order and fails it.
func (h *StoreHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ExternalID == "" || req.UserID == "" || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Fast-path idempotency via Redis: a replayed external_id is served
	// the cached response without touching the DB. The unique external_id
	// column stays the truth (CreateOrderTx handles the existed case when
	// the cache entry is gone).
	idemKey := fmt.Sprintf(redisx.KeyIdemCheckout, req.ExternalID)
	if s, err := h.Redis.Get(ctx, idemKey).Result(); err == nil && s != "" {
		var resp CheckoutResp
		if json.Unmarshal([]byte(s), &resp) == nil && resp.OrderID != "" {
			resp.Idempotent = true
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	orderID, total, existed, err := h.Orders.CreateOrderTx(ctx, req.ExternalID, req.UserID, req.Items)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var expiresAt time.Time
	for _, ln := range req.Items {
		res, err := h.Stock.Reserve(ctx, orderID, ln.ProductCode, ln.Qty)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if !res.OK {
			// Undo whatever the earlier lines claimed.
			_, _ = h.Stock.Release(ctx, orderID, string(res.Reason))
			if res.Reason == stock.ReasonInsufficientStock {
				_, _ = h.Orders.UpdateStatus(ctx, orderID, shop.OrderFailed)
			}
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":     string(res.Reason),
				"product":   ln.ProductCode,
				"available": res.Available,
			})
			return
		}
		// Earliest expiry across the lines; on an idempotent re-reserve
		// this is the expiry the items actually carry, not a fresh TTL.
		if expiresAt.IsZero() || res.ExpiresAt.Before(expiresAt) {
			expiresAt = res.ExpiresAt
		}
	}

	resp := CheckoutResp{
		OrderID: orderID, TotalCents: total, ExpiresAt: expiresAt.UTC(), Idempotent: existed,
	}
	if b, err := json.Marshal(resp); err == nil {
		_ = h.Redis.Set(ctx, idemKey, b, redisx.TTLIdempotency).Err()
	}
	statusKey := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = h.Redis.Set(ctx, statusKey, `{"status":"PENDING"}`, redisx.TTLStatusCache).Err()

	lines := make([]shop.LineQty, 0, len(req.Items))
	for _, ln := range req.Items {
		lines = append(lines, shop.LineQty{ProductCode: ln.ProductCode, Qty: ln.Qty})
	}
	h.publish(r, orderID, shop.EventOrderReserved, shop.OrderReservedPayload{
		OrderID: orderID, Lines: lines, ExpiresAt: expiresAt.UTC(),
	})

	writeJSON(w, http.StatusCreated, resp)
}

// ---- payment webhook ----

type webhookReq struct {
	EventID       string `json:"event_id"`
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	AmountCents   int    `json:"amount_cents"`
}

// paymentWebhook is the asynchronous provider notification path. The
// body is trusted only after the signature check; duplicates are
// dropped via Redis, and the engines underneath are idempotent anyway.
func (h *StoreHandler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}
	if !h.Verifier.Verify(body, r.Header.Get("X-Signature")) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad signature"})
		return
	}

	var req webhookReq
	if err := json.Unmarshal(body, &req); err != nil || req.EventID == "" || req.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	st, ok := payment.Normalize(req.Status)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	dkey := fmt.Sprintf(redisx.KeyDedup, "webhook", req.EventID)
	if first, err := redisx.SetNX(ctx, h.Redis, dkey, redisx.TTLDedup); err == nil && !first {
		writeJSON(w, http.StatusOK, map[string]bool{"received": true, "duplicate": true})
		return
	}

	if err := h.Coord.Apply(ctx, req.OrderID, st, req.TransactionID); err != nil {
		// 5xx so the provider retries; Apply is safe to re-run.
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// ---- order status / cancel ----

func (h *StoreHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// Cache fast-path for non-terminal polling. Completed orders go to
	// the DB so the response can carry the fulfillment payloads, which
	// are never cached.
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		var cached struct {
			Status shop.OrderStatus `json:"status"`
		}
		// Hit and miss answer with the same shape.
		if json.Unmarshal([]byte(s), &cached) == nil &&
			cached.Status != "" && cached.Status != shop.OrderCompleted {
			writeJSON(w, http.StatusOK, stock.OrderStatusResult{OK: true, Status: cached.Status})
			return
		}
	}

	res, err := h.Stock.GetOrderStatus(ctx, orderID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !res.OK {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": string(res.Reason)})
		return
	}
	_ = h.Redis.Set(ctx, key, fmt.Sprintf(`{"status":%q}`, res.Status), redisx.TTLStatusCache).Err()
	writeJSON(w, http.StatusOK, res)
}

func (h *StoreHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	released, ok, err := h.Coord.Cancel(ctx, orderID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "order cannot be cancelled"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true, "released": released})
}

// ---- catalog / admin ----

func (h *StoreHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Items.ListProducts(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

type ingestReq struct {
	ProductCode string   `json:"product_code"`
	Payloads    []string `json:"payloads"`
	Batch       string   `json:"batch"`
}

func (h *StoreHandler) ingestItems(w http.ResponseWriter, r *http.Request) {
	var req ingestReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ProductCode == "" || len(req.Payloads) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	exists, err := h.Items.ProductExists(ctx, req.ProductCode)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !exists {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown_product"})
		return
	}

	n, err := h.Items.BulkInsert(ctx, req.ProductCode, req.Payloads, req.Batch)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"inserted": n})
}

func (h *StoreHandler) invalidateItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ok, err := h.Items.MarkInvalid(ctx, itemID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "item not available"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"invalidated": true})
}

func (h *StoreHandler) listAttention(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	orders, err := h.Orders.ListAttention(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	type row struct {
		OrderID    string           `json:"order_id"`
		ExternalID string           `json:"external_id"`
		Status     shop.OrderStatus `json:"status"`
		Reason     string           `json:"reason"`
		UpdatedAt  time.Time        `json:"updated_at"`
	}
	out := make([]row, 0, len(orders))
	for _, o := range orders {
		out = append(out, row{o.ID, o.ExternalID, o.Status, o.AttentionReason, o.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *StoreHandler) publish(r *http.Request, orderID, eventType string, payload any) {
	if h.Producer == nil {
		return
	}
	ev := shop.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	h.Producer.Publish(shop.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
