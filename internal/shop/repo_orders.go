package shop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OrderRepo struct{ DB *pgxpool.Pool }

var ErrOrderNotFound = errors.New("order not found")

type LineInput struct {
	ProductCode string `json:"product_code"`
	Qty         int    `json:"qty"`
}

// CreateOrderTx: idempotent via external_id.
// If external_id already exists -> return the existing order_id + total
// (existed=true). Prices come from the products table, never from the
// client.
func (r *OrderRepo) CreateOrderTx(ctx context.Context, externalID, userID string, lines []LineInput) (orderID string, total int, existed bool, err error) {
	row := r.DB.QueryRow(ctx, `SELECT id, total_cents FROM orders WHERE external_id=$1`, externalID)
	if err = row.Scan(&orderID, &total); err == nil {
		return orderID, total, true, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return "", 0, false, err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", 0, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	codes := make([]any, 0, len(lines))
	params := ""
	for i, ln := range lines {
		if i > 0 {
			params += ","
		}
		params += fmt.Sprintf("$%d", i+1)
		codes = append(codes, ln.ProductCode)
	}
	rows, err := tx.Query(ctx, `SELECT code, price_cents FROM products WHERE code IN (`+params+`)`, codes...)
	if err != nil {
		return "", 0, false, err
	}
	prices := map[string]int{}
	for rows.Next() {
		var code string
		var price int
		if err := rows.Scan(&code, &price); err != nil {
			return "", 0, false, err
		}
		prices[code] = price
	}
	if err := rows.Err(); err != nil {
		return "", 0, false, err
	}

	total = 0
	for _, ln := range lines {
		price, ok := prices[ln.ProductCode]
		if !ok {
			return "", 0, false, fmt.Errorf("product not found: %s", ln.ProductCode)
		}
		if ln.Qty <= 0 {
			return "", 0, false, fmt.Errorf("invalid qty for product %s", ln.ProductCode)
		}
		total += price * ln.Qty
	}

	orderID = uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, user_id, status, total_cents)
		VALUES ($1, $2, $3, 'PENDING', $4)
	`, orderID, externalID, userID, total)
	if err != nil {
		return "", 0, false, err
	}

	for _, ln := range lines {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_code, qty, price_cents)
			VALUES ($1, $2, $3, $4)`,
			orderID, ln.ProductCode, ln.Qty, prices[ln.ProductCode],
		)
		if err != nil {
			return "", 0, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", 0, false, err
	}
	return orderID, total, false, nil
}

func (r *OrderRepo) Get(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, external_id, user_id, status, total_cents, transaction_id,
		       attention_reason, created_at, paid_at, updated_at
		FROM orders WHERE id=$1`, orderID).Scan(
		&o.ID, &o.ExternalID, &o.UserID, &o.Status, &o.TotalCents, &o.TransactionID,
		&o.AttentionReason, &o.CreatedAt, &o.PaidAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepo) LineItems(ctx context.Context, orderID string) ([]LineItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT order_id, product_code, qty, price_cents
		FROM order_items WHERE order_id=$1 ORDER BY product_code`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LineItem
	for rows.Next() {
		var ln LineItem
		if err := rows.Scan(&ln.OrderID, &ln.ProductCode, &ln.Qty, &ln.PriceCents); err != nil {
			return nil, err
		}
		out = append(out, ln)
	}
	return out, rows.Err()
}

// UpdateStatus applies a guarded transition: the row only changes when
// the current status may legally move to `to`, so a COMPLETED order can
// never be downgraded by a late cancel or a racing release.
func (r *OrderRepo) UpdateStatus(ctx context.Context, orderID string, to OrderStatus) (bool, error) {
	from := TransitionsInto(to)
	if len(from) == 0 {
		return false, nil
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders
		SET status = $2,
		    paid_at = CASE WHEN $2 = 'PAID' THEN now() ELSE paid_at END,
		    updated_at = now()
		WHERE id = $1 AND status = ANY($3)`,
		orderID, to, from)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *OrderRepo) SetTransaction(ctx context.Context, orderID, transactionID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE orders SET transaction_id=$2, updated_at=now()
		WHERE id=$1 AND transaction_id=''`, orderID, transactionID)
	return err
}

// SaveFulfillment writes the delivered payloads into the order's
// fulfillment record. ON CONFLICT DO NOTHING keeps it idempotent under
// finalize retries.
func (r *OrderRepo) SaveFulfillment(ctx context.Context, orderID string, items []Item) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_fulfillments(order_id, item_id, product_code, payload)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (order_id, item_id) DO NOTHING
		`, orderID, it.ID, it.ProductCode, it.Payload); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *OrderRepo) Fulfillment(ctx context.Context, orderID string) ([]FulfillmentItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT item_id, product_code, payload
		FROM order_fulfillments WHERE order_id=$1 ORDER BY item_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FulfillmentItem
	for rows.Next() {
		var fi FulfillmentItem
		if err := rows.Scan(&fi.ItemID, &fi.ProductCode, &fi.Payload); err != nil {
			return nil, err
		}
		out = append(out, fi)
	}
	return out, rows.Err()
}

func (r *OrderRepo) MarkAttention(ctx context.Context, orderID, reason string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE orders SET attention_reason=$2, updated_at=now() WHERE id=$1`,
		orderID, reason)
	return err
}

// ListAttention returns orders that need manual resolution (refund or
// manual fulfillment), oldest first.
func (r *OrderRepo) ListAttention(ctx context.Context) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, external_id, user_id, status, total_cents, transaction_id,
		       attention_reason, created_at, paid_at, updated_at
		FROM orders WHERE attention_reason <> '' ORDER BY updated_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// FindStuckPending returns PENDING orders untouched for longer than
// olderThan. Input for the fulfillment sync job.
func (r *OrderRepo) FindStuckPending(ctx context.Context, olderThan time.Duration, limit int) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, external_id, user_id, status, total_cents, transaction_id,
		       attention_reason, created_at, paid_at, updated_at
		FROM orders
		WHERE status='PENDING' AND updated_at < $1
		ORDER BY updated_at LIMIT $2`,
		time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows pgx.Rows) ([]Order, error) {
	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(
			&o.ID, &o.ExternalID, &o.UserID, &o.Status, &o.TotalCents, &o.TransactionID,
			&o.AttentionReason, &o.CreatedAt, &o.PaidAt, &o.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
