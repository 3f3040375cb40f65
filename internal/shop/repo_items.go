package shop

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ItemRepo is the item pool: every mutation is a single conditional
// update so concurrent checkouts never double-claim a unit. Counting is
// for display only and is never used as the basis of a claim.
type ItemRepo struct{ DB *pgxpool.Pool }

func (r *ItemRepo) ProductExists(ctx context.Context, productCode string) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM products WHERE code=$1)`, productCode).Scan(&exists)
	return exists, err
}

func (r *ItemRepo) CountAvailable(ctx context.Context, productCode string) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM items
		WHERE product_code=$1 AND status='AVAILABLE'`, productCode).Scan(&n)
	return n, err
}

// LiveReservation counts the live (non-expired) reservations this order
// holds for a product and returns their earliest expiry. Idempotency
// short-circuit for reserve; the expiry feeds the checkout response.
func (r *ItemRepo) LiveReservation(ctx context.Context, orderID, productCode string, now time.Time) (int, time.Time, error) {
	var n int
	var exp *time.Time
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*), MIN(reservation_expires_at) FROM items
		WHERE reserved_for_order=$1 AND product_code=$2
		  AND status='RESERVED' AND reservation_expires_at > $3`,
		orderID, productCode, now).Scan(&n, &exp)
	if err != nil {
		return 0, time.Time{}, err
	}
	if exp == nil {
		return n, time.Time{}, nil
	}
	return n, *exp, nil
}

// ClaimAvailable flips up to qty AVAILABLE items of a product to
// RESERVED for the order, all-or-nothing. SKIP LOCKED keeps concurrent
// claimers from queueing on the same rows; the RowsAffected check is
// the source of truth, never a prior count.
// Returns (qty, nil) on success; on shortfall nothing is committed and
// the claimable count is returned for error detail.
func (r *ItemRepo) ClaimAvailable(ctx context.Context, orderID, productCode string, qty int, expiresAt time.Time) (int, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE items
		SET status='RESERVED', reserved_for_order=$1, reservation_expires_at=$2
		WHERE id IN (
			SELECT id FROM items
			WHERE product_code=$3 AND status='AVAILABLE'
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT $4
		)`, orderID, expiresAt, productCode, qty)
	if err != nil {
		return 0, err
	}
	claimed := int(ct.RowsAffected())
	if claimed != qty {
		return claimed, nil // rollback via defer, zero items kept
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return claimed, nil
}

// ClaimReservedAsSold converts every reservation of the order into a
// sale in one statement, expired or not: payment success overrides
// expiry. Returns the items claimed by this call.
func (r *ItemRepo) ClaimReservedAsSold(ctx context.Context, orderID string) ([]Item, error) {
	rows, err := r.DB.Query(ctx, `
		UPDATE items
		SET status='SOLD', sold_at=now(), order_id=$1,
		    reserved_for_order=NULL, reservation_expires_at=NULL
		WHERE reserved_for_order=$1 AND status='RESERVED'
		RETURNING id, product_code, payload`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClaimed(rows)
}

// ClaimAvailableAsSold is the finalize fallback: claim fresh stock and
// sell it directly, all-or-nothing, for reservations that expired and
// were swept before payment settled.
func (r *ItemRepo) ClaimAvailableAsSold(ctx context.Context, orderID, productCode string, qty int) ([]Item, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		UPDATE items
		SET status='SOLD', sold_at=now(), order_id=$1
		WHERE id IN (
			SELECT id FROM items
			WHERE product_code=$2 AND status='AVAILABLE'
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT $3
		)
		RETURNING id, product_code, payload`, orderID, productCode, qty)
	if err != nil {
		return nil, err
	}
	claimed, err := scanClaimed(rows)
	if err != nil {
		return nil, err
	}
	if len(claimed) != qty {
		return nil, nil // rollback, nothing sold
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return claimed, nil
}

// SoldByOrder is the idempotency anchor of finalize: SOLD is terminal
// and monotonic, so this plain read is safe to race.
func (r *ItemRepo) SoldByOrder(ctx context.Context, orderID string) ([]Item, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, product_code, payload FROM items
		WHERE order_id=$1 AND status='SOLD' ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClaimed(rows)
}

// ReleaseByOrder returns the order's reservations to the pool. Only
// RESERVED rows match, so a finalize that already flipped items to SOLD
// makes a concurrent release a no-op.
func (r *ItemRepo) ReleaseByOrder(ctx context.Context, orderID string) (int, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE items
		SET status='AVAILABLE', reserved_for_order=NULL, reservation_expires_at=NULL
		WHERE reserved_for_order=$1 AND status='RESERVED'`, orderID)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

// ReleaseExpired is the sweep: every reservation past its expiry goes
// back to the pool, across all products and regardless of order status.
func (r *ItemRepo) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE items
		SET status='AVAILABLE', reserved_for_order=NULL, reservation_expires_at=NULL
		WHERE status='RESERVED' AND reservation_expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

// BulkInsert appends new AVAILABLE items for a product via COPY.
// Append-only: in-flight reservations are untouched.
func (r *ItemRepo) BulkInsert(ctx context.Context, productCode string, payloads []string, batch string) (int, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(payloads))
	for _, p := range payloads {
		rows = append(rows, []any{uuid.NewString(), productCode, p, string(ItemAvailable), batch, now})
	}
	n, err := r.DB.CopyFrom(ctx,
		pgx.Identifier{"items"},
		[]string{"id", "product_code", "payload", "status", "batch", "created_at"},
		pgx.CopyFromRows(rows),
	)
	return int(n), err
}

// MarkInvalid pulls a bad credential out of the pool. Only AVAILABLE
// items can be invalidated; reserved and sold units stay untouched.
func (r *ItemRepo) MarkInvalid(ctx context.Context, itemID string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE items SET status='INVALID' WHERE id=$1 AND status='AVAILABLE'`, itemID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *ItemRepo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT p.code, p.name, p.price_cents,
		       COUNT(i.id) FILTER (WHERE i.status='AVAILABLE'),
		       p.created_at, p.updated_at
		FROM products p LEFT JOIN items i ON i.product_code = p.code
		GROUP BY p.code ORDER BY p.code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.Code, &p.Name, &p.PriceCents, &p.Available, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanClaimed(rows pgx.Rows) ([]Item, error) {
	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.ProductCode, &it.Payload); err != nil {
			return nil, err
		}
		it.Status = ItemSold
		out = append(out, it)
	}
	return out, rows.Err()
}
