package redisx

import "time"

const (
	// Idempotency checkout create: idem:checkout:{external_id} holds the
	// checkout response; replays are served from it without a DB hit.
	KeyIdemCheckout = "idem:checkout:%s"

	// Cache order status: order_status:{order_id} -> {"status": "..."}
	// Never holds item payloads, only the status.
	KeyOrderStatus = "order_status:%s"

	// Dedup processed notifications: dedup:{service}:{id}
	// (id = provider event_id or envelope event_id)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
