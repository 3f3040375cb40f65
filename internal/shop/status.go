package shop

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPaid      OrderStatus = "PAID"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderFailed    OrderStatus = "FAILED"
)

// COMPLETED, CANCELLED and FAILED are terminal. PAID may be skipped
// entirely when finalization runs synchronously on the webhook.
var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderPending:   {OrderPaid: true, OrderCompleted: true, OrderCancelled: true, OrderFailed: true},
	OrderPaid:      {OrderCompleted: true, OrderCancelled: true, OrderFailed: true},
	OrderCompleted: {},
	OrderCancelled: {},
	OrderFailed:    {},
}

func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

// TransitionsInto lists the states a transition to `to` is allowed from.
// Used to build guarded UPDATE ... WHERE status = ANY(...) statements.
func TransitionsInto(to OrderStatus) []string {
	var out []string
	for from, next := range validNext {
		if next[to] {
			out = append(out, string(from))
		}
	}
	return out
}

type ItemStatus string

const (
	ItemAvailable ItemStatus = "AVAILABLE"
	ItemReserved  ItemStatus = "RESERVED"
	ItemSold      ItemStatus = "SOLD"
	ItemInvalid   ItemStatus = "INVALID"
)
