package shop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderPending, OrderPaid, true},
		{OrderPending, OrderCompleted, true}, // synchronous webhook finalize
		{OrderPending, OrderCancelled, true},
		{OrderPending, OrderFailed, true},
		{OrderPaid, OrderCompleted, true},
		{OrderPaid, OrderFailed, true},
		{OrderPaid, OrderPending, false},
		{OrderCompleted, OrderFailed, false},
		{OrderCompleted, OrderCancelled, false},
		{OrderCancelled, OrderPaid, false},
		{OrderFailed, OrderCompleted, false},
		{OrderPending, OrderPending, false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTransitionsInto(t *testing.T) {
	assert.ElementsMatch(t, []string{"PENDING", "PAID"}, TransitionsInto(OrderCompleted))
	assert.ElementsMatch(t, []string{"PENDING"}, TransitionsInto(OrderPaid))
	assert.Empty(t, TransitionsInto(OrderPending), "nothing transitions back to PENDING")
}
