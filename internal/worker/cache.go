package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-digital-stock.git/internal/redisx"
	"github.com/ariefcatur/go-digital-stock.git/internal/shop"
	"github.com/ariefcatur/go-digital-stock.git/internal/stock"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

// CacheRefresher consumes order lifecycle events and refreshes the
// shared Redis status entry, so GET /orders/{id} stays cheap on every
// instance without each one re-reading the ledger.
type CacheRefresher struct {
	Redis  *redis.Client
	Orders stock.OrderStore
}

func (c *CacheRefresher) Handle(ctx context.Context, m kafkago.Message) error {
	var env shop.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.CorrelationID == "" {
		return nil
	}

	o, err := c.Orders.Get(ctx, env.CorrelationID)
	if errors.Is(err, shop.ErrOrderNotFound) {
		return nil // event for an order this store never saw
	}
	if err != nil {
		return err
	}

	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	body := fmt.Sprintf(`{"status":%q}`, o.Status)
	return c.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err()
}
