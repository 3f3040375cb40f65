package worker

import (
	"context"
	"log"
	"time"

	"github.com/ariefcatur/go-digital-stock.git/internal/fulfill"
	"github.com/ariefcatur/go-digital-stock.git/internal/payment"
	"github.com/ariefcatur/go-digital-stock.git/internal/shop"
)

// PendingSource lists orders stuck in PENDING longer than olderThan.
type PendingSource interface {
	FindStuckPending(ctx context.Context, olderThan time.Duration, limit int) ([]shop.Order, error)
}

// SyncJob reconciles orders whose webhook never arrived (or arrived
// twice): re-ask the provider what actually happened and push the
// answer through the same coordinator the webhook uses.
type SyncJob struct {
	Orders   PendingSource
	Provider payment.Provider
	Coord    *fulfill.Coordinator
	Interval time.Duration
	StuckAge time.Duration
	Batch    int
}

func (j *SyncJob) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	log.Println("fulfillment sync started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := j.SyncOnce(ctx); err != nil {
				log.Printf("fulfillment sync: %v", err)
			}
		}
	}
}

func (j *SyncJob) SyncOnce(ctx context.Context) error {
	stuck, err := j.Orders.FindStuckPending(ctx, j.StuckAge, j.Batch)
	if err != nil {
		return err
	}
	for _, o := range stuck {
		st, txn, err := j.Provider.CheckStatus(ctx, o.ID)
		if err != nil {
			// transient: skip, next tick retries
			log.Printf("check status %s: %v", o.ID, err)
			continue
		}
		if !st.Terminal() {
			continue
		}
		if err := j.Coord.Apply(ctx, o.ID, st, txn); err != nil {
			log.Printf("apply %s %s: %v", o.ID, st, err)
		}
	}
	return nil
}
