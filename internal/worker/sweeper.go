package worker

import (
	"context"
	"log"
	"time"

	"github.com/ariefcatur/go-digital-stock.git/internal/stock"
)

// Sweeper periodically returns expired reservations to the pool. The
// release itself is one conditional update, so a single loop per
// deployment is enough and overlapping instances are harmless.
type Sweeper struct {
	Stock    *stock.Service
	Interval time.Duration
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	log.Println("expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				log.Printf("sweep: %v", err)
			}
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context) error {
	n, err := s.Stock.SweepExpired(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("sweep released %d expired reservations", n)
	}
	return nil
}
