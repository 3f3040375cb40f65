package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-digital-stock.git/internal/config"
	"github.com/ariefcatur/go-digital-stock.git/internal/fulfill"
	kafkax "github.com/ariefcatur/go-digital-stock.git/internal/kafka"
	"github.com/ariefcatur/go-digital-stock.git/internal/payment"
	"github.com/ariefcatur/go-digital-stock.git/internal/postgres"
	"github.com/ariefcatur/go-digital-stock.git/internal/redisx"
	"github.com/ariefcatur/go-digital-stock.git/internal/shop"
	"github.com/ariefcatur/go-digital-stock.git/internal/stock"
	"github.com/ariefcatur/go-digital-stock.git/internal/worker"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer for events raised by the sync job
	prod := kafkax.NewProducer(cfg.KafkaBrokers, shop.TopicOrderLifecycle, 1024)
	prod.Start(ctx)

	orderRepo := &shop.OrderRepo{DB: db}
	itemRepo := &shop.ItemRepo{DB: db}
	svc := &stock.Service{Items: itemRepo, Orders: orderRepo, TTL: cfg.ReservationTTL}
	coord := &fulfill.Coordinator{
		Stock:    svc,
		Orders:   orderRepo,
		Producer: prod,
		Redis:    rdb,
		Service:  cfg.ServiceName + "-worker",
	}

	sweeper := &worker.Sweeper{Stock: svc, Interval: cfg.SweepInterval}
	syncJob := &worker.SyncJob{
		Orders:   orderRepo,
		Provider: payment.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey),
		Coord:    coord,
		Interval: cfg.SyncInterval,
		StuckAge: cfg.SyncStuckAge,
		Batch:    cfg.SyncBatch,
	}

	// Lifecycle consumer keeps the shared status cache fresh.
	group := getenv("CACHE_GROUP", "status-cache")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, shop.TopicOrderLifecycle, 4)
	refresher := &worker.CacheRefresher{Redis: rdb, Orders: orderRepo}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return syncJob.Run(gctx) })
	g.Go(func() error {
		log.Printf("lifecycle consumer started: group=%s topic=%s", group, shop.TopicOrderLifecycle)
		return cons.Start(gctx, refresher.Handle)
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Println("shutting down worker...")
	case <-gctx.Done():
	}
	cancel()
	if err := g.Wait(); err != nil {
		log.Printf("worker exit: %v", err)
	}
	prod.Close()
	prod.WaitClosed()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
