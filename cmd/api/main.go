package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-digital-stock.git/internal/config"
	"github.com/ariefcatur/go-digital-stock.git/internal/fulfill"
	"github.com/ariefcatur/go-digital-stock.git/internal/httpx"
	kafkax "github.com/ariefcatur/go-digital-stock.git/internal/kafka"
	"github.com/ariefcatur/go-digital-stock.git/internal/payment"
	"github.com/ariefcatur/go-digital-stock.git/internal/postgres"
	"github.com/ariefcatur/go-digital-stock.git/internal/redisx"
	"github.com/ariefcatur/go-digital-stock.git/internal/shop"
	"github.com/ariefcatur/go-digital-stock.git/internal/stock"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer (order lifecycle events)
	prod := kafkax.NewProducer(cfg.KafkaBrokers, shop.TopicOrderLifecycle, 1024)
	prod.Start(ctx)

	// Repos, engines, coordinator
	orderRepo := &shop.OrderRepo{DB: db}
	itemRepo := &shop.ItemRepo{DB: db}
	svc := &stock.Service{Items: itemRepo, Orders: orderRepo, TTL: cfg.ReservationTTL}
	coord := &fulfill.Coordinator{
		Stock:    svc,
		Orders:   orderRepo,
		Producer: prod,
		Redis:    rdb,
		Service:  cfg.ServiceName,
	}

	router := httpx.NewRouter()
	sh := &httpx.StoreHandler{
		Orders:   orderRepo,
		Items:    itemRepo,
		Stock:    svc,
		Coord:    coord,
		Verifier: payment.HMACVerifier{Secret: []byte(cfg.WebhookSecret)},
		Producer: prod,
		Redis:    rdb,
		Service:  cfg.ServiceName,
	}
	sh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
