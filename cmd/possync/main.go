package main

import (
	"context"
	"github.com/joho/godotenv"
	"github.com/shahruladnn-prog/LRC-Course/internal/config"
	kafkax "github.com/shahruladnn-prog/LRC-Course/internal/kafka"
	"github.com/shahruladnn-prog/LRC-Course/internal/orders"
	"github.com/shahruladnn-prog/LRC-Course/internal/pos"
	"github.com/shahruladnn-prog/LRC-Course/internal/possync"
	"github.com/shahruladnn-prog/LRC-Course/internal/postgres"
	"github.com/shahruladnn-prog/LRC-Course/internal/reconcile"
	"github.com/shahruladnn-prog/LRC-Course/internal/redisx"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Printf("config: %v", err)
	}
	if cfg.StoreDriver != config.StorePostgres {
		log.Fatalf("possync needs STORE_DRIVER=postgres, got %q", cfg.StoreDriver)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()
	store := postgres.NewStore(db)

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer for pos synced/failed events
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024)
	prod.Start(ctx)

	// Pipeline used only for its POS leg
	pipe := reconcile.NewPipeline(store)
	pipe.POS = &pos.Syncer{
		POS:           pos.NewClient(cfg.Loyverse.BaseURL, cfg.Loyverse.Token, cfg.HTTPClientTimeout),
		Store:         store,
		StoreID:       cfg.Loyverse.StoreID,
		PaymentTypeID: cfg.Loyverse.PaymentTypeID,
	}
	pipe.Events = prod
	pipe.Cache = redisx.NewStatusCache(rdb)
	pipe.Producer = cfg.ServiceName + "-possync"

	// Service
	svc := &possync.Service{
		Orders:      pipe,
		Dedup:       redisx.NewDedup(rdb, redisx.ScopePOSSync),
		ServiceName: cfg.ServiceName + "-possync",
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.POSSyncGroup, orders.TopicOrderPaid, cfg.POSSyncWorkers)

	go func() {
		log.Printf("possync consumer started: group=%s topic=%s workers=%d", cfg.POSSyncGroup, orders.TopicOrderPaid, cfg.POSSyncWorkers)
		if err := cons.Start(ctx, svc.HandleOrderPaid); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Println("shutting down consumer...")
	cancel()
	time.Sleep(500 * time.Millisecond)
	prod.Close()
	prod.WaitClosed()
}
