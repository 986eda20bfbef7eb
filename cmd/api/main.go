package main

import (
	"context"
	"github.com/joho/godotenv"
	"github.com/shahruladnn-prog/LRC-Course/internal/config"
	"github.com/shahruladnn-prog/LRC-Course/internal/gateway"
	"github.com/shahruladnn-prog/LRC-Course/internal/httpx"
	kafkax "github.com/shahruladnn-prog/LRC-Course/internal/kafka"
	"github.com/shahruladnn-prog/LRC-Course/internal/memstore"
	"github.com/shahruladnn-prog/LRC-Course/internal/orders"
	"github.com/shahruladnn-prog/LRC-Course/internal/pos"
	"github.com/shahruladnn-prog/LRC-Course/internal/postgres"
	"github.com/shahruladnn-prog/LRC-Course/internal/reconcile"
	"github.com/shahruladnn-prog/LRC-Course/internal/redisx"
	"log"
	"net/http"
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
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := redisx.NewStatusCache(rdb)

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024)
	prod.Start(ctx)

	// POS + gateway
	posClient := pos.NewClient(cfg.Loyverse.BaseURL, cfg.Loyverse.Token, cfg.HTTPClientTimeout)
	bizappay := gateway.NewClient(gateway.Config{
		BaseURL:     cfg.Bizappay.BaseURL,
		APIKey:      cfg.Bizappay.APIKey,
		Category:    cfg.Bizappay.Category,
		ReturnURL:   cfg.Bizappay.ReturnURL,
		CallbackURL: cfg.Bizappay.CallbackURL,
		Timeout:     cfg.HTTPClientTimeout,
	})

	// Pipeline
	pipe := reconcile.NewPipeline(store)
	pipe.POS = &pos.Syncer{
		POS:           posClient,
		Store:         store,
		StoreID:       cfg.Loyverse.StoreID,
		PaymentTypeID: cfg.Loyverse.PaymentTypeID,
	}
	pipe.SyncInline = cfg.POSSyncMode == config.SyncInline
	pipe.Events = prod
	pipe.Cache = cache
	pipe.Dedup = redisx.NewDedup(rdb, redisx.ScopeNotify)
	pipe.Producer = cfg.ServiceName

	// Handlers
	router := httpx.NewRouter()
	(&httpx.OrdersHandler{Store: store, Cache: cache}).Register(router)
	(&httpx.CheckoutHandler{Store: store, Gateway: bizappay}).Register(router)
	(&httpx.WebhookHandler{Pipeline: pipe}).Register(router)
	(&httpx.AdminHandler{Pipeline: pipe, Store: store, Token: cfg.AdminToken}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Printf("HTTP listening at %s (store=%s pos_sync=%s)", cfg.HTTPAddr, cfg.StoreDriver, cfg.POSSyncMode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()
	cancel()
	prod.WaitClosed()
}

// openStore returns the configured order store and its cleanup func.
func openStore(ctx context.Context, cfg config.Config) (orders.Store, func(), error) {
	if cfg.StoreDriver == config.StoreMemory {
		log.Println("using in-memory store; data is lost on restart")
		return memstore.New(), func() {}, nil
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return postgres.NewStore(db), db.Close, nil
}
