package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/Nazim777/SwiftMart/pkg/config"
	"github.com/Nazim777/SwiftMart/pkg/idempotency"
	"github.com/Nazim777/SwiftMart/pkg/logging"
	"github.com/Nazim777/SwiftMart/pkg/outbox"
	"github.com/Nazim777/SwiftMart/pkg/shutdown"
	"github.com/Nazim777/SwiftMart/pkg/tracing"

	"github.com/Nazim777/SwiftMart/internal/checkout/application"
	checkouthttp "github.com/Nazim777/SwiftMart/internal/checkout/infrastructure/http"
	checkoutkafka "github.com/Nazim777/SwiftMart/internal/checkout/infrastructure/kafka"
	checkoutpg "github.com/Nazim777/SwiftMart/internal/checkout/infrastructure/postgres"
	checkoutstripe "github.com/Nazim777/SwiftMart/internal/checkout/infrastructure/stripe"
)

func main() {
	cfg, err := config.Load(os.Getenv("SWIFTMART_CONFIG_DIR"))
	if err != nil {
		logging.New("info").Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "swiftmart", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// Postgres
	pool, err := checkoutpg.NewPool(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := checkoutpg.InitSchema(ctx, pool); err != nil {
		log.Error("schema init failed", "err", err)
		os.Exit(1)
	}

	// Redis, for webhook dedup
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	dedup := idempotency.NewStore(rdb, cfg.WebhookDedupTTL)

	// Kafka producer behind the outbox relay
	writer := checkoutkafka.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()

	store := checkoutpg.NewStore(log, pool)
	outboxStore := checkoutpg.NewOutboxStore(log, pool)
	dispatch := outbox.NewDispatcher(log, writer, cfg.OutboxTopic)
	relay := outbox.NewRelay(log, outboxStore, dispatch, "swiftmart-relay")

	gateway := checkoutstripe.NewGateway(cfg.StripeAPIKey, cfg.StripeWebhookSecret, cfg.BaseURL)
	svc := application.NewService(log, store, gateway)
	sweeper := application.NewSweeper(log, store, cfg.SweepInterval, cfg.PendingOrderTTL)
	handler := checkouthttp.NewHandler(log, svc, gateway, dedup)

	r := chi.NewRouter()
	r.Mount("/", handler.Routes())
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()
	go func() {
		if err := sweeper.Run(ctx); err != nil {
			log.Error("sweeper stopped with error", "err", err)
		}
	}()
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("swiftmart shutdown complete")
}
