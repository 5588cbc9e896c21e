package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/ticket-commerce/internal/adapters/crdb"
	redisadapter "github.com/robertarktes/ticket-commerce/internal/adapters/redis"
	"github.com/robertarktes/ticket-commerce/internal/config"
	"github.com/robertarktes/ticket-commerce/internal/inventory"
	"github.com/robertarktes/ticket-commerce/internal/observability"
	"github.com/robertarktes/ticket-commerce/internal/orders"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(cfg.LogLevel)

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "expiry-worker", logger)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(flushCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool, crdb.WithMaxRetries(cfg.TxMaxRetries))

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)

	engine := orders.NewEngine(repo, inventory.NewLedger(repo, logger), logger)
	worker := NewExpiryWorker(engine, redisCache, logger, cfg.OrderTTL, cfg.OutboxBatchSize)

	worker.Run(ctx, cfg.ExpiryInterval)
	logger.Info("Shutdown expiry worker")
}
