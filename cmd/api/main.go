package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/ticket-commerce/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/ticket-commerce/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/ticket-commerce/internal/adapters/redis"
	"github.com/robertarktes/ticket-commerce/internal/cart"
	"github.com/robertarktes/ticket-commerce/internal/config"
	httphandler "github.com/robertarktes/ticket-commerce/internal/http"
	"github.com/robertarktes/ticket-commerce/internal/idempotency"
	"github.com/robertarktes/ticket-commerce/internal/inventory"
	"github.com/robertarktes/ticket-commerce/internal/observability"
	"github.com/robertarktes/ticket-commerce/internal/orders"
	"github.com/robertarktes/ticket-commerce/internal/payments"
	"github.com/robertarktes/ticket-commerce/internal/rateLimit"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(cfg.LogLevel)

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "api", logger)
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
	if cfg.AutoMigrate {
		if err := crdb.Migrate(ctx, pool); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
	}
	repo := crdb.NewRepository(pool, crdb.WithMaxRetries(cfg.TxMaxRetries))

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisCache)

	ledger := inventory.NewLedger(repo, logger)
	engine := orders.NewEngine(repo, ledger, logger)
	pays := payments.NewLedger(repo, engine, logger, payments.WithPartialPayments(cfg.AllowPartialPays))

	opts := []httphandler.Option{
		httphandler.WithReadinessCheck("crdb", repo),
		httphandler.WithReadinessCheck("redis", redisCache),
	}
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		opts = append(opts, httphandler.WithHistory(mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)))
	}

	handlers := httphandler.NewHandlers(ledger, cart.NewAggregator(repo, logger), engine, pays, logger, opts...)
	r := httphandler.SetupRouter(handlers, cfg, logger, rl, idemp)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped with error")
	}
	logger.Info("Server exiting")
}
