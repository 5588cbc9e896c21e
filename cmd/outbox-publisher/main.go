package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/ticket-commerce/internal/adapters/crdb"
	"github.com/robertarktes/ticket-commerce/internal/adapters/kafka"
	mongoadapter "github.com/robertarktes/ticket-commerce/internal/adapters/mongo"
	"github.com/robertarktes/ticket-commerce/internal/adapters/rabbit"
	"github.com/robertarktes/ticket-commerce/internal/config"
	"github.com/robertarktes/ticket-commerce/internal/observability"
	"github.com/robertarktes/ticket-commerce/internal/outbox"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(cfg.LogLevel)

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "outbox-publisher", logger)
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

	var sink outbox.Sink
	switch cfg.EventSink {
	case "kafka":
		pub := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer pub.Close()
		sink = pub
	case "rabbit":
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer conn.Close()
		pub, err := rabbit.NewPublisher(conn)
		if err != nil {
			log.Fatalf("failed to create publisher: %v", err)
		}
		defer pub.Close()
		sink = pub
	default:
		log.Fatalf("unknown EVENT_SINK %q", cfg.EventSink)
	}

	var auditor outbox.Auditor
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())

		audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)
		indexCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = audit.EnsureIndexes(indexCtx)
		cancel()
		if err != nil {
			log.Fatalf("failed to create audit indexes: %v", err)
		}
		auditor = audit
	}

	logger.WithField("sink", cfg.EventSink).Info("Outbox publisher starting")
	outbox.NewRelay(repo, sink, auditor, logger, cfg.OutboxBatchSize).Run(ctx, cfg.OutboxInterval)
	logger.Info("Shutdown outbox publisher")
}
