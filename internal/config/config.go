package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	KafkaBrokers []string
	KafkaTopic   string
	EventSink    string // rabbit or kafka
	OTLPEndpoint string
	Environment  string
	LogLevel     string
	AutoMigrate  bool

	// Pending orders older than OrderTTL are cancelled by the expiry worker.
	OrderTTL        time.Duration
	ExpiryInterval  time.Duration
	OutboxInterval  time.Duration
	OutboxBatchSize int

	IdempotencyTTL   time.Duration
	TxMaxRetries     int
	UserRateLimit    int
	IPRateLimit      int
	RateLimitWindow  time.Duration
	AllowPartialPays bool

	// Fraction of new traces sampled; traces continued from a caller follow its decision.
	TraceSampleRatio float64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:         getEnvOrDefault("HTTP_ADDR", ":8080"),
		CRDBDSN:          os.Getenv("CRDB_DSN"),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDB:          getEnvOrDefault("MONGO_DB", "tc"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RabbitURL:        os.Getenv("RABBIT_URL"),
		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:       getEnvOrDefault("KAFKA_TOPIC", "ticket_notifications"),
		EventSink:        getEnvOrDefault("EVENT_SINK", "rabbit"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Environment:      getEnvOrDefault("APP_ENV", "development"),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "info"),
		AutoMigrate:      getBool("AUTO_MIGRATE", false),
		OrderTTL:         getDuration("ORDER_TTL", 15*time.Minute),
		ExpiryInterval:   getDuration("EXPIRY_INTERVAL", time.Minute),
		OutboxInterval:   getDuration("OUTBOX_INTERVAL", 5*time.Second),
		OutboxBatchSize:  getInt("OUTBOX_BATCH_SIZE", 50),
		IdempotencyTTL:   getDuration("IDEMPOTENCY_TTL", time.Hour),
		TxMaxRetries:     getInt("TX_MAX_RETRIES", 5),
		UserRateLimit:    getInt("USER_RATE_LIMIT", 10),
		IPRateLimit:      getInt("IP_RATE_LIMIT", 100),
		RateLimitWindow:  getDuration("RATE_LIMIT_WINDOW", time.Minute),
		AllowPartialPays: getBool("ALLOW_PARTIAL_PAYMENTS", false),
		TraceSampleRatio: getRatio("OTEL_TRACES_SAMPLER_ARG", 1),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func getInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

func getRatio(key string, defaultValue float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || f < 0 || f > 1 {
		return defaultValue
	}
	return f
}

func getBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
