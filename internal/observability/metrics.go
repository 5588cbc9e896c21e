package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tc_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tc_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	DBTxRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tc_db_tx_retries_total",
			Help: "Total DB transaction retries after serialization failures",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tc_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	EventPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tc_event_publish_retries_total",
			Help: "Total event sink publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tc_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	Reservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tc_inventory_reservations_total",
			Help: "Inventory reserve attempts by result",
		},
		[]string{"result"},
	)

	ReleasedUnits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tc_inventory_released_units_total",
			Help: "Ticket units returned to inventory",
		},
	)

	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tc_order_transitions_total",
			Help: "Order status transitions",
		},
		[]string{"from", "to"},
	)

	TransactionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tc_transaction_transitions_total",
			Help: "Transaction status transitions",
		},
		[]string{"from", "to"},
	)

	ConsistencyViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tc_consistency_violations_total",
			Help: "Detected inventory or state invariant violations",
		},
	)

	OrdersExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tc_orders_expired_total",
			Help: "Pending orders cancelled by the expiry worker",
		},
	)
)
