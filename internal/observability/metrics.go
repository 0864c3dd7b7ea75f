package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tours_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tours_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tours_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tours_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tours_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	BookingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tours_bookings_total",
			Help: "Booking lifecycle transitions",
		},
		[]string{"transition"},
	)

	CheckoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tours_checkouts_total",
			Help: "Completed cart checkouts",
		},
	)

	GatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tours_gateway_calls_total",
			Help: "Simulated gateway calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(
		RequestsTotal,
		DBTxDuration,
		OutboxLag,
		RabbitPublishRetries,
		RateLimitExceeded,
		BookingsTotal,
		CheckoutsTotal,
		GatewayCallsTotal,
	)
}
