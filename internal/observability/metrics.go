package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbe_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	BookingsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sbe_bookings_created_total",
			Help: "Total bookings created with an escrow hold",
		},
	)

	BookingsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sbe_bookings_expired_total",
			Help: "Total pending bookings auto-refunded by the expiry sweep",
		},
	)

	EscrowReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sbe_escrow_released_total",
			Help: "Total bookings settled to the host by the release sweep",
		},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sbe_sweep_duration_seconds",
			Help:    "Duration of lifecycle sweep ticks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sbe_db_tx_seconds",
			Help:    "Duration of ledger transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sbe_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox record",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sbe_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sbe_rate_limit_exceeded_total",
			Help: "Total requests rejected by the rate limiter",
		},
	)
)
