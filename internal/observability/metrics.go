package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bsr_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bsr_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	HoldsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bsr_holds_created_total",
			Help: "Total seat holds created",
		},
	)

	HoldConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bsr_hold_conflicts_total",
			Help: "Total hold attempts rejected because a seat was not available",
		},
	)

	HoldsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bsr_holds_expired_total",
			Help: "Total holds reclaimed by the expiry sweeper",
		},
	)

	ReservationsConfirmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bsr_reservations_confirmed_total",
			Help: "Total reservations committed",
		},
	)

	ReservationsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bsr_reservations_cancelled_total",
			Help: "Total reservations cancelled",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bsr_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bsr_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bsr_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
