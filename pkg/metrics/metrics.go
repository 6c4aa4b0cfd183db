package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MagicLinksIssued counts magic-link tokens persisted by Issue.
	MagicLinksIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "magiclink_issued_total",
			Help: "Total number of magic-link tokens issued",
		},
	)

	// MagicLinkRedemptions records redemption attempts by result
	// (success|not_found|expired|already_used|error).
	MagicLinkRedemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magiclink_redemptions_total",
			Help: "Total number of magic-link redemption attempts",
		},
		[]string{"result"},
	)

	// NotifyFailures counts notifier deliveries that failed or timed out.
	NotifyFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "magiclink_notify_failures_total",
			Help: "Total number of failed magic-link deliveries",
		},
	)

	// SessionsCreated counts sessions minted after a successful redemption.
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "magiclink_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	// SessionValidations records session validation outcomes (valid|invalid|error).
	SessionValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magiclink_session_validations_total",
			Help: "Total number of session validations",
		},
		[]string{"result"},
	)

	// StoreOperations counts persistent store calls by backend, operation and result.
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magiclink_store_operations_total",
			Help: "Total number of persistent store operations",
		},
		[]string{"backend", "op", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "magiclink_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// ObserveStore records the outcome of a store operation.
func ObserveStore(backend, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StoreOperations.WithLabelValues(backend, op, result).Inc()
}
