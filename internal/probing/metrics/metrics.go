package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal tracks guarded attempts per deployment and outcome class
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultprobe_attempts_total",
			Help: "Total number of guarded attempts by outcome class",
		},
		[]string{"deployment", "class"},
	)

	// TokenOperationsTotal tracks acquire/rotate/inspect calls
	TokenOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultprobe_token_operations_total",
			Help: "Total number of token lifecycle operations",
		},
		[]string{"deployment", "op", "result"},
	)

	// BackoffSecondsTotal tracks time spent waiting, by reason
	BackoffSecondsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultprobe_backoff_seconds_total",
			Help: "Total seconds spent in backoff waits",
		},
		[]string{"deployment", "reason"},
	)

	// CandidatesSkippedTotal tracks candidates advanced past without a confirmed answer
	CandidatesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultprobe_candidates_skipped_total",
			Help: "Candidates skipped as inconclusive",
		},
		[]string{"deployment", "reason"},
	)

	// AttemptLatency tracks guarded request latency
	AttemptLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vaultprobe_attempt_latency_seconds",
			Help:    "Guarded attempt latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"deployment"},
	)

	// Cursor tracks the candidate currently being probed
	Cursor = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vaultprobe_cursor",
			Help: "Candidate currently being probed",
		},
		[]string{"deployment"},
	)
)

// TokenObserver returns a callback suitable for lifecycle.WithObserver.
func TokenObserver(deployment string) func(op string, err error) {
	return func(op string, err error) {
		result := "ok"
		if err != nil {
			result = "error"
		}
		TokenOperationsTotal.WithLabelValues(deployment, op, result).Inc()
	}
}
