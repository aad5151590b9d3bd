// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "payout_ledger"

var (
	LedgerPostings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_postings_total",
			Help:      "Wallet postings by transaction type and outcome",
		},
		[]string{"type", "outcome"},
	)

	LedgerConflictRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_conflict_retries_total",
			Help:      "Wallet mutations retried after losing a lock race",
		},
	)

	ReservationEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_events_total",
			Help:      "Contribution reservation transitions and sweep shortfalls",
		},
		[]string{"event"},
	)

	PayoutExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_executions_total",
			Help:      "Payout executions by final status of the attempt",
		},
		[]string{"status"},
	)

	PayoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payout_execution_duration_seconds",
			Help:      "Wall-clock time of ExecutePayout",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
	)

	VerificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_check_failures_total",
			Help:      "Failed verification checks by key",
		},
		[]string{"check"},
	)

	FraudScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fraud_score",
			Help:      "Distribution of payout fraud scores",
			Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80},
		},
	)

	MovementTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "money_movement_transitions_total",
			Help:      "Bank transfer outbox transitions",
		},
		[]string{"status"},
	)

	WorkerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_runs_total",
			Help:      "Background job runs by outcome",
		},
		[]string{"job", "outcome"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code",
		},
		[]string{"route", "status"},
	)
)
