package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// PollAttempts counts status queries against the external provider.
	PollAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "run_poll_attempts_total",
			Help: "Total number of external job status polls",
		},
		[]string{"outcome"},
	)

	// RefundsIssued counts refund transactions written by the ledger.
	RefundsIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credit_refunds_total",
			Help: "Total number of credit refund transactions",
		},
	)

	// BalanceCorrections counts cache corrections written by reconciliation.
	BalanceCorrections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "balance_corrections_total",
			Help: "Total number of cached balance corrections",
		},
	)

	RunsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runs_finished_total",
			Help: "Total number of runs reaching a terminal state",
		},
		[]string{"kind", "status"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(RepositoryCalls, RepositoryDuration, PollAttempts, RefundsIssued, BalanceCorrections, RunsFinished)
}
