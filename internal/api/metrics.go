package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backtestsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quantdesk_backtests_started_total",
		Help: "Number of backtest runs started.",
	})
	backtestsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quantdesk_backtests_completed_total",
		Help: "Number of backtest runs completed successfully.",
	})
	backtestsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quantdesk_backtests_failed_total",
		Help: "Number of backtest runs that failed.",
	})
	backtestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quantdesk_backtest_duration_seconds",
		Help:    "Wall-clock duration of completed backtest runs.",
		Buckets: prometheus.ExponentialBuckets(0.01, 3, 10),
	})
	optimizationsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quantdesk_optimizations_started_total",
		Help: "Number of parameter searches started.",
	})
	searchTrials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quantdesk_search_trials_total",
		Help: "Total objective evaluations across all searches.",
	})
)
