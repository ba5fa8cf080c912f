// Package observability exposes run metrics over Prometheus and a
// structured audit trail for security-relevant decisions.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type wardenMetrics struct {
	runTotal    *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	runSteps    prometheus.Histogram
	runCost     prometheus.Counter

	spendByModel    *prometheus.GaugeVec
	budgetRemaining prometheus.Gauge

	circuitOpen    *prometheus.GaugeVec
	firewallBlocks *prometheus.CounterVec
	reviewFlags    prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *wardenMetrics
)

func getMetrics() *wardenMetrics {
	metricsOnce.Do(func() {
		m := &wardenMetrics{
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "warden_run_total",
					Help: "Total executor runs by pattern and status.",
				},
				[]string{"pattern", "status"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "warden_run_duration_seconds",
					Help:    "Executor run duration in seconds by pattern.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"pattern"},
			),
			runSteps: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "warden_run_steps",
					Help:    "Steps taken per executor run.",
					Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20},
				},
			),
			runCost: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "warden_run_cost_usd_total",
					Help: "Cumulative model spend attributed to runs, in USD.",
				},
			),
			spendByModel: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "warden_spend_usd",
					Help: "Ledger spend by model in USD.",
				},
				[]string{"model"},
			),
			budgetRemaining: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "warden_budget_remaining_usd",
					Help: "Remaining budget in USD.",
				},
			),
			circuitOpen: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "warden_circuit_open",
					Help: "Circuit breaker state by model (1 open, 0 closed).",
				},
				[]string{"model"},
			),
			firewallBlocks: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "warden_firewall_blocks_total",
					Help: "Firewall blocks by reason.",
				},
				[]string{"reason"},
			),
			reviewFlags: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "warden_review_flags_total",
					Help: "Runs flagged for human review.",
				},
			),
		}

		prometheus.MustRegister(
			m.runTotal,
			m.runDuration,
			m.runSteps,
			m.runCost,
			m.spendByModel,
			m.budgetRemaining,
			m.circuitOpen,
			m.firewallBlocks,
			m.reviewFlags,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordRun records the outcome of one executor run.
func RecordRun(pattern, status string, duration time.Duration, steps int, costUSD float64) {
	m := getMetrics()
	m.runTotal.WithLabelValues(pattern, status).Inc()
	m.runDuration.WithLabelValues(pattern).Observe(duration.Seconds())
	m.runSteps.Observe(float64(steps))
	m.runCost.Add(costUSD)
}

// SetSpend publishes the ledger spend for one model.
func SetSpend(model string, usd float64) {
	getMetrics().spendByModel.WithLabelValues(model).Set(usd)
}

// SetBudgetRemaining publishes the remaining budget.
func SetBudgetRemaining(usd float64) {
	getMetrics().budgetRemaining.Set(usd)
}

// SetCircuitOpen publishes a model's circuit state.
func SetCircuitOpen(model string, open bool) {
	value := 0.0
	if open {
		value = 1.0
	}
	getMetrics().circuitOpen.WithLabelValues(model).Set(value)
}

// RecordFirewallBlock counts a firewall block by reason.
func RecordFirewallBlock(reason string) {
	getMetrics().firewallBlocks.WithLabelValues(reason).Inc()
}

// RecordReviewFlag counts a run that requires human review.
func RecordReviewFlag() {
	getMetrics().reviewFlags.Inc()
}
