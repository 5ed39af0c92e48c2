// Package metrics exposes rebalance pipeline metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aristath/sftrader/internal/domain"
)

// Run outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeDryRun    = "dry_run"
	OutcomeFailed    = "failed"
)

// Metrics holds the pipeline collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal        *prometheus.CounterVec
	OrdersTotal      *prometheus.CounterVec
	WarningsTotal    *prometheus.CounterVec
	ActiveRisk       prometheus.Gauge
	GrossExposure    prometheus.Gauge
	RebalanceSeconds prometheus.Histogram
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sftrader_rebalance_runs_total", Help: "Rebalance runs by outcome"},
			[]string{"outcome"},
		),
		OrdersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sftrader_orders_generated_total", Help: "Orders generated by action"},
			[]string{"action"},
		),
		WarningsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sftrader_data_quality_warnings_total", Help: "Data-quality warnings by code"},
			[]string{"code"},
		),
		ActiveRisk: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "sftrader_portfolio_active_risk", Help: "Active risk of the latest target portfolio"},
		),
		GrossExposure: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "sftrader_portfolio_gross_exposure", Help: "Gross exposure of the latest target portfolio"},
		),
		RebalanceSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sftrader_rebalance_duration_seconds",
				Help:    "Wall time of rebalance runs",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
	}

	m.registry.MustRegister(
		m.RunsTotal,
		m.OrdersTotal,
		m.WarningsTotal,
		m.ActiveRisk,
		m.GrossExposure,
		m.RebalanceSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer returns the registry for tests and custom exporters.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// ObserveRun records a finished run. A nil *Metrics records nothing.
func (m *Metrics) ObserveRun(outcome string, duration time.Duration, orders []domain.Order, warnings domain.Warnings) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RebalanceSeconds.Observe(duration.Seconds())
	for _, o := range orders {
		m.OrdersTotal.WithLabelValues(string(o.Action)).Inc()
	}
	for code, n := range warnings.Counts() {
		m.WarningsTotal.WithLabelValues(string(code)).Add(float64(n))
	}
}

// ObservePortfolio records the risk metrics of the target portfolio.
func (m *Metrics) ObservePortfolio(metrics domain.PortfolioMetrics) {
	if m == nil {
		return
	}
	m.ActiveRisk.Set(metrics.ActiveRisk)
	m.GrossExposure.Set(metrics.GrossExposure)
}
