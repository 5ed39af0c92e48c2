package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sftrader/internal/domain"
)

func TestObserveRun(t *testing.T) {
	m := New()

	var warnings domain.Warnings
	warnings.Add(domain.WarnMissingPrice, domain.StageSizing, "AAA", "no price")
	warnings.Add(domain.WarnMissingPrice, domain.StageReconciliation, "BBB", "no price")
	warnings.Add(domain.WarnUnmappedTicker, domain.StageRisk, "CCC", "unmapped")

	orders := []domain.Order{
		{Ticker: "AAA", Action: domain.ActionBuy, Shares: 1, Price: 1},
		{Ticker: "BBB", Action: domain.ActionBuy, Shares: 1, Price: 1},
		{Ticker: "CCC", Action: domain.ActionSell, Shares: 1, Price: 1},
	}

	m.ObserveRun(OutcomeDryRun, 1500*time.Millisecond, orders, warnings)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(OutcomeDryRun)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OrdersTotal.WithLabelValues("BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersTotal.WithLabelValues("SELL")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WarningsTotal.WithLabelValues("MISSING_PRICE")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RebalanceSeconds))
}

func TestObservePortfolio(t *testing.T) {
	m := New()
	m.ObservePortfolio(domain.PortfolioMetrics{ActiveRisk: 0.04, GrossExposure: 0.98})

	assert.Equal(t, 0.04, testutil.ToFloat64(m.ActiveRisk))
	assert.Equal(t, 0.98, testutil.ToFloat64(m.GrossExposure))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun(OutcomeFailed, time.Second, nil, domain.Warnings{})
		m.ObservePortfolio(domain.PortfolioMetrics{})
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RunsTotal.WithLabelValues(OutcomeCompleted).Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `sftrader_rebalance_runs_total{outcome="completed"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
