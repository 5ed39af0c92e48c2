package risk

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/sftrader/internal/domain"
)

var date = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

// diagCov serves a diagonal covariance for the ids it knows.
type diagCov struct {
	variance map[domain.RiskID]float64
	reverse  bool
	calls    int
}

func (d *diagCov) Covariance(_ context.Context, _ time.Time, ids []domain.RiskID) (*domain.Covariance, error) {
	d.calls++
	var kept []domain.RiskID
	for _, id := range ids {
		if _, ok := d.variance[id]; ok {
			kept = append(kept, id)
		}
	}
	if d.reverse {
		for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
			kept[i], kept[j] = kept[j], kept[i]
		}
	}
	if len(kept) == 0 {
		return &domain.Covariance{}, nil
	}
	m := mat.NewSymDense(len(kept), nil)
	for i, id := range kept {
		m.SetSym(i, i, d.variance[id])
	}
	return &domain.Covariance{IDs: kept, Matrix: m}, nil
}

func idMap(t *testing.T) *domain.IDMap {
	t.Helper()
	m, err := domain.NewIDMap(date, []domain.IDPair{
		{Ticker: "X", RiskID: "RX"},
		{Ticker: "Y", RiskID: "RY"},
		{Ticker: "Z", RiskID: "RZ"},
	})
	require.NoError(t, err)
	return m
}

func TestExposures(t *testing.T) {
	m := Exposures([]domain.Weight{
		{Ticker: "X", Weight: 0.3},
		{Ticker: "Y", Weight: -0.1},
		{Ticker: "Z", Weight: 0.2},
	})

	assert.InDelta(t, 0.6, m.GrossExposure, 1e-12)
	assert.InDelta(t, 0.4, m.NetExposure, 1e-12)
	assert.Equal(t, 2, m.NumLong)
	assert.Equal(t, 1, m.NumShort)
	assert.Equal(t, 3, m.NumPositions)
}

func TestUtilization(t *testing.T) {
	assert.Equal(t, 0.5, Utilization(50, 100))
	assert.Equal(t, 0.0, Utilization(50, 0))
	assert.Equal(t, 0.0, Utilization(50, -1))
}

func TestSummarize_ActiveAndTotalRisk(t *testing.T) {
	cov := &diagCov{variance: map[domain.RiskID]float64{"RX": 0.04, "RY": 0.09, "RZ": 0.01}}
	s := NewSummarizer(cov, zerolog.Nop())

	summary, err := s.Summarize(context.Background(), Input{
		Date:             date,
		Holdings:         []domain.Weight{{Ticker: "X", Weight: 0.6}, {Ticker: "Y", Weight: 0.4}},
		Benchmark:        []domain.RiskWeight{{RiskID: "RX", Weight: 0.5}, {RiskID: "RZ", Weight: 0.5}},
		IDs:              idMap(t),
		Capital:          1000,
		DollarsAllocated: 950,
	})
	require.NoError(t, err)

	// active = {0.1, 0.4, -0.5}
	wantActive := math.Sqrt(0.1*0.1*0.04 + 0.4*0.4*0.09 + 0.5*0.5*0.01)
	wantTotal := math.Sqrt(0.6*0.6*0.04 + 0.4*0.4*0.09)
	assert.InDelta(t, wantActive, summary.Metrics.ActiveRisk, 1e-12)
	assert.InDelta(t, wantTotal, summary.Metrics.TotalRisk, 1e-12)
	assert.InDelta(t, 0.95, summary.Metrics.Utilization, 1e-12)
	assert.Equal(t, 2, summary.Metrics.NumLong)

	require.Len(t, summary.Active, 3)
	assert.Equal(t, ActiveWeight{RiskID: "RZ", Ticker: "Z", Holding: 0, Benchmark: 0.5, Active: -0.5}, summary.Active[2])
	assert.Zero(t, summary.Warnings.Len())
}

func TestSummarize_MatchingBenchmarkHasZeroActiveRisk(t *testing.T) {
	cov := &diagCov{variance: map[domain.RiskID]float64{"RX": 0.04, "RY": 0.09}}
	s := NewSummarizer(cov, zerolog.Nop())

	summary, err := s.Summarize(context.Background(), Input{
		Date:      date,
		Holdings:  []domain.Weight{{Ticker: "X", Weight: 0.5}, {Ticker: "Y", Weight: 0.5}},
		Benchmark: []domain.RiskWeight{{RiskID: "RX", Weight: 0.5}, {RiskID: "RY", Weight: 0.5}},
		IDs:       idMap(t),
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, summary.Metrics.ActiveRisk)
	assert.Greater(t, summary.Metrics.TotalRisk, 0.0)
}

func TestSummarize_UnmappedHoldingWarnsButCountsInExposure(t *testing.T) {
	cov := &diagCov{variance: map[domain.RiskID]float64{"RX": 0.04}}
	s := NewSummarizer(cov, zerolog.Nop())

	summary, err := s.Summarize(context.Background(), Input{
		Date:     date,
		Holdings: []domain.Weight{{Ticker: "X", Weight: 0.5}, {Ticker: "UNKNOWN", Weight: -0.2}},
		IDs:      idMap(t),
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.7, summary.Metrics.GrossExposure, 1e-12)
	assert.Equal(t, 1, summary.Metrics.NumShort)
	assert.Equal(t, 1, summary.Warnings.Counts()[domain.WarnUnmappedTicker])
	assert.InDelta(t, 0.5*0.2, summary.Metrics.TotalRisk, 1e-12)
}

func TestSummarize_MissingCovarianceRowWarns(t *testing.T) {
	cov := &diagCov{variance: map[domain.RiskID]float64{"RX": 0.04}}
	s := NewSummarizer(cov, zerolog.Nop())

	summary, err := s.Summarize(context.Background(), Input{
		Date:     date,
		Holdings: []domain.Weight{{Ticker: "X", Weight: 0.5}, {Ticker: "Y", Weight: 0.5}},
		IDs:      idMap(t),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Warnings.Counts()[domain.WarnMissingCovariance])
	assert.InDelta(t, 0.1, summary.Metrics.TotalRisk, 1e-12)
}

func TestSummarize_MisalignedCovarianceFails(t *testing.T) {
	cov := &diagCov{variance: map[domain.RiskID]float64{"RX": 0.04, "RY": 0.09}, reverse: true}
	s := NewSummarizer(cov, zerolog.Nop())

	_, err := s.Summarize(context.Background(), Input{
		Date:     date,
		Holdings: []domain.Weight{{Ticker: "X", Weight: 0.5}, {Ticker: "Y", Weight: 0.5}},
		IDs:      idMap(t),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCovarianceMisaligned))
}

func TestSummarize_EmptyPortfolio(t *testing.T) {
	cov := &diagCov{}
	s := NewSummarizer(cov, zerolog.Nop())

	summary, err := s.Summarize(context.Background(), Input{Date: date, IDs: idMap(t), Capital: 100})
	require.NoError(t, err)
	assert.Equal(t, domain.PortfolioMetrics{Capital: 100}, summary.Metrics)
	assert.Equal(t, 0, cov.calls, "no covariance lookup without instruments")
}

func TestQuadraticRisk(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{0.04, 0.01, 0.01, 0.09})

	assert.Equal(t, 0.0, QuadraticRisk([]float64{0, 0}, cov))
	assert.InDelta(t, math.Sqrt(0.04+0.09+2*0.01), QuadraticRisk([]float64{1, 1}, cov), 1e-12)
	assert.Equal(t, 0.0, QuadraticRisk(nil, nil))
}
