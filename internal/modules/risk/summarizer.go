// Package risk summarizes exposures and forecast risk of a portfolio
// relative to its benchmark.
package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/sftrader/internal/domain"
)

// Input is a set of holdings to summarize.
type Input struct {
	Date time.Time
	// Holdings are signed weights of capital keyed by ticker.
	Holdings  []domain.Weight
	Benchmark []domain.RiskWeight
	IDs       *domain.IDMap
	Capital   float64
	// DollarsAllocated is the dollar value of the holdings, used for utilization.
	DollarsAllocated float64
}

// ActiveWeight is one instrument's weight against the benchmark.
type ActiveWeight struct {
	RiskID    domain.RiskID `json:"risk_id"`
	Ticker    domain.Ticker `json:"ticker,omitempty"`
	Holding   float64       `json:"holding"`
	Benchmark float64       `json:"benchmark"`
	Active    float64       `json:"active"`
}

// Summary is the result of Summarize.
type Summary struct {
	Metrics  domain.PortfolioMetrics `json:"metrics"`
	Active   []ActiveWeight          `json:"active"`
	Warnings domain.Warnings         `json:"-"`
}

// Summarizer computes portfolio metrics.
type Summarizer struct {
	cov domain.CovarianceProvider
	log zerolog.Logger
}

// NewSummarizer creates a summarizer backed by cov.
func NewSummarizer(cov domain.CovarianceProvider, log zerolog.Logger) *Summarizer {
	return &Summarizer{
		cov: cov,
		log: log.With().Str("component", "risk_summarizer").Logger(),
	}
}

// Summarize computes exposure, active risk and total risk for in.
func (s *Summarizer) Summarize(ctx context.Context, in Input) (*Summary, error) {
	summary := &Summary{}

	// 1. Exposures use every holding, mapped or not
	summary.Metrics = Exposures(in.Holdings)
	summary.Metrics.Capital = in.Capital
	summary.Metrics.DollarsAllocated = in.DollarsAllocated
	summary.Metrics.Utilization = Utilization(in.DollarsAllocated, in.Capital)

	// 2. Re-key holdings to risk IDs
	held := make(map[domain.RiskID]float64, len(in.Holdings))
	tickers := make(map[domain.RiskID]domain.Ticker, len(in.Holdings))
	for _, h := range in.Holdings {
		id, err := in.IDs.RiskID(h.Ticker)
		if err != nil {
			summary.Warnings.Add(domain.WarnUnmappedTicker, domain.StageRisk, string(h.Ticker),
				"weight %.6f excluded from risk: %v", h.Weight, err)
			continue
		}
		held[id] += h.Weight
		tickers[id] = h.Ticker
	}

	// 3. Outer join with the benchmark, zero fill
	bench := make(map[domain.RiskID]float64, len(in.Benchmark))
	for _, b := range in.Benchmark {
		bench[b.RiskID] += b.Weight
	}
	ids := unionIDs(held, bench)

	// 4. Covariance over exactly the joined key, in the same order
	var cov *domain.Covariance
	if len(ids) > 0 {
		var err error
		cov, err = s.cov.Covariance(ctx, in.Date, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load covariance: %w", err)
		}
	} else {
		cov = &domain.Covariance{}
	}

	covered := make(map[domain.RiskID]bool, len(cov.IDs))
	for _, id := range cov.IDs {
		covered[id] = true
	}

	var kept []domain.RiskID
	for _, id := range ids {
		if !covered[id] {
			summary.Warnings.Add(domain.WarnMissingCovariance, domain.StageRisk, string(id),
				"no covariance row, excluded from risk")
			continue
		}
		kept = append(kept, id)
	}
	if err := CheckAlignment(kept, cov); err != nil {
		return nil, err
	}

	total := make([]float64, len(kept))
	active := make([]float64, len(kept))
	for i, id := range kept {
		total[i] = held[id]
		active[i] = held[id] - bench[id]
	}
	for _, id := range ids {
		ticker := tickers[id]
		if ticker == "" {
			if t, err := in.IDs.Ticker(id); err == nil {
				ticker = t
			}
		}
		summary.Active = append(summary.Active, ActiveWeight{
			RiskID:    id,
			Ticker:    ticker,
			Holding:   held[id],
			Benchmark: bench[id],
			Active:    held[id] - bench[id],
		})
	}

	// 5. Quadratic forms
	summary.Metrics.ActiveRisk = QuadraticRisk(active, cov.Matrix)
	summary.Metrics.TotalRisk = QuadraticRisk(total, cov.Matrix)

	s.log.Debug().
		Float64("gross", summary.Metrics.GrossExposure).
		Float64("net", summary.Metrics.NetExposure).
		Float64("active_risk", summary.Metrics.ActiveRisk).
		Int("warnings", summary.Warnings.Len()).
		Msg("Summarized portfolio")

	return summary, nil
}

// Exposures computes gross and net exposure and long/short counts.
func Exposures(holdings []domain.Weight) domain.PortfolioMetrics {
	var m domain.PortfolioMetrics
	for _, h := range holdings {
		m.GrossExposure += math.Abs(h.Weight)
		m.NetExposure += h.Weight
		switch {
		case h.Weight > 0:
			m.NumLong++
		case h.Weight < 0:
			m.NumShort++
		}
	}
	m.NumPositions = m.NumLong + m.NumShort
	return m
}

// Utilization is the fraction of capital allocated, or 0 without capital.
func Utilization(allocated, capital float64) float64 {
	if capital <= 0 {
		return 0
	}
	return allocated / capital
}

// CheckAlignment verifies that cov is ordered exactly like ids.
func CheckAlignment(ids []domain.RiskID, cov *domain.Covariance) error {
	if len(ids) != len(cov.IDs) {
		return fmt.Errorf("%w: %d weights, %d covariance ids", domain.ErrCovarianceMisaligned, len(ids), len(cov.IDs))
	}
	for i := range ids {
		if ids[i] != cov.IDs[i] {
			return fmt.Errorf("%w: position %d is %s in weights and %s in covariance",
				domain.ErrCovarianceMisaligned, i, ids[i], cov.IDs[i])
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if cov.Matrix == nil {
		return fmt.Errorf("%w: covariance matrix is nil", domain.ErrCovarianceMisaligned)
	}
	if n := cov.Matrix.SymmetricDim(); n != len(ids) {
		return fmt.Errorf("%w: matrix is %dx%d for %d ids", domain.ErrCovarianceMisaligned, n, n, len(ids))
	}
	return nil
}

// QuadraticRisk returns sqrt(wᵀΣw). Round-off below zero is clamped.
func QuadraticRisk(weights []float64, cov *mat.SymDense) float64 {
	if len(weights) == 0 || cov == nil {
		return 0
	}
	allZero := true
	for _, w := range weights {
		if w != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return 0
	}

	w := mat.NewVecDense(len(weights), weights)
	variance := mat.Inner(w, cov, w)
	if variance <= 0 || math.IsNaN(variance) {
		return 0
	}
	return math.Sqrt(variance)
}

func unionIDs(a, b map[domain.RiskID]float64) []domain.RiskID {
	seen := make(map[domain.RiskID]bool, len(a)+len(b))
	var ids []domain.RiskID
	for id := range a {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id := range b {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
