package testing

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/sftrader/internal/domain"
)

// InstrumentFixture describes one synthetic instrument.
type InstrumentFixture struct {
	Ticker        domain.Ticker
	RiskID        domain.RiskID
	Price         float64
	PredictedBeta float64
	SpecificRisk  float64
	Drift         float64 // mean daily return
	Volatility    float64 // amplitude of the deterministic oscillation
	Benchmark     float64 // benchmark weight
}

// MarketFixture is a deterministic synthetic market.
type MarketFixture struct {
	TradeDate   time.Time
	Dates       []time.Time
	Instruments []InstrumentFixture
}

// NewInstrumentFixtures returns a small universe with distinct drift and risk.
func NewInstrumentFixtures() []InstrumentFixture {
	return []InstrumentFixture{
		{Ticker: "AAPL", RiskID: "R001", Price: 190.50, PredictedBeta: 1.10, SpecificRisk: 0.22, Drift: 0.0012, Volatility: 0.015, Benchmark: 0.30},
		{Ticker: "MSFT", RiskID: "R002", Price: 410.25, PredictedBeta: 0.95, SpecificRisk: 0.18, Drift: 0.0008, Volatility: 0.012, Benchmark: 0.25},
		{Ticker: "META", RiskID: "R003", Price: 480.00, PredictedBeta: 1.30, SpecificRisk: 0.30, Drift: 0.0015, Volatility: 0.022, Benchmark: 0.15},
		{Ticker: "BRK.B", RiskID: "R004", Price: 405.10, PredictedBeta: 0.80, SpecificRisk: 0.15, Drift: 0.0003, Volatility: 0.008, Benchmark: 0.20},
		{Ticker: "XOM", RiskID: "R005", Price: 112.40, PredictedBeta: 0.70, SpecificRisk: 0.25, Drift: -0.0004, Volatility: 0.018, Benchmark: 0.10},
	}
}

// NewMarketFixture builds a market with days weekday observations ending on tradeDate.
func NewMarketFixture(tradeDate time.Time, days int) *MarketFixture {
	return &MarketFixture{
		TradeDate:   tradeDate,
		Dates:       WeekdaysEnding(tradeDate, days),
		Instruments: NewInstrumentFixtures(),
	}
}

// WeekdaysEnding returns n weekdays in ascending order, the last being end
// (or the last weekday before it).
func WeekdaysEnding(end time.Time, n int) []time.Time {
	dates := make([]time.Time, n)
	d := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	for i := n - 1; i >= 0; {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			dates[i] = d
			i--
		}
		d = d.AddDate(0, 0, -1)
	}
	return dates
}

// Return is the deterministic daily return of instrument idx on day k.
func (f *MarketFixture) Return(idx, k int) float64 {
	inst := f.Instruments[idx]
	phase := float64(idx+1) * 0.7
	return inst.Drift + inst.Volatility*math.Sin(float64(k)*0.37+phase)
}

// Observations returns every instrument on every date with all columns populated.
func (f *MarketFixture) Observations() domain.Observations {
	obs := domain.Observations{
		Columns: []domain.Column{domain.ColumnReturn, domain.ColumnPredictedBeta, domain.ColumnSpecificRisk},
		Rows:    make([]domain.Observation, 0, len(f.Dates)*len(f.Instruments)),
	}
	for k, date := range f.Dates {
		for i, inst := range f.Instruments {
			beta := inst.PredictedBeta
			risk := inst.SpecificRisk
			obs.Rows = append(obs.Rows, domain.Observation{
				Date:          date,
				RiskID:        inst.RiskID,
				Ticker:        inst.Ticker,
				Return:        f.Return(i, k),
				PredictedBeta: &beta,
				SpecificRisk:  &risk,
			})
		}
	}
	return obs
}

// Prices returns the fixture prices.
func (f *MarketFixture) Prices() domain.Prices {
	prices := make(domain.Prices, len(f.Instruments))
	for _, inst := range f.Instruments {
		prices[inst.Ticker] = inst.Price
	}
	return prices
}

// Benchmark returns the fixture benchmark weights.
func (f *MarketFixture) Benchmark() []domain.RiskWeight {
	out := make([]domain.RiskWeight, 0, len(f.Instruments))
	for _, inst := range f.Instruments {
		out = append(out, domain.RiskWeight{RiskID: inst.RiskID, Weight: inst.Benchmark})
	}
	return out
}

// IDPairs returns the ticker/risk-id pairs of the fixture.
func (f *MarketFixture) IDPairs() []domain.IDPair {
	out := make([]domain.IDPair, 0, len(f.Instruments))
	for _, inst := range f.Instruments {
		out = append(out, domain.IDPair{Ticker: inst.Ticker, RiskID: inst.RiskID})
	}
	return out
}

// IDMap returns the mapping valid on the trade date.
func (f *MarketFixture) IDMap() *domain.IDMap {
	m, err := domain.NewIDMap(f.TradeDate, f.IDPairs())
	if err != nil {
		panic(err)
	}
	return m
}

// DiagonalCovariance returns a covariance with specific risk squared on the
// diagonal, ordered like ids. Unknown ids are left out.
func (f *MarketFixture) DiagonalCovariance(ids []domain.RiskID) *domain.Covariance {
	variance := make(map[domain.RiskID]float64, len(f.Instruments))
	for _, inst := range f.Instruments {
		variance[inst.RiskID] = inst.SpecificRisk * inst.SpecificRisk
	}

	kept := make([]domain.RiskID, 0, len(ids))
	for _, id := range ids {
		if _, ok := variance[id]; ok {
			kept = append(kept, id)
		}
	}

	cov := &domain.Covariance{IDs: kept}
	if len(kept) == 0 {
		return cov
	}
	cov.Matrix = mat.NewSymDense(len(kept), nil)
	for i, id := range kept {
		cov.Matrix.SetSym(i, i, variance[id])
	}
	return cov
}
