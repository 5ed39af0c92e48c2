// Package reports builds the tabular summaries shown after a rebalance.
package reports

import (
	"sort"

	"github.com/aristath/sftrader/internal/domain"
	"github.com/aristath/sftrader/internal/modules/sizing"
)

// DefaultTopN is the number of rows shown in each report table.
const DefaultTopN = 10

// PositionRow is one long position compared to the benchmark.
type PositionRow struct {
	Ticker          domain.Ticker `json:"ticker"`
	Shares          float64       `json:"shares"`
	Price           float64       `json:"price"`
	Dollars         float64       `json:"dollars"`
	Weight          float64       `json:"weight"`
	BenchmarkWeight float64       `json:"benchmark_weight"`
	ActiveWeight    float64       `json:"active_weight"`
	// PctChgBenchmark is the active weight as a percentage of the
	// benchmark weight. Nil when the benchmark does not hold the name.
	PctChgBenchmark *float64 `json:"pct_chg_benchmark"`
}

// TopLongPositions returns the n largest long positions by dollar value.
func TopLongPositions(positions []sizing.Position, capital float64, benchmark map[domain.Ticker]float64, n int) []PositionRow {
	weights := sizing.WeightsFromDollars(positions, capital)

	rows := make([]PositionRow, 0, len(positions))
	for i, p := range positions {
		if p.Dollars <= 0 {
			continue
		}
		bmk := benchmark[p.Ticker]
		row := PositionRow{
			Ticker:          p.Ticker,
			Shares:          p.Shares,
			Price:           p.Price,
			Dollars:         p.Dollars,
			Weight:          weights[i].Weight,
			BenchmarkWeight: bmk,
			ActiveWeight:    weights[i].Weight - bmk,
		}
		if bmk != 0 {
			pct := row.ActiveWeight / bmk * 100
			row.PctChgBenchmark = &pct
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Dollars > rows[j].Dollars })
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

// OrderRow is an order with its notional value.
type OrderRow struct {
	Ticker  domain.Ticker `json:"ticker"`
	Action  domain.Action `json:"action"`
	Shares  float64       `json:"shares"`
	Price   float64       `json:"price"`
	Dollars float64       `json:"dollars"`
}

// TopOrders returns the n largest orders of the given action by dollar value.
func TopOrders(orders []domain.Order, action domain.Action, n int) []OrderRow {
	var rows []OrderRow
	for _, o := range orders {
		if o.Action != action {
			continue
		}
		rows = append(rows, OrderRow{
			Ticker:  o.Ticker,
			Action:  o.Action,
			Shares:  o.Shares,
			Price:   o.Price,
			Dollars: o.Dollars(),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Dollars > rows[j].Dollars })
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

// BenchmarkByTicker re-keys benchmark weights to tickers, skipping
// instruments without a ticker on the date.
func BenchmarkByTicker(benchmark []domain.RiskWeight, ids *domain.IDMap) map[domain.Ticker]float64 {
	out := make(map[domain.Ticker]float64, len(benchmark))
	for _, b := range benchmark {
		if t, err := ids.Ticker(b.RiskID); err == nil {
			out[t] += b.Weight
		}
	}
	return out
}
