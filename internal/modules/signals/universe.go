package signals

import (
	"sort"

	"github.com/aristath/sftrader/internal/domain"
)

// DefaultMinPrice excludes penny stocks from the tradable universe.
const DefaultMinPrice = 5.0

// TradableUniverse returns the tickers priced at or above minPrice, sorted.
func TradableUniverse(prices domain.Prices, minPrice float64) []domain.Ticker {
	var out []domain.Ticker
	for t := range prices {
		if p, ok := prices.Get(t); ok && p >= minPrice {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FilterUniverse keeps the observation rows whose ticker is in universe.
func FilterUniverse(obs domain.Observations, universe []domain.Ticker) domain.Observations {
	keep := make(map[domain.Ticker]bool, len(universe))
	for _, t := range universe {
		keep[t] = true
	}
	out := domain.Observations{Columns: obs.Columns}
	for _, row := range obs.Rows {
		if keep[row.Ticker] {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}
