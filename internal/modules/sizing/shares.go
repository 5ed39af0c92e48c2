package sizing

import (
	"math"
	"sort"

	"github.com/aristath/sftrader/internal/domain"
)

// Position is a share count valued at a price.
type Position struct {
	Ticker  domain.Ticker `json:"ticker"`
	Shares  float64       `json:"shares"`
	Price   float64       `json:"price"`
	Dollars float64       `json:"dollars"`
}

// TargetShares converts weights into whole-share targets:
// shares = floor(capital * weight / price). Instruments without a usable
// price get no target row and a warning. Output is sorted by ticker.
func TargetShares(weights []domain.Weight, prices domain.Prices, capital float64) ([]domain.Holding, domain.Warnings) {
	var warnings domain.Warnings

	out := make([]domain.Holding, 0, len(weights))
	for _, w := range weights {
		price, ok := usablePrice(prices, w.Ticker, domain.StageSizing, &warnings)
		if !ok {
			continue
		}

		dollars := capital * w.Weight
		shares := math.Floor(dollars / price)
		if shares == 0 {
			// avoid -0 for negative zero weights
			shares = 0
		}
		out = append(out, domain.Holding{Ticker: w.Ticker, Shares: shares})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, warnings
}

// Dollars values holdings at prices. Holdings without a usable price are
// left out with a warning. Output is sorted by ticker.
func Dollars(holdings []domain.Holding, prices domain.Prices) ([]Position, domain.Warnings) {
	var warnings domain.Warnings

	out := make([]Position, 0, len(holdings))
	for _, h := range holdings {
		price, ok := usablePrice(prices, h.Ticker, domain.StageSizing, &warnings)
		if !ok {
			continue
		}
		out = append(out, Position{
			Ticker:  h.Ticker,
			Shares:  h.Shares,
			Price:   price,
			Dollars: h.Shares * price,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, warnings
}

// TotalDollars sums the dollar value of positions.
func TotalDollars(positions []Position) float64 {
	total := 0.0
	for _, p := range positions {
		total += p.Dollars
	}
	return total
}

// WeightsFromDollars expresses positions as fractions of capital.
// Non-positive capital yields zero weights.
func WeightsFromDollars(positions []Position, capital float64) []domain.Weight {
	out := make([]domain.Weight, len(positions))
	for i, p := range positions {
		w := 0.0
		if capital > 0 {
			w = p.Dollars / capital
		}
		out[i] = domain.Weight{Ticker: p.Ticker, Weight: w}
	}
	return out
}

func usablePrice(prices domain.Prices, t domain.Ticker, stage domain.Stage, warnings *domain.Warnings) (float64, bool) {
	price, ok := prices.Get(t)
	if !ok {
		warnings.Add(domain.WarnMissingPrice, stage, string(t), "no price available")
		return 0, false
	}
	if price <= 0 {
		warnings.Add(domain.WarnNonPositivePrice, stage, string(t), "price %.4f is not positive", price)
		return 0, false
	}
	return price, true
}
