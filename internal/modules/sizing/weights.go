// Package sizing turns optimizer weights into tradable weights and share targets.
package sizing

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/aristath/sftrader/internal/domain"
)

// RoundingMode selects how ties are rounded.
type RoundingMode string

const (
	// RoundHalfEven rounds ties to the nearest even digit (banker's rounding).
	RoundHalfEven RoundingMode = "half-even"
	// RoundHalfUp rounds ties away from zero.
	RoundHalfUp RoundingMode = "half-up"
)

// ParseRoundingMode parses a configured rounding mode. Empty selects half-even.
func ParseRoundingMode(s string) (RoundingMode, error) {
	switch RoundingMode(s) {
	case "", RoundHalfEven:
		return RoundHalfEven, nil
	case RoundHalfUp:
		return RoundHalfUp, nil
	default:
		return "", fmt.Errorf("unknown rounding mode %q (available: %s, %s)", s, RoundHalfEven, RoundHalfUp)
	}
}

// WeightOptions controls weight post-processing.
type WeightOptions struct {
	DecimalPlaces int32
	Rounding      RoundingMode
}

// Round rounds v to places decimals using mode.
func Round(v float64, places int32, mode RoundingMode) decimal.Decimal {
	d := decimal.NewFromFloat(v)
	if mode == RoundHalfUp {
		return d.Round(places)
	}
	return d.RoundBank(places)
}

// PostProcessWeights rounds raw optimizer weights, drops the ones whose
// magnitude is below the rounding resolution and re-keys the rest from
// risk IDs to tickers. Output is sorted by ticker.
func PostProcessWeights(raw []domain.RiskWeight, ids *domain.IDMap, opts WeightOptions) ([]domain.Weight, domain.Warnings) {
	var warnings domain.Warnings
	threshold := decimal.New(1, -opts.DecimalPlaces)

	out := make([]domain.Weight, 0, len(raw))
	for _, rw := range raw {
		if math.IsNaN(rw.Weight) || math.IsInf(rw.Weight, 0) {
			continue
		}

		rounded := Round(rw.Weight, opts.DecimalPlaces, opts.Rounding)
		if rounded.Abs().LessThan(threshold) {
			continue
		}

		ticker, err := ids.Ticker(rw.RiskID)
		if err != nil {
			warnings.Add(domain.WarnUnmappedRiskID, domain.StageSizing, string(rw.RiskID),
				"weight %s dropped: %v", rounded.String(), err)
			continue
		}

		w, _ := rounded.Float64()
		out = append(out, domain.Weight{Ticker: ticker, Weight: w})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, warnings
}
