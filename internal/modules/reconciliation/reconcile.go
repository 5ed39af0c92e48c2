// Package reconciliation turns the gap between current and target holdings
// into buy and sell orders.
package reconciliation

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/aristath/sftrader/internal/domain"
)

// ShareDecimals is the precision share deltas are rounded to before their
// sign is taken.
const ShareDecimals = 6

// DefaultLimitOffset is added to (BUY) or subtracted from (SELL) the last
// price when building limit orders.
const DefaultLimitOffset = 0.01

// Options configures reconciliation.
type Options struct {
	// IgnoreTickers never receive orders.
	IgnoreTickers []domain.Ticker
}

// Reconcile computes the orders moving current holdings to target.
//
// Both holding sets are outer-joined on ticker with missing counts treated
// as zero. HOLDs, zero deltas, ignored tickers and unpriced tickers never
// produce an order. Output is sorted by ticker.
func Reconcile(current, target []domain.Holding, prices domain.Prices, opts Options) ([]domain.Order, domain.Warnings) {
	var warnings domain.Warnings

	ignore := make(map[domain.Ticker]bool, len(opts.IgnoreTickers))
	for _, t := range opts.IgnoreTickers {
		ignore[t] = true
	}

	// 1. Union and outer join with zero fill
	cur := sumByTicker(current)
	tgt := sumByTicker(target)
	tickers := unionTickers(cur, tgt)

	orders := make([]domain.Order, 0, len(tickers))
	for _, t := range tickers {
		// 2. Delta and action
		delta := roundShares(tgt[t] - cur[t])
		action := ActionFor(delta)
		shares := math.Abs(delta)

		// 3. Filters
		if ignore[t] || action == domain.ActionHold || shares == 0 {
			continue
		}
		price, ok := prices.Get(t)
		if !ok {
			warnings.Add(domain.WarnMissingPrice, domain.StageReconciliation, string(t),
				"%s %.0f shares skipped, no price", action, shares)
			continue
		}
		if price <= 0 {
			warnings.Add(domain.WarnNonPositivePrice, domain.StageReconciliation, string(t),
				"%s %.0f shares skipped, price %.4f", action, shares, price)
			continue
		}

		orders = append(orders, domain.Order{
			Ticker: t,
			Price:  price,
			Shares: shares,
			Action: action,
		})
	}

	return orders, warnings
}

// ActionFor maps a signed share delta to an action.
func ActionFor(delta float64) domain.Action {
	switch {
	case delta > 0:
		return domain.ActionBuy
	case delta < 0:
		return domain.ActionSell
	default:
		return domain.ActionHold
	}
}

// ApplyOrders returns the holdings that result from filling every order
// in full. Positions that net to zero are removed. Output is sorted by ticker.
func ApplyOrders(current []domain.Holding, orders []domain.Order) []domain.Holding {
	shares := sumByTicker(current)
	for _, o := range orders {
		switch o.Action {
		case domain.ActionBuy:
			shares[o.Ticker] += o.Shares
		case domain.ActionSell:
			shares[o.Ticker] -= o.Shares
		}
	}

	var out []domain.Holding
	for _, t := range sortedTickers(shares) {
		if s := roundShares(shares[t]); s != 0 {
			out = append(out, domain.Holding{Ticker: t, Shares: s})
		}
	}
	return out
}

// LimitPrice returns the limit price for o: last price plus offset for
// buys, minus offset for sells, rounded to cents.
func LimitPrice(o domain.Order, offset float64) float64 {
	p := decimal.NewFromFloat(o.Price)
	off := decimal.NewFromFloat(offset)
	if o.Action == domain.ActionSell {
		p = p.Sub(off)
	} else {
		p = p.Add(off)
	}
	v, _ := p.Round(2).Float64()
	return v
}

// SubmitRequests attaches limit prices to orders.
func SubmitRequests(orders []domain.Order, offset float64) []domain.SubmitRequest {
	out := make([]domain.SubmitRequest, len(orders))
	for i, o := range orders {
		out[i] = domain.SubmitRequest{Order: o, LimitPrice: LimitPrice(o, offset)}
	}
	return out
}

func roundShares(v float64) float64 {
	r, _ := decimal.NewFromFloat(v).Round(ShareDecimals).Float64()
	if r == 0 {
		return 0
	}
	return r
}

func sumByTicker(holdings []domain.Holding) map[domain.Ticker]float64 {
	out := make(map[domain.Ticker]float64, len(holdings))
	for _, h := range holdings {
		out[h.Ticker] += h.Shares
	}
	return out
}

func unionTickers(a, b map[domain.Ticker]float64) []domain.Ticker {
	seen := make(map[domain.Ticker]float64, len(a)+len(b))
	for t := range a {
		seen[t] = 0
	}
	for t := range b {
		seen[t] = 0
	}
	return sortedTickers(seen)
}

func sortedTickers(m map[domain.Ticker]float64) []domain.Ticker {
	out := make([]domain.Ticker, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
