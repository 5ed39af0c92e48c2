// Package signals computes standardized, risk-scaled alphas from
// per-instrument return histories.
package signals

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aristath/sftrader/internal/domain"
)

// History is one instrument's observations sorted by date. Missing
// values are NaN.
type History struct {
	RiskID        domain.RiskID
	Ticker        domain.Ticker
	Dates         []time.Time
	Returns       []float64
	PredictedBeta []float64
	SpecificRisk  []float64
}

// Len returns the number of observations.
func (h History) Len() int {
	return len(h.Dates)
}

// Signal is a per-instrument scoring rule.
//
// The set of signals is closed: Momentum, Reversal and Beta are the only
// implementations. Evaluate returns one score per observation of h, NaN
// where the history is too short.
type Signal interface {
	Name() string
	LookbackDays() int
	Requires() []domain.Column
	Evaluate(h History) []float64

	isSignal()
}

// Momentum is the 12-1 month momentum: the sum of log returns over Window
// observations ending Skip observations before the scored date.
type Momentum struct {
	Window int
	Skip   int
}

// DefaultMomentum returns the 230-day window skipped by 22 days.
func DefaultMomentum() Momentum {
	return Momentum{Window: 230, Skip: 22}
}

func (Momentum) Name() string              { return "momentum" }
func (m Momentum) LookbackDays() int       { return m.Window + m.Skip }
func (Momentum) Requires() []domain.Column { return []domain.Column{domain.ColumnReturn} }
func (Momentum) isSignal()                 {}

func (m Momentum) Evaluate(h History) []float64 {
	sums := rollingSum(logReturns(h.Returns), m.Window)
	return shift(sums, m.Skip)
}

// Reversal is the negated sum of log returns over the last Window observations.
type Reversal struct {
	Window int
}

// DefaultReversal returns the one-month (22 day) reversal.
func DefaultReversal() Reversal {
	return Reversal{Window: 22}
}

func (Reversal) Name() string              { return "reversal" }
func (r Reversal) LookbackDays() int       { return r.Window }
func (Reversal) Requires() []domain.Column { return []domain.Column{domain.ColumnReturn} }
func (Reversal) isSignal()                 {}

func (r Reversal) Evaluate(h History) []float64 {
	sums := rollingSum(logReturns(h.Returns), r.Window)
	for i := range sums {
		sums[i] = -sums[i]
	}
	return sums
}

// Beta favours low-beta instruments: the score is the negated predicted beta.
type Beta struct{}

func (Beta) Name() string              { return "beta" }
func (Beta) LookbackDays() int         { return 0 }
func (Beta) Requires() []domain.Column { return []domain.Column{domain.ColumnPredictedBeta} }
func (Beta) isSignal()                 {}

func (Beta) Evaluate(h History) []float64 {
	out := make([]float64, len(h.PredictedBeta))
	for i, b := range h.PredictedBeta {
		out[i] = -b
	}
	return out
}

var registry = map[string]func() Signal{
	"momentum": func() Signal { return DefaultMomentum() },
	"reversal": func() Signal { return DefaultReversal() },
	"beta":     func() Signal { return Beta{} },
}

// Names returns the registered signal names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the signal registered under name.
func Lookup(name string) (Signal, error) {
	ctor, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown signal %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return ctor(), nil
}

// MaxLookback returns the longest lookback among signals, in days.
func MaxLookback(signals []Signal) int {
	longest := 0
	for _, s := range signals {
		if s.LookbackDays() > longest {
			longest = s.LookbackDays()
		}
	}
	return longest
}

func logReturns(returns []float64) []float64 {
	out := make([]float64, len(returns))
	for i, r := range returns {
		out[i] = math.Log1p(r)
	}
	return out
}
