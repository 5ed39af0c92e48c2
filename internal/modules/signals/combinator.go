package signals

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Combinator blends per-signal alphas into a single alpha.
//
// Implementations are Mean, Weighted, Min and Max. Values passed to
// Combine are ordered like the names passed to Validate.
type Combinator interface {
	Name() string
	// Validate checks the combinator against the configured signal names.
	Validate(signalNames []string) error
	Combine(signalNames []string, values []float64) float64

	isCombinator()
}

// Mean averages the signal alphas.
type Mean struct{}

func (Mean) Name() string                  { return "mean" }
func (Mean) Validate(names []string) error { return requireSignals(names) }
func (Mean) isCombinator()                 {}

func (Mean) Combine(_ []string, values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Weighted is a weighted average with one weight per signal name.
type Weighted struct {
	Weights map[string]float64
}

func (Weighted) Name() string  { return "weighted" }
func (Weighted) isCombinator() {}

func (w Weighted) Validate(names []string) error {
	if err := requireSignals(names); err != nil {
		return err
	}
	total := 0.0
	for _, name := range names {
		weight, ok := w.Weights[name]
		if !ok {
			return fmt.Errorf("weighted combinator has no weight for signal %q", name)
		}
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			return fmt.Errorf("weighted combinator weight for %q is not finite", name)
		}
		total += weight
	}
	if total == 0 {
		return fmt.Errorf("weighted combinator weights sum to zero")
	}
	for name := range w.Weights {
		if !contains(names, name) {
			return fmt.Errorf("weighted combinator references unconfigured signal %q", name)
		}
	}
	return nil
}

func (w Weighted) Combine(names []string, values []float64) float64 {
	sum, total := 0.0, 0.0
	for i, v := range values {
		weight := w.Weights[names[i]]
		sum += weight * v
		total += weight
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

// Min takes the most pessimistic signal alpha.
type Min struct{}

func (Min) Name() string                  { return "min" }
func (Min) Validate(names []string) error { return requireSignals(names) }
func (Min) isCombinator()                 {}

func (Min) Combine(_ []string, values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	out := values[0]
	for _, v := range values[1:] {
		out = math.Min(out, v)
	}
	return out
}

// Max takes the most optimistic signal alpha.
type Max struct{}

func (Max) Name() string                  { return "max" }
func (Max) Validate(names []string) error { return requireSignals(names) }
func (Max) isCombinator()                 {}

func (Max) Combine(_ []string, values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	out := values[0]
	for _, v := range values[1:] {
		out = math.Max(out, v)
	}
	return out
}

// CombinatorNames lists the combinators LookupCombinator accepts.
func CombinatorNames() []string {
	names := []string{"max", "mean", "min", "weighted"}
	sort.Strings(names)
	return names
}

// LookupCombinator resolves a combinator by name. weights is only used by
// the weighted combinator.
func LookupCombinator(name string, weights map[string]float64) (Combinator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mean":
		return Mean{}, nil
	case "weighted":
		return Weighted{Weights: weights}, nil
	case "min":
		return Min{}, nil
	case "max":
		return Max{}, nil
	default:
		return nil, fmt.Errorf("unknown combinator %q (available: %s)", name, strings.Join(CombinatorNames(), ", "))
	}
}

func requireSignals(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("at least one signal is required")
	}
	return nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
