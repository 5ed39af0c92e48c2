// Package optimization provides portfolio optimization functionality.
package optimization

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aristath/sftrader/internal/domain"
)

// Constraint is an optimizer constraint enforced through a quadratic penalty.
//
// Implementations are FullInvestment, LongOnly, NoBuyingOnMargin and UnitBeta.
type Constraint interface {
	domain.Constraint
	// penalty returns the squared violation of w.
	penalty(w, betas []float64) float64
	// addGradient adds the gradient of penalty at w to grad.
	addGradient(grad, w, betas []float64)
}

// FullInvestment requires weights to sum to one.
type FullInvestment struct{}

// LongOnly forbids negative weights.
type LongOnly struct{}

// NoBuyingOnMargin caps the sum of weights at one.
type NoBuyingOnMargin struct{}

// UnitBeta requires the portfolio beta to equal one.
type UnitBeta struct{}

func (FullInvestment) ConstraintName() string   { return "full-investment" }
func (LongOnly) ConstraintName() string         { return "long-only" }
func (NoBuyingOnMargin) ConstraintName() string { return "no-buying-on-margin" }
func (UnitBeta) ConstraintName() string         { return "unit-beta" }

func (FullInvestment) penalty(w, _ []float64) float64 {
	d := sum(w) - 1
	return d * d
}

func (FullInvestment) addGradient(grad, w, _ []float64) {
	d := 2 * (sum(w) - 1)
	for i := range grad {
		grad[i] += d
	}
}

func (LongOnly) penalty(w, _ []float64) float64 {
	p := 0.0
	for _, v := range w {
		if v < 0 {
			p += v * v
		}
	}
	return p
}

func (LongOnly) addGradient(grad, w, _ []float64) {
	for i, v := range w {
		if v < 0 {
			grad[i] += 2 * v
		}
	}
}

func (NoBuyingOnMargin) penalty(w, _ []float64) float64 {
	excess := sum(w) - 1
	if excess <= 0 {
		return 0
	}
	return excess * excess
}

func (NoBuyingOnMargin) addGradient(grad, w, _ []float64) {
	excess := sum(w) - 1
	if excess <= 0 {
		return
	}
	for i := range grad {
		grad[i] += 2 * excess
	}
}

func (UnitBeta) penalty(w, betas []float64) float64 {
	d := dot(w, betas) - 1
	return d * d
}

func (UnitBeta) addGradient(grad, w, betas []float64) {
	d := 2 * (dot(w, betas) - 1)
	for i := range grad {
		grad[i] += d * betas[i]
	}
}

var constraintRegistry = map[string]Constraint{
	"full-investment":     FullInvestment{},
	"long-only":           LongOnly{},
	"no-buying-on-margin": NoBuyingOnMargin{},
	"unit-beta":           UnitBeta{},
}

// ConstraintNames returns the registered constraint names, sorted.
func ConstraintNames() []string {
	names := make([]string, 0, len(constraintRegistry))
	for name := range constraintRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupConstraint resolves a constraint by name.
func LookupConstraint(name string) (Constraint, error) {
	c, ok := constraintRegistry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown constraint %q (available: %s)", name, strings.Join(ConstraintNames(), ", "))
	}
	return c, nil
}

// AsDomain converts constraints to the collaborator interface type.
func AsDomain(constraints []Constraint) []domain.Constraint {
	out := make([]domain.Constraint, len(constraints))
	for i, c := range constraints {
		out[i] = c
	}
	return out
}

func hasConstraint(constraints []Constraint, want Constraint) bool {
	for _, c := range constraints {
		if c.ConstraintName() == want.ConstraintName() {
			return true
		}
	}
	return false
}

func sum(w []float64) float64 {
	s := 0.0
	for _, v := range w {
		s += v
	}
	return s
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
