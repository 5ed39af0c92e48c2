package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aristath/sftrader/internal/domain"
	"github.com/aristath/sftrader/internal/modules/optimization"
	"github.com/aristath/sftrader/internal/modules/reconciliation"
	"github.com/aristath/sftrader/internal/modules/signals"
	"github.com/aristath/sftrader/internal/modules/sizing"
)

// Strategy is the validated trading configuration with every name resolved
// to its typed variant.
type Strategy struct {
	Signals       []signals.Signal
	Combinator    signals.Combinator
	IC            float64
	Gamma         float64
	Constraints   []optimization.Constraint
	Weights       sizing.WeightOptions
	IgnoreTickers []domain.Ticker
	MinPrice      float64
	CapitalBuffer float64 // fraction of account value held back from sizing
	LimitOffset   float64
}

// strategyFile mirrors the YAML document. Pointers distinguish absent keys
// from zero values.
type strategyFile struct {
	Signals       []string           `yaml:"signals"`
	Combinator    string             `yaml:"signal-combinator"`
	SignalWeights map[string]float64 `yaml:"signal-weights"`
	IC            *float64           `yaml:"ic"`
	Gamma         *float64           `yaml:"gamma"`
	DecimalPlaces *int               `yaml:"decimal-places"`
	Rounding      string             `yaml:"rounding"`
	Constraints   []string           `yaml:"constraints"`
	IgnoreTickers []string           `yaml:"ignore-tickers"`
	MinPrice      *float64           `yaml:"min-price"`
	CapitalBuffer *float64           `yaml:"capital-buffer"`
	LimitOffset   *float64           `yaml:"limit-offset"`
}

// DefaultStrategy is used when no strategy file is configured.
func DefaultStrategy() *Strategy {
	return &Strategy{
		Signals:     []signals.Signal{signals.DefaultMomentum(), signals.DefaultReversal(), signals.Beta{}},
		Combinator:  signals.Mean{},
		IC:          0.05,
		Gamma:       optimization.DefaultGamma,
		Constraints: []optimization.Constraint{optimization.FullInvestment{}, optimization.LongOnly{}},
		Weights: sizing.WeightOptions{
			DecimalPlaces: 4,
			Rounding:      sizing.RoundHalfEven,
		},
		MinPrice:    signals.DefaultMinPrice,
		LimitOffset: reconciliation.DefaultLimitOffset,
	}
}

// LoadStrategy reads and validates a YAML strategy file. An empty path
// returns DefaultStrategy.
func LoadStrategy(path string) (*Strategy, error) {
	if path == "" {
		return DefaultStrategy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigError{Field: "strategy-file", Err: err}
	}
	return ParseStrategy(data)
}

// ParseStrategy validates a YAML strategy document. Every failure is a
// *domain.ConfigError naming the offending key.
func ParseStrategy(data []byte) (*Strategy, error) {
	var raw strategyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.NewConfigError("strategy-file", "configuration file is empty")
		}
		return nil, &domain.ConfigError{Field: "strategy-file", Err: fmt.Errorf("failed to parse YAML: %w", err)}
	}

	s := &Strategy{
		MinPrice:    signals.DefaultMinPrice,
		LimitOffset: reconciliation.DefaultLimitOffset,
	}

	if len(raw.Signals) == 0 {
		return nil, domain.NewConfigError("signals", "at least one signal is required")
	}
	for _, name := range raw.Signals {
		sig, err := signals.Lookup(name)
		if err != nil {
			return nil, &domain.ConfigError{Field: "signals", Err: err}
		}
		s.Signals = append(s.Signals, sig)
	}

	combinator, err := signals.LookupCombinator(raw.Combinator, raw.SignalWeights)
	if err != nil {
		return nil, &domain.ConfigError{Field: "signal-combinator", Err: err}
	}
	names := make([]string, len(s.Signals))
	for i, sig := range s.Signals {
		names[i] = sig.Name()
	}
	if err := combinator.Validate(names); err != nil {
		return nil, &domain.ConfigError{Field: "signal-weights", Err: err}
	}
	s.Combinator = combinator

	if raw.IC == nil {
		return nil, domain.NewConfigError("ic", "is required")
	}
	if !isFinite(*raw.IC) {
		return nil, domain.NewConfigError("ic", "must be finite, got %v", *raw.IC)
	}
	s.IC = *raw.IC

	if raw.Gamma == nil {
		return nil, domain.NewConfigError("gamma", "is required")
	}
	if !isFinite(*raw.Gamma) || *raw.Gamma <= 0 {
		return nil, domain.NewConfigError("gamma", "must be a positive number, got %v", *raw.Gamma)
	}
	s.Gamma = *raw.Gamma

	if raw.DecimalPlaces == nil {
		return nil, domain.NewConfigError("decimal-places", "is required")
	}
	if *raw.DecimalPlaces < 0 || *raw.DecimalPlaces > 12 {
		return nil, domain.NewConfigError("decimal-places", "must be between 0 and 12, got %d", *raw.DecimalPlaces)
	}
	rounding, err := sizing.ParseRoundingMode(raw.Rounding)
	if err != nil {
		return nil, &domain.ConfigError{Field: "rounding", Err: err}
	}
	s.Weights = sizing.WeightOptions{DecimalPlaces: int32(*raw.DecimalPlaces), Rounding: rounding}

	seen := make(map[string]bool, len(raw.Constraints))
	for _, name := range raw.Constraints {
		c, err := optimization.LookupConstraint(name)
		if err != nil {
			return nil, &domain.ConfigError{Field: "constraints", Err: err}
		}
		if seen[c.ConstraintName()] {
			return nil, domain.NewConfigError("constraints", "constraint %q listed twice", c.ConstraintName())
		}
		seen[c.ConstraintName()] = true
		s.Constraints = append(s.Constraints, c)
	}

	for _, t := range raw.IgnoreTickers {
		if t == "" {
			return nil, domain.NewConfigError("ignore-tickers", "empty ticker")
		}
		s.IgnoreTickers = append(s.IgnoreTickers, domain.Ticker(t))
	}

	if raw.MinPrice != nil {
		if !isFinite(*raw.MinPrice) || *raw.MinPrice < 0 {
			return nil, domain.NewConfigError("min-price", "must not be negative, got %v", *raw.MinPrice)
		}
		s.MinPrice = *raw.MinPrice
	}

	if raw.CapitalBuffer != nil {
		if !isFinite(*raw.CapitalBuffer) || *raw.CapitalBuffer < 0 || *raw.CapitalBuffer >= 1 {
			return nil, domain.NewConfigError("capital-buffer", "must be in [0, 1), got %v", *raw.CapitalBuffer)
		}
		s.CapitalBuffer = *raw.CapitalBuffer
	}

	if raw.LimitOffset != nil {
		if !isFinite(*raw.LimitOffset) || *raw.LimitOffset < 0 {
			return nil, domain.NewConfigError("limit-offset", "must not be negative, got %v", *raw.LimitOffset)
		}
		s.LimitOffset = *raw.LimitOffset
	}

	return s, nil
}

// SignalNames returns the configured signal names in order.
func (s *Strategy) SignalNames() []string {
	names := make([]string, len(s.Signals))
	for i, sig := range s.Signals {
		names[i] = sig.Name()
	}
	return names
}

// ConstraintNames returns the configured constraint names in order.
func (s *Strategy) ConstraintNames() []string {
	names := make([]string, len(s.Constraints))
	for i, c := range s.Constraints {
		names[i] = c.ConstraintName()
	}
	return names
}

// SizingCapital applies the capital buffer to an account value.
func (s *Strategy) SizingCapital(accountValue float64) float64 {
	return accountValue * (1 - s.CapitalBuffer)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
