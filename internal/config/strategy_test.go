package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sftrader/internal/domain"
	"github.com/aristath/sftrader/internal/modules/optimization"
	"github.com/aristath/sftrader/internal/modules/signals"
	"github.com/aristath/sftrader/internal/modules/sizing"
)

const fullStrategy = `
signals:
  - momentum
  - reversal
signal-combinator: weighted
signal-weights:
  momentum: 2
  reversal: 1
ic: 0.05
gamma: 250
decimal-places: 4
rounding: half-up
constraints:
  - full-investment
  - long-only
ignore-tickers:
  - BIL
min-price: 10
capital-buffer: 0.02
limit-offset: 0.05
`

func TestParseStrategy_Full(t *testing.T) {
	s, err := ParseStrategy([]byte(fullStrategy))
	require.NoError(t, err)

	assert.Equal(t, []string{"momentum", "reversal"}, s.SignalNames())
	assert.Equal(t, signals.Weighted{Weights: map[string]float64{"momentum": 2, "reversal": 1}}, s.Combinator)
	assert.Equal(t, 0.05, s.IC)
	assert.Equal(t, 250.0, s.Gamma)
	assert.Equal(t, sizing.WeightOptions{DecimalPlaces: 4, Rounding: sizing.RoundHalfUp}, s.Weights)
	assert.Equal(t, []optimization.Constraint{optimization.FullInvestment{}, optimization.LongOnly{}}, s.Constraints)
	assert.Equal(t, []domain.Ticker{"BIL"}, s.IgnoreTickers)
	assert.Equal(t, 10.0, s.MinPrice)
	assert.Equal(t, 0.02, s.CapitalBuffer)
	assert.Equal(t, 0.05, s.LimitOffset)
	assert.InDelta(t, 98000.0, s.SizingCapital(100000), 1e-9)
}

func TestParseStrategy_Defaults(t *testing.T) {
	s, err := ParseStrategy([]byte("signals: [beta]\nic: 0.1\ngamma: 500\ndecimal-places: 3\n"))
	require.NoError(t, err)

	assert.Equal(t, signals.Mean{}, s.Combinator)
	assert.Equal(t, sizing.RoundHalfEven, s.Weights.Rounding)
	assert.Empty(t, s.Constraints)
	assert.Equal(t, signals.DefaultMinPrice, s.MinPrice)
	assert.Equal(t, 0.01, s.LimitOffset)
	assert.Zero(t, s.CapitalBuffer)
}

func TestParseStrategy_Errors(t *testing.T) {
	base := "ic: 0.05\ngamma: 500\ndecimal-places: 4\n"

	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"empty", "", "strategy-file"},
		{"malformed", "signals: [momentum\n", "strategy-file"},
		{"unknown key", "signals: [momentum]\nfoo: 1\n" + base, "strategy-file"},
		{"no signals", base, "signals"},
		{"unknown signal", "signals: [value]\n" + base, "signals"},
		{"unknown combinator", "signals: [momentum]\nsignal-combinator: median\n" + base, "signal-combinator"},
		{"weighted missing weight", "signals: [momentum, beta]\nsignal-combinator: weighted\nsignal-weights: {momentum: 1}\n" + base, "signal-weights"},
		{"missing ic", "signals: [momentum]\ngamma: 500\ndecimal-places: 4\n", "ic"},
		{"missing gamma", "signals: [momentum]\nic: 0.05\ndecimal-places: 4\n", "gamma"},
		{"non-positive gamma", "signals: [momentum]\nic: 0.05\ngamma: 0\ndecimal-places: 4\n", "gamma"},
		{"missing decimal places", "signals: [momentum]\nic: 0.05\ngamma: 500\n", "decimal-places"},
		{"negative decimal places", "signals: [momentum]\nic: 0.05\ngamma: 500\ndecimal-places: -1\n", "decimal-places"},
		{"bad rounding", "signals: [momentum]\nrounding: down\n" + base, "rounding"},
		{"unknown constraint", "signals: [momentum]\nconstraints: [sector-neutral]\n" + base, "constraints"},
		{"duplicate constraint", "signals: [momentum]\nconstraints: [long-only, long-only]\n" + base, "constraints"},
		{"capital buffer too large", "signals: [momentum]\ncapital-buffer: 1\n" + base, "capital-buffer"},
		{"negative min price", "signals: [momentum]\nmin-price: -5\n" + base, "min-price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStrategy([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrConfig), "error must be a config error: %v", err)

			var cfgErr *domain.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoadStrategy(t *testing.T) {
	t.Run("empty path uses defaults", func(t *testing.T) {
		s, err := LoadStrategy("")
		require.NoError(t, err)
		assert.Equal(t, DefaultStrategy(), s)
		assert.Equal(t, []string{"momentum", "reversal", "beta"}, s.SignalNames())
		assert.Equal(t, []string{"full-investment", "long-only"}, s.ConstraintNames())
	})

	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "strategy.yaml")
		require.NoError(t, os.WriteFile(path, []byte(fullStrategy), 0644))

		s, err := LoadStrategy(path)
		require.NoError(t, err)
		assert.Equal(t, 250.0, s.Gamma)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadStrategy(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrConfig))
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})
}
