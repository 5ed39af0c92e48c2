package main

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/subcommands"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sftrader/internal/domain"
	"github.com/aristath/sftrader/internal/modules/risk"
)

func TestParseDate(t *testing.T) {
	date, err := parseDate("2024-06-14")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC), date)

	today, err := parseDate("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, today.Location())
	assert.Zero(t, today.Hour())

	_, err = parseDate("14/06/2024")
	assert.ErrorContains(t, err, "YYYY-MM-DD")
}

func TestExitStatus(t *testing.T) {
	assert.Equal(t, subcommands.ExitSuccess, exitStatus(nil))
	assert.Equal(t, subcommands.ExitFailure, exitStatus(errors.New("broker offline")))

	cfgErr := fmt.Errorf("failed to load strategy: %w", domain.NewConfigError("gamma", "is required"))
	assert.Equal(t, subcommands.ExitUsageError, exitStatus(cfgErr))
}

func TestSummaryMarkdown(t *testing.T) {
	s := &risk.Summary{
		Metrics: domain.PortfolioMetrics{
			Capital:          1_000_000,
			DollarsAllocated: 990_000,
			Utilization:      0.99,
			NumPositions:     3,
			NumLong:          2,
			NumShort:         1,
			ActiveRisk:       0.031,
		},
		Active: []risk.ActiveWeight{
			{RiskID: "R001", Ticker: "AAPL", Holding: 0.30, Benchmark: 0.29, Active: 0.01},
			{RiskID: "R005", Ticker: "XOM", Holding: -0.05, Benchmark: 0.10, Active: -0.15},
			{RiskID: "R009", Holding: 0.05, Active: 0.05},
		},
	}
	warnings := []domain.Warning{{Code: domain.WarnMissingPrice, Stage: domain.StageRisk, Instrument: "ZZZ", Message: "no price available"}}

	md := summaryMarkdown("Holdings", s, warnings, 2)
	assert.Contains(t, md, "# Holdings")
	assert.Contains(t, md, "| Utilization | 99.00% |")
	assert.Contains(t, md, "| Active risk | 3.10% |")
	assert.Contains(t, md, "| XOM | -5.00% | 10.00% | -15.00% |")
	assert.Contains(t, md, "| R009 |")
	assert.NotContains(t, md, "| AAPL |", "only the two largest active weights are listed")
	assert.Contains(t, md, "## Warnings")
}
