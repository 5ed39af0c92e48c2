package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sftrader/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	t.Setenv("SFTRADER_DATA_DIR", dir)
	t.Setenv("PORT", "")
	t.Setenv("DRY_RUN", "")
	t.Setenv("REBALANCE_SCHEDULE", "")
	t.Setenv("R2_ACCOUNT_ID", "")
	t.Setenv("RUN_RETENTION_DAYS", "")
	t.Setenv("ARCHIVE_RETENTION_DAYS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 90, cfg.RunRetentionDays)
	assert.Equal(t, 365, cfg.ArchiveRetention)
	assert.DirExists(t, dir)
	assert.Equal(t, 8001, cfg.Port)
	assert.True(t, cfg.DryRun, "dry run is the default")
	assert.True(t, cfg.Paper.AutoFill)
	assert.Equal(t, 1_000_000.0, cfg.Paper.InitialCash)
	assert.Nil(t, cfg.R2)
	assert.Equal(t, filepath.Join(dir, "market.db"), cfg.DatabasePath("market"))
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SFTRADER_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "9100")
	t.Setenv("DRY_RUN", "false")
	t.Setenv("REBALANCE_SCHEDULE", "30 15 * * 1-5")
	t.Setenv("PAPER_INITIAL_CASH", "250000")
	t.Setenv("R2_ACCOUNT_ID", "acct")
	t.Setenv("R2_ACCESS_KEY_ID", "key")
	t.Setenv("R2_SECRET_ACCESS_KEY", "secret")
	t.Setenv("R2_BUCKET_NAME", "runs")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, "30 15 * * 1-5", cfg.RebalanceSchedule)
	assert.Equal(t, 250000.0, cfg.Paper.InitialCash)
	require.NotNil(t, cfg.R2)
	assert.Equal(t, "runs", cfg.R2.BucketName)
}

func TestLoad_PartialR2CredentialsDisableArchive(t *testing.T) {
	t.Setenv("SFTRADER_DATA_DIR", t.TempDir())
	t.Setenv("R2_ACCOUNT_ID", "acct")
	t.Setenv("R2_ACCESS_KEY_ID", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.R2)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"bad port", Config{Port: 0}, "PORT"},
		{"bad schedule", Config{Port: 80, RebalanceSchedule: "every day"}, "REBALANCE_SCHEDULE"},
		{"negative run retention", Config{Port: 80, RunRetentionDays: -1}, "RUN_RETENTION_DAYS"},
		{"negative cash", Config{Port: 80, Paper: PaperConfig{InitialCash: -1}}, "PAPER_INITIAL_CASH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrConfig))

			var cfgErr *domain.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	assert.NoError(t, (&Config{Port: 80, RebalanceSchedule: "0 16 * * *"}).Validate())
}
