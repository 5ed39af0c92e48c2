// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/aristath/sftrader/internal/domain"
)

// Config holds process configuration read from the environment
type Config struct {
	DataDir           string // Base directory for all databases (always absolute)
	LogLevel          string
	Port              int
	DevMode           bool
	StrategyFile      string // YAML strategy file; empty means built-in defaults
	RebalanceSchedule string // Standard 5-field cron expression; empty disables the job
	DryRun            bool   // Compute everything, submit nothing
	RunRetentionDays  int    // Local run history kept by daily maintenance; 0 keeps forever
	ArchiveRetention  int    // Days of archived runs kept in R2; 0 keeps forever
	Paper             PaperConfig
	R2                *R2Config // nil when archive credentials are not configured
}

// PaperConfig configures the simulated broker
type PaperConfig struct {
	AutoFill    bool
	InitialCash float64
}

// R2Config holds Cloudflare R2 (S3-compatible) archive credentials
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("SFTRADER_DATA_DIR", "./data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:           absDataDir,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		Port:              getEnvAsInt("PORT", 8001),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		StrategyFile:      getEnv("STRATEGY_FILE", ""),
		RebalanceSchedule: getEnv("REBALANCE_SCHEDULE", ""),
		DryRun:            getEnvAsBool("DRY_RUN", true),
		RunRetentionDays:  getEnvAsInt("RUN_RETENTION_DAYS", 90),
		ArchiveRetention:  getEnvAsInt("ARCHIVE_RETENTION_DAYS", 365),
		Paper: PaperConfig{
			AutoFill:    getEnvAsBool("PAPER_AUTO_FILL", true),
			InitialCash: getEnvAsFloat("PAPER_INITIAL_CASH", 1_000_000),
		},
		R2: loadR2Config(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values that can never work
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return domain.NewConfigError("PORT", "must be between 1 and 65535, got %d", c.Port)
	}
	if c.RebalanceSchedule != "" {
		if _, err := cron.ParseStandard(c.RebalanceSchedule); err != nil {
			return &domain.ConfigError{Field: "REBALANCE_SCHEDULE", Err: err}
		}
	}
	if c.RunRetentionDays < 0 {
		return domain.NewConfigError("RUN_RETENTION_DAYS", "must not be negative, got %d", c.RunRetentionDays)
	}
	if c.ArchiveRetention < 0 {
		return domain.NewConfigError("ARCHIVE_RETENTION_DAYS", "must not be negative, got %d", c.ArchiveRetention)
	}
	if c.Paper.InitialCash < 0 {
		return domain.NewConfigError("PAPER_INITIAL_CASH", "must not be negative, got %v", c.Paper.InitialCash)
	}
	return nil
}

// DatabasePath returns the file path of the named database
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
}

// loadR2Config returns nil unless every credential is present
func loadR2Config() *R2Config {
	r2 := &R2Config{
		AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		BucketName:      getEnv("R2_BUCKET_NAME", ""),
	}
	if r2.AccountID == "" || r2.AccessKeyID == "" || r2.SecretAccessKey == "" || r2.BucketName == "" {
		return nil
	}
	return r2
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
