package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/aristath/sftrader/internal/config"
	"github.com/aristath/sftrader/internal/di"
	"github.com/aristath/sftrader/pkg/logger"
)

// setup loads configuration and wires the container. Logs go to stderr so
// reports on stdout stay clean.
func setup() (*config.Config, *di.Container, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, zerolog.Nop(), fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
		Output: os.Stderr,
	})
	logger.SetGlobalLogger(log)

	container, err := di.Wire(cfg, log)
	if err != nil {
		return nil, nil, log, err
	}
	return cfg, container, log, nil
}
