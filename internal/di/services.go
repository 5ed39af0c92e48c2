package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/sftrader/internal/clients/marketdata"
	"github.com/aristath/sftrader/internal/clients/paper"
	"github.com/aristath/sftrader/internal/config"
	"github.com/aristath/sftrader/internal/events"
	"github.com/aristath/sftrader/internal/metrics"
	"github.com/aristath/sftrader/internal/modules/optimization"
	"github.com/aristath/sftrader/internal/modules/rebalancing"
	"github.com/aristath/sftrader/internal/reliability"
)

// InitializeServices builds clients and services on top of the databases
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	strategy, err := config.LoadStrategy(cfg.StrategyFile)
	if err != nil {
		return fmt.Errorf("failed to load strategy: %w", err)
	}
	container.Strategy = strategy

	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)
	container.Metrics = metrics.New()

	container.MarketData = marketdata.NewStore(container.MarketDB, container.CacheDB, log)
	container.Broker = paper.NewBroker(container.BrokerDB, paper.Options{
		AutoFill:    cfg.Paper.AutoFill,
		InitialCash: cfg.Paper.InitialCash,
		Quotes:      container.MarketData,
	}, log)
	container.Optimizer = optimization.NewMVOptimizer(log)

	var store reliability.ObjectStore
	if cfg.R2 != nil {
		client, err := reliability.NewR2Client(cfg.R2.AccountID, cfg.R2.AccessKeyID, cfg.R2.SecretAccessKey, cfg.R2.BucketName, log)
		if err != nil {
			return fmt.Errorf("failed to create r2 client: %w", err)
		}
		store = client
		log.Info().Str("bucket", cfg.R2.BucketName).Msg("Run archive enabled")
	}
	container.Archive = reliability.NewRunArchive(store, log)

	container.RunRepo = rebalancing.NewRunRepository(container.RunsDB, log)
	container.Rebalancing = rebalancing.NewService(
		container.MarketData,
		container.Broker,
		container.Optimizer,
		container.Strategy,
		container.RunRepo,
		container.EventManager,
		container.Metrics,
		log,
	)
	if container.Archive.Enabled() {
		container.Rebalancing.SetArchive(container.Archive)
	}

	return nil
}
