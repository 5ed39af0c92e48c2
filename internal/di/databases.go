package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/sftrader/internal/config"
	"github.com/aristath/sftrader/internal/database"
)

// InitializeDatabases opens the four databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	specs := []struct {
		name    string
		profile database.DatabaseProfile
		target  **database.DB
	}{
		{database.NameMarket, database.ProfileStandard, &container.MarketDB},
		{database.NameCache, database.ProfileCache, &container.CacheDB},
		// The broker database is the order ledger
		{database.NameBroker, database.ProfileLedger, &container.BrokerDB},
		{database.NameRuns, database.ProfileStandard, &container.RunsDB},
	}

	for _, spec := range specs {
		db, err := database.New(database.Config{
			Path:    cfg.DatabasePath(spec.name),
			Profile: spec.profile,
			Name:    spec.name,
		})
		if err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to initialize %s database: %w", spec.name, err)
		}
		*spec.target = db

		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", spec.name, err)
		}
		log.Debug().Str("database", spec.name).Str("profile", string(spec.profile)).Msg("Database ready")
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized")
	return container, nil
}
