// Package di wires sftrader's databases, clients, services and jobs.
package di

import (
	"github.com/aristath/sftrader/internal/clients/marketdata"
	"github.com/aristath/sftrader/internal/clients/paper"
	"github.com/aristath/sftrader/internal/config"
	"github.com/aristath/sftrader/internal/database"
	"github.com/aristath/sftrader/internal/events"
	"github.com/aristath/sftrader/internal/metrics"
	"github.com/aristath/sftrader/internal/modules/optimization"
	"github.com/aristath/sftrader/internal/modules/rebalancing"
	"github.com/aristath/sftrader/internal/reliability"
	"github.com/aristath/sftrader/internal/scheduler"
)

// Container holds all application dependencies. It is created by Wire and
// is the single source of truth for service instances.
type Container struct {
	// Databases
	MarketDB *database.DB
	CacheDB  *database.DB
	BrokerDB *database.DB
	RunsDB   *database.DB

	// Clients
	MarketData *marketdata.Store
	Broker     *paper.Broker
	Archive    *reliability.RunArchive

	// Services
	Strategy     *config.Strategy
	Optimizer    *optimization.MVOptimizer
	EventBus     *events.Bus
	EventManager *events.Manager
	Metrics      *metrics.Metrics
	RunRepo      *rebalancing.RunRepository
	Rebalancing  *rebalancing.Service
}

// Databases returns every open database keyed by name
func (c *Container) Databases() map[string]*database.DB {
	dbs := make(map[string]*database.DB, 4)
	for name, db := range map[string]*database.DB{
		database.NameMarket: c.MarketDB,
		database.NameCache:  c.CacheDB,
		database.NameBroker: c.BrokerDB,
		database.NameRuns:   c.RunsDB,
	} {
		if db != nil {
			dbs[name] = db
		}
	}
	return dbs
}

// Close closes every open database
func (c *Container) Close() {
	for _, db := range c.Databases() {
		_ = db.Close()
	}
}

// JobInstances holds the jobs registered with the scheduler, for manual
// triggering and inspection
type JobInstances struct {
	Rebalance         *scheduler.RebalanceJob
	CheckWAL          *scheduler.CheckWALCheckpointsJob
	DailyMaintenance  *reliability.DailyMaintenanceJob
	WeeklyMaintenance *reliability.WeeklyMaintenanceJob
}
