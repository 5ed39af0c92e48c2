package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/sftrader/internal/config"
	"github.com/aristath/sftrader/internal/reliability"
	"github.com/aristath/sftrader/internal/scheduler"
)

// Maintenance schedules (UTC)
const (
	walCheckSchedule          = "@every 1h"
	dailyMaintenanceSchedule  = "0 2 * * *"
	weeklyMaintenanceSchedule = "0 3 * * 0"
)

// RegisterJobs registers every job with sched. The rebalance job is always
// available to RunNow and only scheduled when a schedule is configured.
func RegisterJobs(container *Container, cfg *config.Config, sched *scheduler.Scheduler, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	instances := &JobInstances{
		Rebalance: scheduler.NewRebalanceJob(container.Rebalancing, cfg.DryRun, log),
		CheckWAL:  scheduler.NewCheckWALCheckpointsJob(container.Databases(), log),
		DailyMaintenance: reliability.NewDailyMaintenanceJob(
			container.Databases(),
			container.RunRepo,
			cfg.RunRetentionDays,
			cfg.DataDir,
			log,
		),
		WeeklyMaintenance: reliability.NewWeeklyMaintenanceJob(
			container.Databases(),
			container.Archive,
			cfg.ArchiveRetention,
			log,
		),
	}

	if cfg.RebalanceSchedule != "" {
		if err := sched.AddJob(cfg.RebalanceSchedule, instances.Rebalance); err != nil {
			return nil, err
		}
	} else {
		if err := sched.Register(instances.Rebalance); err != nil {
			return nil, err
		}
		log.Info().Msg("No rebalance schedule configured, rebalance runs on demand only")
	}

	for _, j := range []struct {
		schedule string
		job      scheduler.Job
	}{
		{walCheckSchedule, instances.CheckWAL},
		{dailyMaintenanceSchedule, instances.DailyMaintenance},
		{weeklyMaintenanceSchedule, instances.WeeklyMaintenance},
	} {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			return nil, err
		}
	}

	return instances, nil
}
