package reliability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/sftrader/internal/database"
)

// Disk thresholds in GB
const (
	diskCriticalGB = 0.5
	diskLowGB      = 5.0
)

// RunPruner deletes stored runs created before a cutoff
type RunPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// DailyMaintenanceJob checks database health, truncates WAL files, watches
// disk space and prunes old run history.
type DailyMaintenanceJob struct {
	databases     map[string]*database.DB
	runs          RunPruner
	retentionDays int
	dataDir       string
	diskUsage     func(ctx context.Context, path string) (*disk.UsageStat, error)
	now           func() time.Time
	log           zerolog.Logger
}

// NewDailyMaintenanceJob creates a new daily maintenance job
func NewDailyMaintenanceJob(
	databases map[string]*database.DB,
	runs RunPruner,
	retentionDays int,
	dataDir string,
	log zerolog.Logger,
) *DailyMaintenanceJob {
	return &DailyMaintenanceJob{
		databases:     databases,
		runs:          runs,
		retentionDays: retentionDays,
		dataDir:       dataDir,
		diskUsage:     disk.UsageWithContext,
		now:           time.Now,
		log:           log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Run executes the daily maintenance job
func (j *DailyMaintenanceJob) Run(ctx context.Context) error {
	j.log.Info().Msg("Starting daily maintenance")
	startTime := time.Now()

	for _, name := range sortedNames(j.databases) {
		db := j.databases[name]
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Str("database", name).Err(err).Msg("Database failed integrity check")
			return fmt.Errorf("failed integrity check of %s: %w", name, err)
		}

		// A failed checkpoint only means a larger WAL until the next one
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Str("database", name).Err(err).Msg("WAL checkpoint failed")
		}
	}

	if err := j.checkDiskSpace(ctx); err != nil {
		return err
	}

	if j.runs != nil && j.retentionDays > 0 {
		cutoff := j.now().AddDate(0, 0, -j.retentionDays)
		removed, err := j.runs.Prune(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune run history: %w", err)
		}
		j.log.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("Pruned run history")
	}

	j.logDatabaseSizes()

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Daily maintenance completed successfully")
	return nil
}

// Name returns the job name for scheduler
func (j *DailyMaintenanceJob) Name() string {
	return "daily_maintenance"
}

func (j *DailyMaintenanceJob) checkDiskSpace(ctx context.Context) error {
	usage, err := j.diskUsage(ctx, j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableGB := float64(usage.Free) / 1e9
	j.log.Debug().
		Float64("available_gb", availableGB).
		Float64("used_percent", usage.UsedPercent).
		Msg("Disk space check")

	if availableGB < diskCriticalGB {
		j.log.Error().Float64("available_gb", availableGB).Msg("Insufficient disk space")
		return fmt.Errorf("only %.2f GB free in %s", availableGB, j.dataDir)
	}
	if availableGB < diskLowGB {
		j.log.Warn().Float64("available_gb", availableGB).Msg("Disk space running low")
	}
	return nil
}

func (j *DailyMaintenanceJob) logDatabaseSizes() {
	for _, name := range sortedNames(j.databases) {
		stats, err := j.databases[name].GetStats()
		if err != nil {
			j.log.Warn().Str("database", name).Err(err).Msg("Failed to read database stats")
			continue
		}
		j.log.Info().
			Str("database", name).
			Int64("size_bytes", stats.SizeBytes).
			Int64("wal_bytes", stats.WALSizeBytes).
			Int64("free_pages", stats.FreelistCount).
			Msg("Database size")
	}
}

// WeeklyMaintenanceJob vacuums the rewritable databases and rotates the
// run archive.
type WeeklyMaintenanceJob struct {
	databases        map[string]*database.DB
	archive          *RunArchive
	archiveRetention int
	log              zerolog.Logger
}

// NewWeeklyMaintenanceJob creates a new weekly maintenance job
func NewWeeklyMaintenanceJob(
	databases map[string]*database.DB,
	archive *RunArchive,
	archiveRetention int,
	log zerolog.Logger,
) *WeeklyMaintenanceJob {
	return &WeeklyMaintenanceJob{
		databases:        databases,
		archive:          archive,
		archiveRetention: archiveRetention,
		log:              log.With().Str("job", "weekly_maintenance").Logger(),
	}
}

// Run executes the weekly maintenance job
func (j *WeeklyMaintenanceJob) Run(ctx context.Context) error {
	j.log.Info().Msg("Starting weekly maintenance")
	startTime := time.Now()

	for _, name := range sortedNames(j.databases) {
		// The broker database is the order ledger and only grows
		if name == database.NameBroker {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := j.vacuumDatabase(ctx, j.databases[name], name); err != nil {
			j.log.Error().Str("database", name).Err(err).Msg("VACUUM failed")
		}
	}

	if _, err := j.archive.Rotate(ctx, j.archiveRetention); err != nil {
		return fmt.Errorf("failed to rotate run archive: %w", err)
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Weekly maintenance completed")
	return nil
}

// Name returns the job name for scheduler
func (j *WeeklyMaintenanceJob) Name() string {
	return "weekly_maintenance"
}

func (j *WeeklyMaintenanceJob) vacuumDatabase(ctx context.Context, db *database.DB, name string) error {
	before, _ := db.GetStats()

	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("VACUUM failed: %w", err)
	}

	after, _ := db.GetStats()
	if before != nil && after != nil {
		j.log.Info().
			Str("database", name).
			Int64("size_before", before.SizeBytes).
			Int64("size_after", after.SizeBytes).
			Int64("reclaimed", before.SizeBytes-after.SizeBytes).
			Msg("VACUUM completed")
	}
	return nil
}

func sortedNames(databases map[string]*database.DB) []string {
	names := make([]string, 0, len(databases))
	for name := range databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
