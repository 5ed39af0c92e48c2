package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/sftrader/internal/database"
)

// walFramesWarning is the WAL size, in frames, above which a warning is logged
const walFramesWarning = 1000

// WALStatus is the result of a passive checkpoint on one database
type WALStatus struct {
	Database     string `json:"database"`
	Busy         bool   `json:"busy"`
	Frames       int    `json:"frames"`
	Checkpointed int    `json:"checkpointed"`
}

// CheckWALCheckpointsJob runs a passive checkpoint on every database and
// warns when a WAL file keeps growing
type CheckWALCheckpointsJob struct {
	databases map[string]*database.DB
	last      []WALStatus
	log       zerolog.Logger
}

// NewCheckWALCheckpointsJob creates a new CheckWALCheckpointsJob
func NewCheckWALCheckpointsJob(databases map[string]*database.DB, log zerolog.Logger) *CheckWALCheckpointsJob {
	return &CheckWALCheckpointsJob{
		databases: databases,
		log:       log.With().Str("job", "check_wal_checkpoints").Logger(),
	}
}

// Name returns the job name
func (j *CheckWALCheckpointsJob) Name() string {
	return "check_wal_checkpoints"
}

// Last returns the statuses from the most recent run
func (j *CheckWALCheckpointsJob) Last() []WALStatus {
	return j.last
}

// Run executes the check WAL checkpoints job
func (j *CheckWALCheckpointsJob) Run(ctx context.Context) error {
	statuses := make([]WALStatus, 0, len(j.databases))
	failed := 0

	for _, name := range sortedNames(j.databases) {
		db := j.databases[name]
		if db == nil {
			continue
		}

		// PRAGMA wal_checkpoint returns: busy, log, checkpointed
		var busy, frames, checkpointed int
		err := db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed)
		if err != nil {
			j.log.Warn().
				Err(err).
				Str("database", name).
				Msg("Failed to check WAL checkpoint")
			failed++
			continue
		}

		if frames > walFramesWarning {
			j.log.Warn().
				Str("database", name).
				Int("wal_frames", frames).
				Int("checkpointed", checkpointed).
				Msg("WAL file is large, checkpoint may be needed")
		} else {
			j.log.Debug().
				Str("database", name).
				Int("wal_frames", frames).
				Msg("WAL checkpoint status OK")
		}

		statuses = append(statuses, WALStatus{
			Database:     name,
			Busy:         busy != 0,
			Frames:       frames,
			Checkpointed: checkpointed,
		})
	}

	j.last = statuses
	j.log.Info().
		Int("checked", len(statuses)).
		Msg("WAL checkpoint check completed")

	if failed > 0 && len(statuses) == 0 {
		return fmt.Errorf("failed to check WAL on all %d databases", failed)
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
