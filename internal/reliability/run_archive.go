package reliability

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	runPrefix = "runs/"

	// Rotation never drops below this many archived runs
	minRunsToKeep = 3
)

// ArchivedRun describes one run stored in the bucket
type ArchivedRun struct {
	Key       string    `json:"key"`
	RunID     string    `json:"run_id"`
	TradeDate time.Time `json:"trade_date"`
	SizeBytes int64     `json:"size_bytes"`
	Modified  time.Time `json:"modified"`
}

// RunArchive keeps a JSON copy of every rebalance run in object storage.
// A RunArchive without a store does nothing.
type RunArchive struct {
	store ObjectStore
	now   func() time.Time
	log   zerolog.Logger
}

// NewRunArchive creates a run archive on top of store (which may be nil)
func NewRunArchive(store ObjectStore, log zerolog.Logger) *RunArchive {
	return &RunArchive{
		store: store,
		now:   time.Now,
		log:   log.With().Str("service", "run_archive").Logger(),
	}
}

// Enabled reports whether runs are actually uploaded
func (a *RunArchive) Enabled() bool {
	return a != nil && a.store != nil
}

// Put uploads data under key
func (a *RunArchive) Put(ctx context.Context, key string, data []byte) error {
	if !a.Enabled() {
		return nil
	}
	if !strings.HasPrefix(key, runPrefix) {
		return fmt.Errorf("archive key %q must start with %q", key, runPrefix)
	}

	if err := a.store.Upload(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("failed to archive run: %w", err)
	}

	a.log.Info().Str("key", key).Int("size", len(data)).Msg("Archived run")
	return nil
}

// List returns archived runs, newest trade date first
func (a *RunArchive) List(ctx context.Context) ([]ArchivedRun, error) {
	if !a.Enabled() {
		return nil, nil
	}

	objects, err := a.store.List(ctx, runPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived runs: %w", err)
	}

	runs := make([]ArchivedRun, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		run, ok := parseRunKey(*obj.Key)
		if !ok {
			a.log.Warn().Str("key", *obj.Key).Msg("Skipping unrecognised archive key")
			continue
		}
		if obj.Size != nil {
			run.SizeBytes = *obj.Size
		}
		if obj.LastModified != nil {
			run.Modified = *obj.LastModified
		}
		runs = append(runs, run)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].TradeDate.Equal(runs[j].TradeDate) {
			return runs[i].Modified.After(runs[j].Modified)
		}
		return runs[i].TradeDate.After(runs[j].TradeDate)
	})
	return runs, nil
}

// Rotate deletes archived runs whose trade date is older than retentionDays.
// The newest minRunsToKeep runs are always kept and a retention of zero keeps
// everything. Returns the number of deleted objects.
func (a *RunArchive) Rotate(ctx context.Context, retentionDays int) (int, error) {
	if !a.Enabled() || retentionDays <= 0 {
		return 0, nil
	}

	runs, err := a.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(runs) <= minRunsToKeep {
		a.log.Debug().Int("count", len(runs)).Msg("Too few archived runs to rotate")
		return 0, nil
	}

	cutoff := a.now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, run := range runs[minRunsToKeep:] {
		if !run.TradeDate.Before(cutoff) {
			continue
		}
		if err := a.store.Delete(ctx, run.Key); err != nil {
			a.log.Error().Err(err).Str("key", run.Key).Msg("Failed to delete archived run")
			continue
		}
		deleted++
	}

	a.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(runs)-deleted).
		Msg("Archive rotation completed")
	return deleted, nil
}

// parseRunKey parses runs/YYYY/MM/DD/<run id>.json
func parseRunKey(key string) (ArchivedRun, bool) {
	rest := strings.TrimPrefix(key, runPrefix)
	dir, file := path.Split(rest)
	if !strings.HasSuffix(file, ".json") || len(file) == len(".json") {
		return ArchivedRun{}, false
	}

	date, err := time.Parse("2006/01/02/", dir)
	if err != nil {
		return ArchivedRun{}, false
	}

	return ArchivedRun{
		Key:       key,
		RunID:     strings.TrimSuffix(file, ".json"),
		TradeDate: date,
	}, true
}
