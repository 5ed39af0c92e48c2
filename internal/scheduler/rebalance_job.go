package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sftrader/internal/modules/rebalancing"
)

// RebalanceRunner runs the daily pipeline for a trade date
type RebalanceRunner interface {
	Run(ctx context.Context, tradeDate time.Time, dryRun bool) (*rebalancing.Result, error)
}

// RebalanceJob runs the rebalancing pipeline for today's UTC date.
// Weekends are skipped since no closing prices exist for them.
type RebalanceJob struct {
	runner RebalanceRunner
	dryRun bool
	now    func() time.Time
	last   *rebalancing.Result
	log    zerolog.Logger
}

// NewRebalanceJob creates a new RebalanceJob
func NewRebalanceJob(runner RebalanceRunner, dryRun bool, log zerolog.Logger) *RebalanceJob {
	return &RebalanceJob{
		runner: runner,
		dryRun: dryRun,
		now:    time.Now,
		log:    log.With().Str("job", "rebalance").Logger(),
	}
}

// Name returns the job name
func (j *RebalanceJob) Name() string {
	return "rebalance"
}

// LastResult returns the result of the most recent run, or nil
func (j *RebalanceJob) LastResult() *rebalancing.Result {
	return j.last
}

// Run executes the rebalance job
func (j *RebalanceJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	tradeDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	if wd := tradeDate.Weekday(); wd == time.Saturday || wd == time.Sunday {
		j.log.Info().Str("weekday", wd.String()).Msg("Market closed, skipping rebalance")
		return nil
	}

	res, err := j.runner.Run(ctx, tradeDate, j.dryRun)
	if res != nil {
		j.last = res
	}
	if err != nil {
		return fmt.Errorf("failed to rebalance for %s: %w", tradeDate.Format("2006-01-02"), err)
	}

	j.log.Info().
		Str("run_id", res.RunID).
		Str("status", res.Status).
		Int("orders", len(res.Orders)).
		Int("warnings", len(res.Warnings)).
		Msg("Scheduled rebalance finished")
	return nil
}
