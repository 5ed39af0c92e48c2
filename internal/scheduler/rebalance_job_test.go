package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sftrader/internal/modules/rebalancing"
)

type stubRunner struct {
	dates  []time.Time
	dryRun []bool
	res    *rebalancing.Result
	err    error
}

func (r *stubRunner) Run(ctx context.Context, tradeDate time.Time, dryRun bool) (*rebalancing.Result, error) {
	r.dates = append(r.dates, tradeDate)
	r.dryRun = append(r.dryRun, dryRun)
	return r.res, r.err
}

func newRebalanceJob(runner RebalanceRunner, dryRun bool, now time.Time) *RebalanceJob {
	job := NewRebalanceJob(runner, dryRun, zerolog.Nop())
	job.now = func() time.Time { return now }
	return job
}

func TestRebalanceJob_RunsForTodayUTC(t *testing.T) {
	runner := &stubRunner{res: &rebalancing.Result{RunID: "r1", Status: rebalancing.StatusDryRun}}
	// 23:30 in New York on Thursday is already Friday in UTC
	ny := time.FixedZone("EDT", -4*3600)
	job := newRebalanceJob(runner, true, time.Date(2024, 6, 13, 23, 30, 0, 0, ny))

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, runner.dates, 1)
	assert.Equal(t, time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC), runner.dates[0])
	assert.True(t, runner.dryRun[0])
	assert.Equal(t, "r1", job.LastResult().RunID)
	assert.Equal(t, "rebalance", job.Name())
}

func TestRebalanceJob_SkipsWeekends(t *testing.T) {
	runner := &stubRunner{}
	job := newRebalanceJob(runner, false, time.Date(2024, 6, 15, 21, 0, 0, 0, time.UTC))

	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, runner.dates)
	assert.Nil(t, job.LastResult())
}

func TestRebalanceJob_Error(t *testing.T) {
	failed := &rebalancing.Result{RunID: "r2", Status: rebalancing.StatusFailed}
	runner := &stubRunner{res: failed, err: errors.New("broker offline")}
	job := newRebalanceJob(runner, false, time.Date(2024, 6, 14, 21, 0, 0, 0, time.UTC))

	err := job.Run(context.Background())
	assert.ErrorContains(t, err, "failed to rebalance for 2024-06-14")
	assert.ErrorContains(t, err, "broker offline")
	assert.False(t, runner.dryRun[0])
	assert.Same(t, failed, job.LastResult())
}
