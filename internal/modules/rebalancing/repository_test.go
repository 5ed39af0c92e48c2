package rebalancing

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sftrader/internal/database"
	"github.com/aristath/sftrader/internal/domain"
	testingpkg "github.com/aristath/sftrader/internal/testing"
)

func setupRepository(t *testing.T) *RunRepository {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, database.NameRuns)
	t.Cleanup(cleanup)
	return NewRunRepository(db, zerolog.New(nil).Level(zerolog.Disabled))
}

func sampleResult(id string, started time.Time) *Result {
	return &Result{
		RunID:     id,
		TradeDate: tradeDate,
		DryRun:    true,
		Status:    StatusDryRun,
		Orders:    []domain.Order{{Ticker: "AAA", Price: 10, Shares: 5, Action: domain.ActionBuy}},
		Warnings:  []domain.Warning{{Code: domain.WarnMissingPrice, Stage: domain.StageSizing, Instrument: "BBB", Message: "no price available"}},
		StartedAt: started,
	}
}

func TestRunRepository_SaveAndGet(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	res := sampleResult("run-1", time.Date(2024, 6, 14, 21, 0, 0, 0, time.UTC))
	require.NoError(t, repo.Save(ctx, res))

	got, err := repo.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, res.Orders, got.Orders)
	assert.Equal(t, res.Warnings, got.Warnings)
	assert.True(t, got.TradeDate.Equal(tradeDate))
}

func TestRunRepository_SaveReplaces(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	res := sampleResult("run-1", time.Now())
	require.NoError(t, repo.Save(ctx, res))
	res.Status = StatusFailed
	res.Error = "late failure"
	require.NoError(t, repo.Save(ctx, res))

	records, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, StatusFailed, records[0].Status)
	assert.Equal(t, 1, records[0].NumOrders)
	assert.Equal(t, 1, records[0].NumWarnings)
}

func TestRunRepository_LatestAndList(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	_, err := repo.Latest(ctx)
	assert.ErrorIs(t, err, ErrRunNotFound)

	base := time.Date(2024, 6, 14, 21, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, repo.Save(ctx, sampleResult(id, base.Add(time.Duration(i)*time.Hour))))
	}

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-c", latest.RunID)

	records, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "run-c", records[0].ID)
	assert.Equal(t, "run-b", records[1].ID)
	assert.Equal(t, "2024-06-14", records[0].TradeDate)
	assert.True(t, records[0].DryRun)
}

func TestRunRepository_Prune(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -100)
	require.NoError(t, repo.Save(ctx, sampleResult("old", old)))
	require.NoError(t, repo.Save(ctx, sampleResult("new", time.Now())))

	removed, err := repo.Prune(ctx, time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = repo.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
