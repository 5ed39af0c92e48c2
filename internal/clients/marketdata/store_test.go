package marketdata

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sftrader/internal/database"
	"github.com/aristath/sftrader/internal/domain"
	testingpkg "github.com/aristath/sftrader/internal/testing"
)

var tradeDate = time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) (*Store, *testingpkg.MarketFixture) {
	t.Helper()

	market, cleanupMarket := testingpkg.NewTestDB(t, database.NameMarket)
	t.Cleanup(cleanupMarket)
	cache, cleanupCache := testingpkg.NewTestDB(t, database.NameCache)
	t.Cleanup(cleanupCache)

	store := NewStore(market, cache, zerolog.Nop())
	fixture := testingpkg.NewMarketFixture(tradeDate, 40)

	ctx := context.Background()
	require.NoError(t, store.UpsertObservations(ctx, fixture.Observations().Rows))
	require.NoError(t, store.UpsertBenchmark(ctx, tradeDate, fixture.Benchmark()))
	require.NoError(t, store.UpsertPrices(ctx, tradeDate, fixture.Prices()))

	return store, fixture
}

func TestStore_Observations(t *testing.T) {
	store, fixture := setupStore(t)

	start := fixture.Dates[30]
	obs, err := store.Observations(context.Background(), start, tradeDate)
	require.NoError(t, err)

	assert.True(t, obs.HasColumn(domain.ColumnSpecificRisk))
	assert.Len(t, obs.Rows, 10*len(fixture.Instruments))

	first := obs.Rows[0]
	assert.Equal(t, domain.RiskID("R001"), first.RiskID)
	assert.Equal(t, domain.Ticker("AAPL"), first.Ticker)
	assert.Equal(t, start, first.Date)
	assert.InDelta(t, fixture.Return(0, 30), first.Return, 1e-12)
	require.NotNil(t, first.PredictedBeta)
	assert.InDelta(t, 1.10, *first.PredictedBeta, 1e-12)
}

func TestStore_ObservationsNullColumns(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	day := tradeDate.AddDate(0, 0, 3)
	require.NoError(t, store.UpsertObservations(ctx, []domain.Observation{
		{Date: day, RiskID: "R009", Ticker: "NEW", Return: 0.01},
	}))

	obs, err := store.Observations(ctx, day, day)
	require.NoError(t, err)
	require.Len(t, obs.Rows, 1)
	assert.Nil(t, obs.Rows[0].PredictedBeta)
	assert.Nil(t, obs.Rows[0].SpecificRisk)
	assert.InDelta(t, 0.01, obs.Rows[0].Return, 1e-12)
}

func TestStore_BenchmarkAndIDMap(t *testing.T) {
	store, fixture := setupStore(t)
	ctx := context.Background()

	bench, err := store.Benchmark(ctx, tradeDate)
	require.NoError(t, err)
	assert.ElementsMatch(t, fixture.Benchmark(), bench)

	// Weekend date resolves to the previous trading day's mapping
	ids, err := store.IDMap(ctx, tradeDate.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, len(fixture.Instruments), ids.Len())

	rid, err := ids.RiskID("BRK.B")
	require.NoError(t, err)
	assert.Equal(t, domain.RiskID("R004"), rid)
}

func TestStore_PricesKeepNullsAsMissing(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	next := tradeDate.AddDate(0, 0, 3)
	require.NoError(t, store.UpsertPrices(ctx, next, domain.Prices{"AAPL": 191, "XOM": math.NaN()}))

	prices, err := store.Prices(ctx, next)
	require.NoError(t, err)
	assert.Len(t, prices, 2)

	_, ok := prices.Get("XOM")
	assert.False(t, ok)
	p, ok := prices.Get("AAPL")
	assert.True(t, ok)
	assert.Equal(t, 191.0, p)

	// Earlier date still sees its own snapshot
	old, err := store.Prices(ctx, tradeDate)
	require.NoError(t, err)
	assert.Len(t, old, 5)
}
