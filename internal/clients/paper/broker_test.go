package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sftrader/internal/database"
	"github.com/aristath/sftrader/internal/domain"
	testingpkg "github.com/aristath/sftrader/internal/testing"
)

type staticQuotes struct {
	prices domain.Prices
	err    error
}

func (q staticQuotes) Prices(ctx context.Context, date time.Time) (domain.Prices, error) {
	return q.prices, q.err
}

func setupBroker(t *testing.T, opts Options) *Broker {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, database.NameBroker)
	t.Cleanup(cleanup)
	return NewBroker(db, opts, zerolog.Nop())
}

func connect(t *testing.T, b *Broker) domain.BrokerSession {
	t.Helper()
	s, err := b.Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConnect_FundsAccountOnce(t *testing.T) {
	b := setupBroker(t, Options{InitialCash: 10000})
	ctx := context.Background()

	s := connect(t, b)
	value, err := s.AccountValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, value)

	require.NoError(t, b.SetCash(ctx, 2500))
	s2 := connect(t, b)
	value, err = s2.AccountValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2500.0, value, "reconnecting must not refund the account")
}

func TestConnect_RefreshesQuotes(t *testing.T) {
	b := setupBroker(t, Options{Quotes: staticQuotes{prices: domain.Prices{"AAA": 10, "BBB": 20}}})
	s := connect(t, b)

	prices, err := s.Prices(context.Background(), []domain.Ticker{"AAA", "BBB", "CCC"})
	require.NoError(t, err)
	assert.Equal(t, domain.Prices{"AAA": 10, "BBB": 20}, prices)
}

func TestConnect_QuoteSourceError(t *testing.T) {
	boom := errors.New("feed down")
	b := setupBroker(t, Options{Quotes: staticQuotes{err: boom}})

	_, err := b.Connect(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestAccountValue_MarksPositions(t *testing.T) {
	b := setupBroker(t, Options{InitialCash: 1000})
	ctx := context.Background()

	require.NoError(t, b.SetQuotes(ctx, domain.Prices{"AAA": 10}))
	require.NoError(t, b.SetPosition(ctx, "AAA", 5))
	require.NoError(t, b.SetPosition(ctx, "NOQ", 7))

	s := connect(t, b)
	value, err := s.AccountValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1050.0, value)

	positions, err := s.Positions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Holding{{Ticker: "AAA", Shares: 5}, {Ticker: "NOQ", Shares: 7}}, positions)
}

func TestSubmitOrders_AutoFill(t *testing.T) {
	b := setupBroker(t, Options{InitialCash: 1000, AutoFill: true})
	ctx := context.Background()
	require.NoError(t, b.SetPosition(ctx, "BBB", 4))

	s := connect(t, b)
	outcomes, err := s.SubmitOrders(ctx, []domain.SubmitRequest{
		{Order: domain.Order{Ticker: "AAA", Price: 10, Shares: 3, Action: domain.ActionBuy}, LimitPrice: 10.01},
		{Order: domain.Order{Ticker: "BBB", Price: 20, Shares: 4, Action: domain.ActionSell}, LimitPrice: 19.99},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	for _, o := range outcomes {
		assert.Equal(t, domain.OrderStatusFilled, o.Status)
		assert.NotEmpty(t, o.OrderID)
	}
	assert.NotEqual(t, outcomes[0].OrderID, outcomes[1].OrderID)

	positions, err := s.Positions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Holding{{Ticker: "AAA", Shares: 3}}, positions)

	var cash float64
	require.NoError(t, b.db.QueryRowContext(ctx, "SELECT value FROM account WHERE key = 'cash'").Scan(&cash))
	assert.InDelta(t, 1000-3*10.01+4*19.99, cash, 1e-9)
}

func TestSubmitOrders_RejectsInvalid(t *testing.T) {
	b := setupBroker(t, Options{})
	s := connect(t, b)

	outcomes, err := s.SubmitOrders(context.Background(), []domain.SubmitRequest{
		{Order: domain.Order{Ticker: "AAA", Shares: 1, Action: domain.ActionHold}, LimitPrice: 10},
		{Order: domain.Order{Ticker: "AAA", Shares: 0, Action: domain.ActionBuy}, LimitPrice: 10},
		{Order: domain.Order{Ticker: "AAA", Shares: 1, Action: domain.ActionBuy}, LimitPrice: 0},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.Equal(t, domain.OrderStatusRejected, o.Status)
		assert.Empty(t, o.OrderID)
		assert.NotEmpty(t, o.Error)
	}
}

func TestCancelOpenOrders(t *testing.T) {
	b := setupBroker(t, Options{})
	ctx := context.Background()
	s := connect(t, b)

	submitted, err := s.SubmitOrders(ctx, []domain.SubmitRequest{
		{Order: domain.Order{Ticker: "AAA", Shares: 2, Action: domain.ActionBuy}, LimitPrice: 10},
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusOpen, submitted[0].Status)

	cancelled, err := s.CancelOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, submitted[0].OrderID, cancelled[0].OrderID)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled[0].Status)

	again, err := s.CancelOpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)

	positions, err := s.Positions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions, "open orders never move shares")
}

func TestSession_ClosedRejectsCalls(t *testing.T) {
	b := setupBroker(t, Options{})
	ctx := context.Background()

	s, err := b.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Positions(ctx)
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	_, err = s.Prices(ctx, []domain.Ticker{"AAA"})
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	_, err = s.AccountValue(ctx)
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	_, err = s.SubmitOrders(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	_, err = s.CancelOpenOrders(ctx)
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}
