// Package paper implements a simulated brokerage account on SQLite.
package paper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/sftrader/internal/database"
	"github.com/aristath/sftrader/internal/domain"
)

const cashKey = "cash"

// QuoteSource supplies end-of-day prices used to mark the account.
type QuoteSource interface {
	Prices(ctx context.Context, date time.Time) (domain.Prices, error)
}

// Options configures the paper broker.
type Options struct {
	// AutoFill fills every accepted order immediately at its limit price.
	AutoFill bool
	// InitialCash seeds an account that has never been funded.
	InitialCash float64
	// Quotes, when set, refreshes the quote table on every Connect.
	Quotes QuoteSource
}

// Broker is a domain.BrokerConnector backed by the broker database.
type Broker struct {
	db   *database.DB
	opts Options
	now  func() time.Time
	log  zerolog.Logger
}

var _ domain.BrokerConnector = (*Broker)(nil)

// NewBroker creates a paper broker on db, which must carry the broker schema.
func NewBroker(db *database.DB, opts Options, log zerolog.Logger) *Broker {
	return &Broker{
		db:   db,
		opts: opts,
		now:  time.Now,
		log:  log.With().Str("client", "paper").Logger(),
	}
}

// Connect opens a session. The account is funded with InitialCash on first
// use and quotes are refreshed when a quote source is configured.
func (b *Broker) Connect(ctx context.Context) (domain.BrokerSession, error) {
	if err := b.db.QuickCheck(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to paper broker: %w", err)
	}

	if _, err := b.db.ExecContext(ctx,
		"INSERT INTO account (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING",
		cashKey, b.opts.InitialCash); err != nil {
		return nil, fmt.Errorf("failed to initialize account: %w", err)
	}

	if b.opts.Quotes != nil {
		prices, err := b.opts.Quotes.Prices(ctx, b.now())
		if err != nil {
			return nil, fmt.Errorf("failed to refresh quotes: %w", err)
		}
		if err := b.SetQuotes(ctx, prices); err != nil {
			return nil, err
		}
	}

	s := &session{broker: b, id: uuid.NewString()}
	b.log.Debug().Str("session", s.id).Msg("Paper session opened")
	return s, nil
}

// SetQuotes upserts quotes. Missing and NaN prices are skipped.
func (b *Broker) SetQuotes(ctx context.Context, prices domain.Prices) error {
	return database.WithTransaction(ctx, b.db.Conn(), func(tx *sql.Tx) error {
		for _, t := range prices.Tickers() {
			p, ok := prices.Get(t)
			if !ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO quotes (ticker, price) VALUES (?, ?)
				ON CONFLICT (ticker) DO UPDATE SET price = excluded.price`,
				string(t), p); err != nil {
				return fmt.Errorf("failed to store quote %s: %w", t, err)
			}
		}
		return nil
	})
}

// SetPosition overwrites the holding of ticker.
func (b *Broker) SetPosition(ctx context.Context, ticker domain.Ticker, shares float64) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO positions (ticker, shares) VALUES (?, ?)
		ON CONFLICT (ticker) DO UPDATE SET shares = excluded.shares`,
		string(ticker), shares)
	if err != nil {
		return fmt.Errorf("failed to set position %s: %w", ticker, err)
	}
	return nil
}

// SetCash overwrites the cash balance.
func (b *Broker) SetCash(ctx context.Context, cash float64) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO account (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		cashKey, cash)
	if err != nil {
		return fmt.Errorf("failed to set cash: %w", err)
	}
	return nil
}

// session is a scoped connection. Every method fails with
// domain.ErrSessionClosed after Close.
type session struct {
	broker *Broker
	id     string

	mu     sync.Mutex
	closed bool
}

func (s *session) acquire() (*Broker, func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, domain.ErrSessionClosed
	}
	return s.broker, s.mu.Unlock, nil
}

func (s *session) Prices(ctx context.Context, tickers []domain.Ticker) (domain.Prices, error) {
	b, release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	quotes, err := b.quotes(ctx)
	if err != nil {
		return nil, err
	}

	out := make(domain.Prices, len(tickers))
	for _, t := range tickers {
		if p, ok := quotes[t]; ok {
			out[t] = p
		}
	}
	return out, nil
}

func (s *session) Positions(ctx context.Context) ([]domain.Holding, error) {
	b, release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := b.db.QueryContext(ctx, "SELECT ticker, shares FROM positions WHERE shares != 0 ORDER BY ticker")
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Holding
	for rows.Next() {
		var h domain.Holding
		if err := rows.Scan(&h.Ticker, &h.Shares); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// AccountValue is cash plus every position marked at its quote. Positions
// without a quote are left out and logged.
func (s *session) AccountValue(ctx context.Context) (float64, error) {
	b, release, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	var cash float64
	if err := b.db.QueryRowContext(ctx, "SELECT value FROM account WHERE key = ?", cashKey).Scan(&cash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("paper account is not initialized")
		}
		return 0, fmt.Errorf("failed to read cash: %w", err)
	}

	quotes, err := b.quotes(ctx)
	if err != nil {
		return 0, err
	}

	rows, err := b.db.QueryContext(ctx, "SELECT ticker, shares FROM positions WHERE shares != 0")
	if err != nil {
		return 0, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	value := cash
	for rows.Next() {
		var (
			ticker string
			shares float64
		)
		if err := rows.Scan(&ticker, &shares); err != nil {
			return 0, fmt.Errorf("failed to scan position: %w", err)
		}
		price, ok := quotes[domain.Ticker(ticker)]
		if !ok {
			b.log.Warn().Str("ticker", ticker).Msg("Position has no quote, excluded from account value")
			continue
		}
		value += shares * price
	}
	return value, rows.Err()
}

func (s *session) SubmitOrders(ctx context.Context, orders []domain.SubmitRequest) ([]domain.OrderOutcome, error) {
	b, release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	outcomes := make([]domain.OrderOutcome, 0, len(orders))
	for _, req := range orders {
		outcome := domain.OrderOutcome{
			Ticker:     req.Ticker,
			Action:     req.Action,
			Shares:     req.Shares,
			LimitPrice: req.LimitPrice,
		}

		if reason := validate(req); reason != "" {
			outcome.Status = domain.OrderStatusRejected
			outcome.Error = reason
			outcomes = append(outcomes, outcome)
			continue
		}

		outcome.OrderID = uuid.NewString()
		outcome.Status = domain.OrderStatusOpen
		if b.opts.AutoFill {
			outcome.Status = domain.OrderStatusFilled
		}

		if err := b.place(ctx, req, outcome); err != nil {
			outcome.OrderID = ""
			outcome.Status = domain.OrderStatusRejected
			outcome.Error = err.Error()
		}
		outcomes = append(outcomes, outcome)
	}

	b.log.Info().
		Str("session", s.id).
		Int("orders", len(orders)).
		Bool("auto_fill", b.opts.AutoFill).
		Msg("Orders submitted")

	return outcomes, nil
}

func (s *session) CancelOpenOrders(ctx context.Context) ([]domain.CancelOutcome, error) {
	b, release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	var out []domain.CancelOutcome
	err = database.WithTransaction(ctx, b.db.Conn(), func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT id, ticker FROM orders WHERE status = ? ORDER BY created_at, id", string(domain.OrderStatusOpen))
		if err != nil {
			return fmt.Errorf("failed to query open orders: %w", err)
		}
		for rows.Next() {
			var c domain.CancelOutcome
			if err := rows.Scan(&c.OrderID, &c.Ticker); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan open order: %w", err)
			}
			c.Status = domain.OrderStatusCancelled
			out = append(out, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, "UPDATE orders SET status = ?, updated_at = ? WHERE status = ?",
			string(domain.OrderStatusCancelled), b.now().Unix(), string(domain.OrderStatusOpen))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel open orders: %w", err)
	}

	b.log.Info().Str("session", s.id).Int("cancelled", len(out)).Msg("Open orders cancelled")
	return out, nil
}

// Close is idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.broker.log.Debug().Str("session", s.id).Msg("Paper session closed")
	}
	return nil
}

// place records the order and, when it is filled, moves shares and cash.
func (b *Broker) place(ctx context.Context, req domain.SubmitRequest, outcome domain.OrderOutcome) error {
	now := b.now().Unix()
	return database.WithTransaction(ctx, b.db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, ticker, action, shares, limit_price, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			outcome.OrderID, string(req.Ticker), string(req.Action), req.Shares, req.LimitPrice,
			string(outcome.Status), now, now); err != nil {
			return err
		}
		if outcome.Status != domain.OrderStatusFilled {
			return nil
		}

		signed := req.Shares
		if req.Action == domain.ActionSell {
			signed = -signed
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO positions (ticker, shares) VALUES (?, ?)
			ON CONFLICT (ticker) DO UPDATE SET shares = shares + excluded.shares`,
			string(req.Ticker), signed); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "UPDATE account SET value = value - ? WHERE key = ?",
			signed*req.LimitPrice, cashKey)
		return err
	})
}

func (b *Broker) quotes(ctx context.Context) (map[domain.Ticker]float64, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT ticker, price FROM quotes")
	if err != nil {
		return nil, fmt.Errorf("failed to query quotes: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.Ticker]float64)
	for rows.Next() {
		var (
			t string
			p float64
		)
		if err := rows.Scan(&t, &p); err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		out[domain.Ticker(t)] = p
	}
	return out, rows.Err()
}

func validate(req domain.SubmitRequest) string {
	switch {
	case req.Action != domain.ActionBuy && req.Action != domain.ActionSell:
		return fmt.Sprintf("unsupported action %q", req.Action)
	case !(req.Shares > 0) || math.IsInf(req.Shares, 0):
		return fmt.Sprintf("invalid share count %v", req.Shares)
	case !(req.LimitPrice > 0) || math.IsInf(req.LimitPrice, 0):
		return fmt.Sprintf("invalid limit price %v", req.LimitPrice)
	}
	return ""
}
