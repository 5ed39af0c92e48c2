// Package marketdata serves observations, benchmark weights, identifier
// mappings, prices and covariance from the SQLite market database.
package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sftrader/internal/database"
	"github.com/aristath/sftrader/internal/domain"
)

// DateLayout is the storage format of every date column.
const DateLayout = "2006-01-02"

// Store implements domain.DataProvider on top of the market and cache databases.
type Store struct {
	market     *database.DB
	covariance *CovarianceBuilder
	log        zerolog.Logger
}

var _ domain.DataProvider = (*Store)(nil)

// NewStore creates a store. cache may be nil, in which case covariance
// matrices are rebuilt on every request.
func NewStore(market, cache *database.DB, log zerolog.Logger) *Store {
	log = log.With().Str("client", "marketdata").Logger()
	return &Store{
		market:     market,
		covariance: NewCovarianceBuilder(market, cache, log),
		log:        log,
	}
}

// Observations returns every stored observation with start <= date <= end,
// ordered by risk id then date. Returns are converted from percent.
func (s *Store) Observations(ctx context.Context, start, end time.Time) (domain.Observations, error) {
	rows, err := s.market.QueryContext(ctx, `
		SELECT date, risk_id, ticker, return_pct, predicted_beta, specific_risk
		FROM assets
		WHERE date >= ? AND date <= ?
		ORDER BY risk_id, date`,
		start.Format(DateLayout), end.Format(DateLayout))
	if err != nil {
		return domain.Observations{}, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	obs := domain.Observations{
		Columns: []domain.Column{domain.ColumnReturn, domain.ColumnPredictedBeta, domain.ColumnSpecificRisk},
	}
	for rows.Next() {
		var (
			date, riskID, ticker string
			returnPct            float64
			beta, specificRisk   sql.NullFloat64
		)
		if err := rows.Scan(&date, &riskID, &ticker, &returnPct, &beta, &specificRisk); err != nil {
			return domain.Observations{}, fmt.Errorf("failed to scan observation: %w", err)
		}
		d, err := time.Parse(DateLayout, date)
		if err != nil {
			return domain.Observations{}, fmt.Errorf("invalid observation date %q: %w", date, err)
		}
		obs.Rows = append(obs.Rows, domain.Observation{
			Date:          d,
			RiskID:        domain.RiskID(riskID),
			Ticker:        domain.Ticker(ticker),
			Return:        returnPct / 100,
			PredictedBeta: nullable(beta),
			SpecificRisk:  nullable(specificRisk),
		})
	}
	if err := rows.Err(); err != nil {
		return domain.Observations{}, fmt.Errorf("failed to read observations: %w", err)
	}

	s.log.Debug().
		Int("rows", len(obs.Rows)).
		Str("start", start.Format(DateLayout)).
		Str("end", end.Format(DateLayout)).
		Msg("Loaded observations")

	return obs, nil
}

// Benchmark returns benchmark weights on date.
func (s *Store) Benchmark(ctx context.Context, date time.Time) ([]domain.RiskWeight, error) {
	rows, err := s.market.QueryContext(ctx,
		"SELECT risk_id, weight FROM benchmark WHERE date = ? ORDER BY risk_id",
		date.Format(DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query benchmark: %w", err)
	}
	defer rows.Close()

	var out []domain.RiskWeight
	for rows.Next() {
		var w domain.RiskWeight
		if err := rows.Scan(&w.RiskID, &w.Weight); err != nil {
			return nil, fmt.Errorf("failed to scan benchmark weight: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// IDMap returns the ticker/risk-id pairs observed on the latest asset date
// not after date.
func (s *Store) IDMap(ctx context.Context, date time.Time) (*domain.IDMap, error) {
	rows, err := s.market.QueryContext(ctx, `
		SELECT ticker, risk_id FROM assets
		WHERE date = (SELECT MAX(date) FROM assets WHERE date <= ?)`,
		date.Format(DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query id map: %w", err)
	}
	defer rows.Close()

	var pairs []domain.IDPair
	for rows.Next() {
		var p domain.IDPair
		if err := rows.Scan(&p.Ticker, &p.RiskID); err != nil {
			return nil, fmt.Errorf("failed to scan id pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read id map: %w", err)
	}

	return domain.NewIDMap(date, pairs)
}

// Prices returns the latest stored prices not after date. Null prices are
// returned as NaN so they surface as missing.
func (s *Store) Prices(ctx context.Context, date time.Time) (domain.Prices, error) {
	rows, err := s.market.QueryContext(ctx, `
		SELECT ticker, price FROM prices
		WHERE date = (SELECT MAX(date) FROM prices WHERE date <= ?)`,
		date.Format(DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	prices := make(domain.Prices)
	for rows.Next() {
		var (
			ticker string
			price  sql.NullFloat64
		)
		if err := rows.Scan(&ticker, &price); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		if price.Valid {
			prices[domain.Ticker(ticker)] = price.Float64
		} else {
			prices[domain.Ticker(ticker)] = math.NaN()
		}
	}
	return prices, rows.Err()
}

// Covariance delegates to the covariance builder.
func (s *Store) Covariance(ctx context.Context, date time.Time, ids []domain.RiskID) (*domain.Covariance, error) {
	return s.covariance.Build(ctx, date, ids)
}

// UpsertObservations stores observations. Returns are written in percent.
func (s *Store) UpsertObservations(ctx context.Context, rows []domain.Observation) error {
	return database.WithTransaction(ctx, s.market.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO assets (date, risk_id, ticker, return_pct, predicted_beta, specific_risk)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (date, risk_id) DO UPDATE SET
				ticker = excluded.ticker,
				return_pct = excluded.return_pct,
				predicted_beta = excluded.predicted_beta,
				specific_risk = excluded.specific_risk`)
		if err != nil {
			return fmt.Errorf("failed to prepare observation insert: %w", err)
		}
		defer stmt.Close()

		for _, o := range rows {
			if _, err := stmt.ExecContext(ctx,
				o.Date.Format(DateLayout), string(o.RiskID), string(o.Ticker),
				o.Return*100, nullFloat(o.PredictedBeta), nullFloat(o.SpecificRisk),
			); err != nil {
				return fmt.Errorf("failed to insert observation %s/%s: %w", o.RiskID, o.Date.Format(DateLayout), err)
			}
		}
		return nil
	})
}

// UpsertBenchmark replaces benchmark weights on date.
func (s *Store) UpsertBenchmark(ctx context.Context, date time.Time, weights []domain.RiskWeight) error {
	return database.WithTransaction(ctx, s.market.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM benchmark WHERE date = ?", date.Format(DateLayout)); err != nil {
			return fmt.Errorf("failed to clear benchmark: %w", err)
		}
		for _, w := range weights {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO benchmark (date, risk_id, weight) VALUES (?, ?, ?)",
				date.Format(DateLayout), string(w.RiskID), w.Weight,
			); err != nil {
				return fmt.Errorf("failed to insert benchmark weight %s: %w", w.RiskID, err)
			}
		}
		return nil
	})
}

// UpsertPrices stores prices on date. NaN is stored as NULL.
func (s *Store) UpsertPrices(ctx context.Context, date time.Time, prices domain.Prices) error {
	return database.WithTransaction(ctx, s.market.Conn(), func(tx *sql.Tx) error {
		for _, t := range prices.Tickers() {
			var price interface{}
			if v, ok := prices.Get(t); ok {
				price = v
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO prices (date, ticker, price) VALUES (?, ?, ?)
				ON CONFLICT (date, ticker) DO UPDATE SET price = excluded.price`,
				date.Format(DateLayout), string(t), price,
			); err != nil {
				return fmt.Errorf("failed to insert price %s: %w", t, err)
			}
		}
		return nil
	})
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
