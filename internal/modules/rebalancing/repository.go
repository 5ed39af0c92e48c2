package rebalancing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sftrader/internal/database"
)

// ErrRunNotFound is returned when no stored run matches.
var ErrRunNotFound = errors.New("rebalance run not found")

// RunRepository stores rebalance results.
// Database: runs.db (runs table)
type RunRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *database.DB, log zerolog.Logger) *RunRepository {
	return &RunRepository{
		db:  db,
		log: log.With().Str("repository", "runs").Logger(),
	}
}

// Save stores a result, replacing any earlier copy of the same run.
func (r *RunRepository) Save(ctx context.Context, res *Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", res.RunID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO runs (id, trade_date, dry_run, status, num_orders, num_warnings, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			num_orders = excluded.num_orders,
			num_warnings = excluded.num_warnings,
			result = excluded.result
	`,
		res.RunID,
		res.TradeDate.Format(dateLayout),
		boolToInt(res.DryRun),
		res.Status,
		len(res.Orders),
		len(res.Warnings),
		string(payload),
		res.StartedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", res.RunID, err)
	}

	r.log.Debug().Str("run_id", res.RunID).Str("status", res.Status).Msg("Saved run")
	return nil
}

// Get returns the stored result of run id.
func (r *RunRepository) Get(ctx context.Context, id string) (*Result, error) {
	row := r.db.QueryRowContext(ctx, `SELECT result FROM runs WHERE id = ?`, id)
	return scanResult(row)
}

// Latest returns the most recently started run.
func (r *RunRepository) Latest(ctx context.Context) (*Result, error) {
	row := r.db.QueryRowContext(ctx, `SELECT result FROM runs ORDER BY created_at DESC, id DESC LIMIT 1`)
	return scanResult(row)
}

// List returns the headers of the most recent runs, newest first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, trade_date, dry_run, status, num_orders, num_warnings, created_at
		FROM runs
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var dryRun int
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.TradeDate, &dryRun, &rec.Status, &rec.NumOrders, &rec.NumWarnings, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.DryRun = dryRun != 0
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return records, nil
}

// Prune deletes runs started before cutoff and returns how many were removed.
func (r *RunRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}

func scanResult(row *sql.Row) (*Result, error) {
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	var res Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}
	return &res, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
