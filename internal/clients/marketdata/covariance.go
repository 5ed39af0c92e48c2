package marketdata

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/sftrader/internal/database"
	"github.com/aristath/sftrader/internal/domain"
)

// Constants for risk model configuration
const (
	DefaultLookbackDays = 252 // 1 year of trading days
	TradingDaysPerYear  = 252
	CovarianceCacheTTL  = 24 * time.Hour
)

// cachedCovariance is the msgpack payload of a cached matrix.
type cachedCovariance struct {
	IDs    []string  `msgpack:"ids"`
	Values []float64 `msgpack:"values"` // row-major
}

// CovarianceBuilder estimates annualized covariance matrices from stored
// daily returns.
type CovarianceBuilder struct {
	market   *database.DB
	cache    *database.DB // optional
	lookback int
	now      func() time.Time
	log      zerolog.Logger
}

// NewCovarianceBuilder creates a builder reading returns from market.
// Results are cached in cache when it is not nil.
func NewCovarianceBuilder(market, cache *database.DB, log zerolog.Logger) *CovarianceBuilder {
	return &CovarianceBuilder{
		market:   market,
		cache:    cache,
		lookback: DefaultLookbackDays,
		now:      time.Now,
		log:      log.With().Str("component", "covariance").Logger(),
	}
}

// hashIDs creates a deterministic cache key for a date and an ordered id list.
// Order matters: the cached matrix is laid out like ids.
func hashIDs(date time.Time, lookback int, ids []domain.RiskID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	keyData := fmt.Sprintf("%s|%d|%s", date.Format(DateLayout), lookback, strings.Join(parts, ","))
	h := sha256.Sum256([]byte(keyData))
	return hex.EncodeToString(h[:16])
}

// Build returns the covariance of ids over the lookback window ending on
// date. Instruments with fewer than two stored returns are left out; the
// remaining rows keep the order of ids.
func (b *CovarianceBuilder) Build(ctx context.Context, date time.Time, ids []domain.RiskID) (*domain.Covariance, error) {
	if len(ids) == 0 {
		return &domain.Covariance{}, nil
	}

	key := hashIDs(date, b.lookback, ids)
	if cov, ok := b.load(ctx, date, key); ok {
		b.log.Debug().
			Int("num_ids", len(cov.IDs)).
			Str("hash", key[:8]).
			Msg("Using cached covariance matrix")
		return cov, nil
	}

	returns, counts, err := b.fetchReturns(ctx, date, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch returns: %w", err)
	}

	kept := make([]domain.RiskID, 0, len(ids))
	for _, id := range ids {
		if counts[id] >= 2 {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		b.log.Warn().Int("requested", len(ids)).Msg("No instrument has enough return history for covariance")
		return &domain.Covariance{}, nil
	}

	sample, err := calculateSampleCovariance(returns, kept)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate sample covariance: %w", err)
	}
	shrunk := applyLedoitWolfShrinkage(sample)
	shrunk.ScaleSym(TradingDaysPerYear, shrunk)

	cov := &domain.Covariance{IDs: kept, Matrix: shrunk}

	b.log.Info().
		Int("requested", len(ids)).
		Int("matrix_size", len(kept)).
		Msg("Calculated covariance matrix with Ledoit-Wolf shrinkage")

	b.store(ctx, date, key, cov)
	return cov, nil
}

// fetchReturns loads the last lookback trading dates of returns for ids.
// Missing days are zero returns, which is what forward-filling prices gives.
func (b *CovarianceBuilder) fetchReturns(ctx context.Context, date time.Time, ids []domain.RiskID) (map[domain.RiskID][]float64, map[domain.RiskID]int, error) {
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, date.Format(DateLayout), b.lookback)
	for _, id := range ids {
		args = append(args, string(id))
	}

	rows, err := b.market.QueryContext(ctx, `
		WITH recent AS (
			SELECT DISTINCT date FROM assets WHERE date <= ? ORDER BY date DESC LIMIT ?
		)
		SELECT a.date, a.risk_id, a.return_pct
		FROM assets a JOIN recent w ON a.date = w.date
		WHERE a.risk_id IN (`+placeholders(len(ids))+`)
		ORDER BY a.date`, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	dateIndex := make(map[string]int)
	byID := make(map[domain.RiskID]map[int]float64, len(ids))
	for rows.Next() {
		var (
			d      string
			id     string
			retPct float64
		)
		if err := rows.Scan(&d, &id, &retPct); err != nil {
			return nil, nil, err
		}
		idx, ok := dateIndex[d]
		if !ok {
			idx = len(dateIndex)
			dateIndex[d] = idx
		}
		rid := domain.RiskID(id)
		if byID[rid] == nil {
			byID[rid] = make(map[int]float64)
		}
		byID[rid][idx] = retPct / 100
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	returns := make(map[domain.RiskID][]float64, len(byID))
	counts := make(map[domain.RiskID]int, len(byID))
	for id, series := range byID {
		aligned := make([]float64, len(dateIndex))
		for idx, r := range series {
			aligned[idx] = r
		}
		returns[id] = aligned
		counts[id] = len(series)
	}
	return returns, counts, nil
}

// calculateSampleCovariance calculates the sample covariance matrix (N-1
// denominator) of the aligned return series of ids.
func calculateSampleCovariance(returns map[domain.RiskID][]float64, ids []domain.RiskID) (*mat.SymDense, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("no instruments provided")
	}

	length := len(returns[ids[0]])
	for _, id := range ids {
		if len(returns[id]) != length {
			return nil, fmt.Errorf("inconsistent return lengths: expected %d, got %d for %s", length, len(returns[id]), id)
		}
	}
	if length < 2 {
		return nil, fmt.Errorf("insufficient data: need at least 2 observations, got %d", length)
	}

	n := len(ids)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, stat.Covariance(returns[ids[i]], returns[ids[j]], nil))
		}
	}
	return cov, nil
}

// applyLedoitWolfShrinkage shrinks a sample covariance toward a constant
// covariance target: average variance on the diagonal, average covariance
// off it. Intensity is estimated from the dispersion of the sample and
// capped at 0.5.
func applyLedoitWolfShrinkage(sample *mat.SymDense) *mat.SymDense {
	n := sample.SymmetricDim()
	if n < 2 {
		return sample
	}

	var avgVar, avgCov float64
	for i := 0; i < n; i++ {
		avgVar += sample.At(i, i)
		for j := 0; j < n; j++ {
			if i != j {
				avgCov += sample.At(i, j)
			}
		}
	}
	avgVar /= float64(n)
	avgCov /= float64(n * (n - 1))
	if avgVar <= 0 {
		avgCov = 0
	}

	target := func(i, j int) float64 {
		if i == j {
			return avgVar
		}
		return avgCov
	}

	shrinkage := 0.2
	if n > 2 && avgVar > 0 {
		var sumSqDiff, sum, sumSq float64
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				v := sample.At(i, j)
				diff := v - target(i, j)
				sumSqDiff += diff * diff
				sum += v
				sumSq += v * v
			}
		}
		count := float64(n * n)
		meanSqDiff := sumSqDiff / count
		mean := sum / count
		varSample := sumSq/count - mean*mean

		if varSample > 0 && meanSqDiff > 0 {
			shrinkage = math.Min(0.5, math.Max(0.0, varSample/(varSample+meanSqDiff)))
		}
	}

	result := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			result.SetSym(i, j, (1-shrinkage)*sample.At(i, j)+shrinkage*target(i, j))
		}
	}
	return result
}

func (b *CovarianceBuilder) load(ctx context.Context, date time.Time, key string) (*domain.Covariance, bool) {
	if b.cache == nil {
		return nil, false
	}

	var (
		payload   []byte
		createdAt int64
	)
	err := b.cache.QueryRowContext(ctx,
		"SELECT payload, created_at FROM covariance_cache WHERE date = ? AND ids_hash = ?",
		date.Format(DateLayout), key).Scan(&payload, &createdAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			b.log.Warn().Err(err).Msg("Failed to read covariance cache")
		}
		return nil, false
	}
	if b.now().Sub(time.Unix(createdAt, 0)) > CovarianceCacheTTL {
		return nil, false
	}

	var cached cachedCovariance
	if err := msgpack.Unmarshal(payload, &cached); err != nil {
		b.log.Warn().Err(err).Msg("Failed to unmarshal cached covariance matrix, recalculating")
		return nil, false
	}

	n := len(cached.IDs)
	if n == 0 {
		return &domain.Covariance{}, true
	}
	if len(cached.Values) != n*n {
		return nil, false
	}

	ids := make([]domain.RiskID, n)
	for i, id := range cached.IDs {
		ids[i] = domain.RiskID(id)
	}
	return &domain.Covariance{IDs: ids, Matrix: mat.NewSymDense(n, cached.Values)}, true
}

func (b *CovarianceBuilder) store(ctx context.Context, date time.Time, key string, cov *domain.Covariance) {
	if b.cache == nil {
		return
	}

	n := len(cov.IDs)
	cached := cachedCovariance{IDs: make([]string, n), Values: make([]float64, 0, n*n)}
	for i, id := range cov.IDs {
		cached.IDs[i] = string(id)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			cached.Values = append(cached.Values, cov.Matrix.At(i, j))
		}
	}

	payload, err := msgpack.Marshal(&cached)
	if err != nil {
		b.log.Warn().Err(err).Msg("Failed to encode covariance matrix")
		return
	}

	_, err = b.cache.ExecContext(ctx, `
		INSERT INTO covariance_cache (date, ids_hash, payload, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (date, ids_hash) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
		date.Format(DateLayout), key, payload, b.now().Unix())
	if err != nil {
		b.log.Warn().Err(err).Msg("Failed to cache covariance matrix")
		return
	}

	b.log.Debug().Str("hash", key[:8]).Msg("Cached covariance matrix")
}
