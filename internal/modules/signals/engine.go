package signals

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/sftrader/internal/domain"
)

// Config configures the alpha engine.
type Config struct {
	Signals    []Signal
	Combinator Combinator
	// IC is the assumed information coefficient applied to every signal.
	IC float64
	// Workers bounds the per-instrument fan-out. Zero means GOMAXPROCS.
	Workers int
}

// Result is the engine output for one trade date.
type Result struct {
	TradeDate time.Time
	// Alphas has one row per instrument observed on the trade date, sorted by risk ID.
	Alphas []domain.Alpha
	// Betas is aligned with Alphas. Missing predicted betas are 0.
	Betas []domain.Beta
	// Tickers is aligned with Alphas.
	Tickers  []domain.Ticker
	Warnings domain.Warnings
}

// Engine computes alphas from observations.
type Engine struct {
	cfg   Config
	names []string
	log   zerolog.Logger
}

// NewEngine validates cfg and returns an engine. Invalid configuration is
// reported as a *domain.ConfigError.
func NewEngine(cfg Config, log zerolog.Logger) (*Engine, error) {
	if len(cfg.Signals) == 0 {
		return nil, domain.NewConfigError("signals", "at least one signal is required")
	}
	if cfg.Combinator == nil {
		cfg.Combinator = Mean{}
	}
	if math.IsNaN(cfg.IC) || math.IsInf(cfg.IC, 0) {
		return nil, domain.NewConfigError("ic", "must be finite, got %v", cfg.IC)
	}

	names := make([]string, len(cfg.Signals))
	seen := make(map[string]bool, len(cfg.Signals))
	for i, s := range cfg.Signals {
		if seen[s.Name()] {
			return nil, domain.NewConfigError("signals", "signal %q configured twice", s.Name())
		}
		seen[s.Name()] = true
		names[i] = s.Name()
	}
	if err := cfg.Combinator.Validate(names); err != nil {
		return nil, &domain.ConfigError{Field: "signal-combinator", Err: err}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}

	return &Engine{
		cfg:   cfg,
		names: names,
		log:   log.With().Str("component", "alpha_engine").Logger(),
	}, nil
}

// SignalNames returns the configured signal names in evaluation order.
func (e *Engine) SignalNames() []string {
	out := make([]string, len(e.names))
	copy(out, e.names)
	return out
}

// Lookback returns the history (in days) the configured signals need.
func (e *Engine) Lookback() int {
	return MaxLookback(e.cfg.Signals)
}

// instrumentScores is the trade-date slice of one instrument's signals.
type instrumentScores struct {
	present      bool
	raw          []float64
	specificRisk float64
	beta         float64
}

// Compute produces the alphas for tradeDate.
func (e *Engine) Compute(ctx context.Context, obs domain.Observations, tradeDate time.Time) (*Result, error) {
	// 1. Every column a signal reads must exist before any row is touched
	if err := e.checkColumns(obs); err != nil {
		return nil, err
	}

	// 2. Group by instrument
	histories := groupHistories(obs.Rows)

	// 3. Evaluate signals per instrument in parallel
	scores := make([]instrumentScores, len(histories))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range histories {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scores[i] = e.evaluate(histories[i], tradeDate)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to evaluate signals: %w", err)
	}

	result := &Result{TradeDate: tradeDate}

	// 4. Keep instruments observed on the trade date
	var live []int
	for i, s := range scores {
		if !s.present {
			result.Warnings.Add(domain.WarnMissingTradeDate, domain.StageSignals, string(histories[i].RiskID),
				"no observation on %s", tradeDate.Format("2006-01-02"))
			continue
		}
		live = append(live, i)
	}

	// 5. Standardize each signal across the trade-date cross-section,
	// scale by IC and specific risk, and fill missing with zero
	alphas := make([][]float64, len(live))
	for k := range alphas {
		alphas[k] = make([]float64, len(e.names))
	}
	for j, name := range e.names {
		column := make([]float64, len(live))
		for k, idx := range live {
			column[k] = scores[idx].raw[j]
		}
		z, ok := Standardize(column)
		if !ok {
			result.Warnings.Add(domain.WarnDegenerateCrossSection, domain.StageSignals, "",
				"signal %s has no cross-sectional dispersion on %s", name, tradeDate.Format("2006-01-02"))
		}
		for k, idx := range live {
			a := z[k] * e.cfg.IC * scores[idx].specificRisk
			if math.IsNaN(a) || math.IsInf(a, 0) {
				a = 0
			}
			alphas[k][j] = a
		}
	}

	// 6. Combine and project
	for k, idx := range live {
		h := histories[idx]
		if math.IsNaN(scores[idx].specificRisk) {
			result.Warnings.Add(domain.WarnMissingSpecificRisk, domain.StageSignals, string(h.RiskID),
				"specific risk missing, alpha set to 0")
		}
		result.Alphas = append(result.Alphas, domain.Alpha{
			RiskID: h.RiskID,
			Alpha:  e.cfg.Combinator.Combine(e.names, alphas[k]),
		})
		beta := scores[idx].beta
		if math.IsNaN(beta) {
			beta = 0
		}
		result.Betas = append(result.Betas, domain.Beta{RiskID: h.RiskID, PredictedBeta: beta})
		result.Tickers = append(result.Tickers, h.Ticker)
	}

	e.log.Debug().
		Str("trade_date", tradeDate.Format("2006-01-02")).
		Int("instruments", len(histories)).
		Int("alphas", len(result.Alphas)).
		Int("warnings", result.Warnings.Len()).
		Msg("Computed alphas")

	return result, nil
}

func (e *Engine) checkColumns(obs domain.Observations) error {
	required := []domain.Column{domain.ColumnSpecificRisk}
	for _, s := range e.cfg.Signals {
		required = append(required, s.Requires()...)
	}
	for _, col := range required {
		if !obs.HasColumn(col) {
			return domain.NewConfigError("signals", "column %q is not provided by the observation source", col)
		}
	}
	return nil
}

func (e *Engine) evaluate(h History, tradeDate time.Time) instrumentScores {
	at := -1
	for i := h.Len() - 1; i >= 0; i-- {
		if sameDate(h.Dates[i], tradeDate) {
			at = i
			break
		}
	}
	if at < 0 {
		return instrumentScores{}
	}

	out := instrumentScores{
		present:      true,
		raw:          make([]float64, len(e.cfg.Signals)),
		specificRisk: h.SpecificRisk[at],
		beta:         h.PredictedBeta[at],
	}
	for j, s := range e.cfg.Signals {
		out.raw[j] = s.Evaluate(h)[at]
	}
	return out
}

// groupHistories splits rows per risk ID, each sorted by date. The result
// is sorted by risk ID.
func groupHistories(rows []domain.Observation) []History {
	byID := make(map[domain.RiskID][]domain.Observation)
	for _, row := range rows {
		byID[row.RiskID] = append(byID[row.RiskID], row)
	}

	ids := make([]domain.RiskID, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	histories := make([]History, len(ids))
	for k, id := range ids {
		group := byID[id]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Date.Before(group[j].Date) })

		h := History{
			RiskID:        id,
			Dates:         make([]time.Time, len(group)),
			Returns:       make([]float64, len(group)),
			PredictedBeta: make([]float64, len(group)),
			SpecificRisk:  make([]float64, len(group)),
		}
		for i, row := range group {
			h.Ticker = row.Ticker
			h.Dates[i] = row.Date
			h.Returns[i] = row.Return
			h.PredictedBeta[i] = valueOrNaN(row.PredictedBeta)
			h.SpecificRisk[i] = valueOrNaN(row.SpecificRisk)
		}
		histories[k] = h
	}
	return histories
}

func valueOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
