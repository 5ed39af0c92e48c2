// Package rebalancing runs the daily portfolio construction and
// reconciliation pipeline for one trade date.
package rebalancing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/sftrader/internal/config"
	"github.com/aristath/sftrader/internal/domain"
	"github.com/aristath/sftrader/internal/events"
	"github.com/aristath/sftrader/internal/metrics"
	"github.com/aristath/sftrader/internal/modules/optimization"
	"github.com/aristath/sftrader/internal/modules/reconciliation"
	"github.com/aristath/sftrader/internal/modules/reports"
	"github.com/aristath/sftrader/internal/modules/risk"
	"github.com/aristath/sftrader/internal/modules/signals"
	"github.com/aristath/sftrader/internal/modules/sizing"
)

const (
	dateLayout = "2006-01-02"
	moduleName = "rebalancing"
)

// ErrRunInProgress is returned when an executing run is requested while
// another one is still sending orders.
var ErrRunInProgress = errors.New("a rebalance is already executing")

// Archive keeps a copy of finished runs outside the local database.
type Archive interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Service orchestrates the rebalance pipeline
type Service struct {
	provider  domain.DataProvider
	broker    domain.BrokerConnector
	optimizer domain.Optimizer
	strategy  *config.Strategy
	runs      *RunRepository
	archive   Archive
	events    *events.Manager
	metrics   *metrics.Metrics

	executing sync.Mutex
	now       func() time.Time
	log       zerolog.Logger
}

// NewService creates a new rebalancing service. runs, events and metrics
// may be nil.
func NewService(
	provider domain.DataProvider,
	broker domain.BrokerConnector,
	optimizer domain.Optimizer,
	strategy *config.Strategy,
	runs *RunRepository,
	eventManager *events.Manager,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Service {
	return &Service{
		provider:  provider,
		broker:    broker,
		optimizer: optimizer,
		strategy:  strategy,
		runs:      runs,
		events:    eventManager,
		metrics:   m,
		now:       time.Now,
		log:       log.With().Str("service", "rebalancing").Logger(),
	}
}

// SetArchive sets where finished runs are copied to
func (s *Service) SetArchive(archive Archive) {
	s.archive = archive
}

// Strategy returns the strategy the service runs with
func (s *Service) Strategy() *config.Strategy {
	return s.strategy
}

// Run executes the pipeline for tradeDate. With dryRun set everything is
// computed and nothing is sent to the broker. The returned result is
// complete; a non-nil error means no order was submitted.
func (s *Service) Run(ctx context.Context, tradeDate time.Time, dryRun bool) (*Result, error) {
	if !dryRun {
		if !s.executing.TryLock() {
			return nil, ErrRunInProgress
		}
		defer s.executing.Unlock()
	}

	res := &Result{
		RunID:     uuid.New().String(),
		TradeDate: truncateDay(tradeDate),
		DryRun:    dryRun,
		StartedAt: s.now().UTC(),
	}
	log := s.log.With().Str("run_id", res.RunID).Str("trade_date", res.TradeDate.Format(dateLayout)).Logger()

	s.events.Emit(moduleName, &events.RebalanceStartedData{
		RunID:     res.RunID,
		TradeDate: res.TradeDate.Format(dateLayout),
		DryRun:    dryRun,
	})
	log.Info().Bool("dry_run", dryRun).Msg("Starting rebalance")

	var warnings domain.Warnings
	err := s.run(ctx, res, &warnings, log)
	res.Warnings = warnings.Items()
	res.Duration = s.now().UTC().Sub(res.StartedAt)

	outcome := metrics.OutcomeCompleted
	switch {
	case err != nil:
		res.Status = StatusFailed
		res.Error = err.Error()
		outcome = metrics.OutcomeFailed
	case dryRun:
		res.Status = StatusDryRun
		outcome = metrics.OutcomeDryRun
	default:
		res.Status = StatusCompleted
	}

	s.metrics.ObserveRun(outcome, res.Duration, res.Orders, warnings)
	for _, w := range res.Warnings {
		s.events.Emit(moduleName, &events.DataQualityWarningData{
			RunID:      res.RunID,
			Code:       string(w.Code),
			Stage:      string(w.Stage),
			Instrument: w.Instrument,
			Message:    w.Message,
		})
	}
	s.events.Emit(moduleName, &events.RebalanceCompletedData{
		RunID:    res.RunID,
		Status:   res.Status,
		Orders:   len(res.Orders),
		Warnings: len(res.Warnings),
		Duration: res.Duration.Seconds(),
		Error:    res.Error,
	})

	// A config error means nothing ran, so there is nothing worth keeping
	if err == nil || !errors.Is(err, domain.ErrConfig) {
		s.persist(ctx, res, log)
	}

	if err != nil {
		log.Error().Err(err).Dur("duration", res.Duration).Msg("Rebalance failed")
		return res, err
	}

	log.Info().
		Str("status", res.Status).
		Int("orders", len(res.Orders)).
		Int("warnings", len(res.Warnings)).
		Dur("duration", res.Duration).
		Msg("Rebalance finished")
	return res, nil
}

func (s *Service) run(ctx context.Context, res *Result, warnings *domain.Warnings, log zerolog.Logger) error {
	// 1. Configuration is checked before any data is loaded
	engine, err := s.newEngine()
	if err != nil {
		return err
	}
	if res.TradeDate.IsZero() {
		return domain.NewConfigError("trade-date", "must be set")
	}
	res.Signals = engine.SignalNames()

	// 2. Tradable universe from end-of-day prices
	eodPrices, err := s.provider.Prices(ctx, res.TradeDate)
	if err != nil {
		return fmt.Errorf("failed to load prices: %w", err)
	}
	universe := signals.TradableUniverse(eodPrices, s.strategy.MinPrice)
	log.Debug().Int("priced", len(eodPrices)).Int("tradable", len(universe)).Msg("Built tradable universe")

	// 3. Observations over the longest signal lookback
	start := res.TradeDate.AddDate(0, 0, -engine.Lookback())
	obs, err := s.provider.Observations(ctx, start, res.TradeDate)
	if err != nil {
		return fmt.Errorf("failed to load observations: %w", err)
	}
	obs = signals.FilterUniverse(obs, universe)

	// 4. Alphas
	alphas, err := engine.Compute(ctx, obs, res.TradeDate)
	if err != nil {
		return fmt.Errorf("failed to compute alphas: %w", err)
	}
	warnings.Merge(alphas.Warnings)
	res.Alphas = alphas.Alphas
	s.events.Emit(moduleName, &events.AlphasComputedData{
		RunID:       res.RunID,
		Instruments: len(alphas.Alphas),
		Signals:     res.Signals,
	})

	// 5. Optimizer weights
	raw, err := s.optimize(ctx, res.TradeDate, alphas, warnings)
	if err != nil {
		return err
	}

	ids, err := s.provider.IDMap(ctx, res.TradeDate)
	if err != nil {
		return fmt.Errorf("failed to load identifier map: %w", err)
	}
	weights, ww := sizing.PostProcessWeights(raw, ids, s.strategy.Weights)
	warnings.Merge(ww)
	res.Weights = weights

	benchmark, err := s.provider.Benchmark(ctx, res.TradeDate)
	if err != nil {
		return fmt.Errorf("failed to load benchmark: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// 6. Broker state. The session is released on every path below
	session, err := s.broker.Connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close broker session")
		}
	}()

	current, err := session.Positions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load positions: %w", err)
	}
	res.Current = current

	accountValue, err := session.AccountValue(ctx)
	if err != nil {
		return fmt.Errorf("failed to load account value: %w", err)
	}
	res.AccountValue = accountValue
	res.Capital = s.strategy.SizingCapital(accountValue)

	prices, err := s.tradePrices(ctx, session, weights, current, eodPrices)
	if err != nil {
		return err
	}

	// 7. Share targets and orders
	targets, tw := sizing.TargetShares(weights, prices, res.Capital)
	warnings.Merge(tw)
	res.Targets = targets
	s.events.Emit(moduleName, &events.TargetsComputedData{
		RunID:     res.RunID,
		Positions: len(targets),
		Capital:   res.Capital,
	})

	orders, ow := reconciliation.Reconcile(current, targets, prices, reconciliation.Options{
		IgnoreTickers: s.strategy.IgnoreTickers,
	})
	warnings.Merge(ow)
	res.Orders = orders
	s.events.Emit(moduleName, &events.OrdersGeneratedData{
		RunID: res.RunID,
		Buys:  res.Buys(),
		Sells: res.Sells(),
	})

	// 8. Risk before, at target and after the trades
	summarizer := risk.NewSummarizer(s.provider, s.log)
	postTrade := reconciliation.ApplyOrders(current, orders)
	res.Summaries = make(map[string]*risk.Summary, 3)
	var targetPositions []sizing.Position
	for _, set := range []struct {
		label    string
		holdings []domain.Holding
	}{
		{LabelCurrent, current},
		{LabelTarget, targets},
		{LabelPostTrade, postTrade},
	} {
		summary, positions, err := s.summarize(ctx, summarizer, res, set.holdings, prices, benchmark, ids, warnings)
		if err != nil {
			return fmt.Errorf("failed to summarize %s portfolio: %w", set.label, err)
		}
		res.Summaries[set.label] = summary
		if set.label == LabelTarget {
			targetPositions = positions
		}
	}
	s.metrics.ObservePortfolio(res.Summaries[LabelTarget].Metrics)

	if err := ctx.Err(); err != nil {
		return err
	}

	// 9. Orders go out only once the full result exists
	if !res.DryRun && len(orders) > 0 {
		outcome, err := session.SubmitOrders(ctx, reconciliation.SubmitRequests(orders, s.strategy.LimitOffset))
		if err != nil {
			return fmt.Errorf("failed to submit orders: %w", err)
		}
		res.Outcome = outcome
		accepted, rejected := countOutcomes(outcome)
		s.events.Emit(moduleName, &events.OrdersSubmittedData{
			RunID:    res.RunID,
			Accepted: accepted,
			Rejected: rejected,
		})
		log.Info().Int("accepted", accepted).Int("rejected", rejected).Msg("Submitted orders")
	}

	// 10. Report
	report, err := reports.RenderMarkdown(&reports.Report{
		RunID:     res.RunID,
		TradeDate: res.TradeDate,
		DryRun:    res.DryRun,
		Summaries: []reports.Summary{
			{Label: LabelCurrent, Metrics: res.Summaries[LabelCurrent].Metrics},
			{Label: LabelTarget, Metrics: res.Summaries[LabelTarget].Metrics},
			{Label: LabelPostTrade, Metrics: res.Summaries[LabelPostTrade].Metrics},
		},
		Positions: reports.TopLongPositions(targetPositions, res.Capital, reports.BenchmarkByTicker(benchmark, ids), reports.DefaultTopN),
		Buys:      reports.TopOrders(orders, domain.ActionBuy, reports.DefaultTopN),
		Sells:     reports.TopOrders(orders, domain.ActionSell, reports.DefaultTopN),
		Submitted: res.Outcome,
		Warnings:  warnings.Counts(),
	})
	if err != nil {
		// The orders may already be out; the run still stands without its report
		log.Warn().Err(err).Msg("Failed to render report")
	}
	res.Report = report

	return nil
}

func (s *Service) newEngine() (*signals.Engine, error) {
	if s.strategy == nil {
		return nil, domain.NewConfigError("strategy", "not configured")
	}
	if s.strategy.Gamma <= 0 {
		return nil, domain.NewConfigError("gamma", "must be positive, got %v", s.strategy.Gamma)
	}
	if s.strategy.CapitalBuffer < 0 || s.strategy.CapitalBuffer >= 1 {
		return nil, domain.NewConfigError("capital-buffer", "must be in [0, 1), got %v", s.strategy.CapitalBuffer)
	}
	return signals.NewEngine(signals.Config{
		Signals:    s.strategy.Signals,
		Combinator: s.strategy.Combinator,
		IC:         s.strategy.IC,
	}, s.log)
}

// optimize runs the optimizer over the alphas the covariance covers.
func (s *Service) optimize(ctx context.Context, date time.Time, alphas *signals.Result, warnings *domain.Warnings) ([]domain.RiskWeight, error) {
	if len(alphas.Alphas) == 0 {
		return nil, nil
	}

	ids := make([]domain.RiskID, len(alphas.Alphas))
	for i, a := range alphas.Alphas {
		ids[i] = a.RiskID
	}
	cov, err := s.provider.Covariance(ctx, date, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load covariance: %w", err)
	}

	covered := make(map[domain.RiskID]bool, len(cov.IDs))
	for _, id := range cov.IDs {
		covered[id] = true
	}
	byID := make(map[domain.RiskID]int, len(ids))
	for i, id := range ids {
		byID[id] = i
		if !covered[id] {
			warnings.Add(domain.WarnMissingCovariance, domain.StageSizing, string(id), "no covariance row, excluded from optimization")
		}
	}

	req := domain.OptimizeRequest{
		RiskIDs:     cov.IDs,
		Alphas:      make([]float64, len(cov.IDs)),
		Betas:       make([]float64, len(cov.IDs)),
		Covariance:  cov,
		Gamma:       s.strategy.Gamma,
		Constraints: optimization.AsDomain(s.strategy.Constraints),
	}
	for i, id := range cov.IDs {
		j, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("failed to align covariance: unexpected id %s: %w", id, domain.ErrCovarianceMisaligned)
		}
		req.Alphas[i] = alphas.Alphas[j].Alpha
		req.Betas[i] = alphas.Betas[j].PredictedBeta
	}
	if len(req.RiskIDs) == 0 {
		return nil, nil
	}

	raw, err := s.optimizer.Optimize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to optimize portfolio: %w", err)
	}
	return raw, nil
}

// tradePrices returns broker prices for every ticker that is held or
// targeted, falling back to end-of-day prices for tickers the broker does
// not quote.
func (s *Service) tradePrices(ctx context.Context, session domain.BrokerSession, weights []domain.Weight, current []domain.Holding, eod domain.Prices) (domain.Prices, error) {
	seen := make(map[domain.Ticker]bool, len(weights)+len(current))
	var tickers []domain.Ticker
	for _, w := range weights {
		if !seen[w.Ticker] {
			seen[w.Ticker] = true
			tickers = append(tickers, w.Ticker)
		}
	}
	for _, h := range current {
		if !seen[h.Ticker] {
			seen[h.Ticker] = true
			tickers = append(tickers, h.Ticker)
		}
	}

	quoted, err := session.Prices(ctx, tickers)
	if err != nil {
		return nil, fmt.Errorf("failed to load broker prices: %w", err)
	}

	prices := make(domain.Prices, len(tickers))
	for _, t := range tickers {
		if p, ok := quoted.Get(t); ok {
			prices[t] = p
		} else if p, ok := eod.Get(t); ok {
			prices[t] = p
		}
	}
	return prices, nil
}

func (s *Service) summarize(
	ctx context.Context,
	summarizer *risk.Summarizer,
	res *Result,
	holdings []domain.Holding,
	prices domain.Prices,
	benchmark []domain.RiskWeight,
	ids *domain.IDMap,
	warnings *domain.Warnings,
) (*risk.Summary, []sizing.Position, error) {
	positions, dw := sizing.Dollars(holdings, prices)
	summary, err := summarizer.Summarize(ctx, risk.Input{
		Date:             res.TradeDate,
		Holdings:         sizing.WeightsFromDollars(positions, res.Capital),
		Benchmark:        benchmark,
		IDs:              ids,
		Capital:          res.Capital,
		DollarsAllocated: sizing.TotalDollars(positions),
	})
	if err != nil {
		return nil, nil, err
	}
	mergeUnique(warnings, dw)
	mergeUnique(warnings, summary.Warnings)
	return summary, positions, nil
}

// persist stores the run and copies it to the archive. Failures here are
// logged; the run itself already happened.
func (s *Service) persist(ctx context.Context, res *Result, log zerolog.Logger) {
	if s.runs != nil {
		if err := s.runs.Save(ctx, res); err != nil {
			log.Error().Err(err).Msg("Failed to save run")
		}
	}

	if s.archive == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode run for archive")
		return
	}
	if err := s.archive.Put(ctx, ArchiveKey(res), payload); err != nil {
		log.Warn().Err(err).Msg("Failed to archive run")
	}
}

// ArchiveKey is the object key a run is archived under.
func ArchiveKey(res *Result) string {
	return fmt.Sprintf("runs/%s/%s.json", res.TradeDate.Format("2006/01/02"), res.RunID)
}

// Latest returns the most recent stored run.
func (s *Service) Latest(ctx context.Context) (*Result, error) {
	if s.runs == nil {
		return nil, ErrRunNotFound
	}
	return s.runs.Latest(ctx)
}

// History returns the headers of the most recent runs.
func (s *Service) History(ctx context.Context, limit int) ([]RunRecord, error) {
	if s.runs == nil {
		return nil, nil
	}
	return s.runs.List(ctx, limit)
}

// CancelOpenOrders cancels every open order on the broker account.
func (s *Service) CancelOpenOrders(ctx context.Context) ([]domain.CancelOutcome, error) {
	session, err := s.broker.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			s.log.Warn().Err(cerr).Msg("Failed to close broker session")
		}
	}()

	outcomes, err := session.CancelOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel open orders: %w", err)
	}

	cancelled := 0
	for _, o := range outcomes {
		if o.Status == domain.OrderStatusCancelled {
			cancelled++
		}
	}
	s.events.Emit(moduleName, &events.OrdersCancelledData{
		Cancelled: cancelled,
		Failed:    len(outcomes) - cancelled,
	})
	s.log.Info().Int("cancelled", cancelled).Int("failed", len(outcomes)-cancelled).Msg("Cancelled open orders")
	return outcomes, nil
}

// Summarize reports exposure and risk of the current broker holdings on date.
func (s *Service) Summarize(ctx context.Context, date time.Time) (*risk.Summary, []domain.Warning, error) {
	date = truncateDay(date)

	ids, err := s.provider.IDMap(ctx, date)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load identifier map: %w", err)
	}
	benchmark, err := s.provider.Benchmark(ctx, date)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load benchmark: %w", err)
	}
	eod, err := s.provider.Prices(ctx, date)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load prices: %w", err)
	}

	session, err := s.broker.Connect(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			s.log.Warn().Err(cerr).Msg("Failed to close broker session")
		}
	}()

	current, err := session.Positions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load positions: %w", err)
	}
	accountValue, err := session.AccountValue(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load account value: %w", err)
	}
	prices, err := s.tradePrices(ctx, session, nil, current, eod)
	if err != nil {
		return nil, nil, err
	}

	res := &Result{TradeDate: date, Capital: s.strategy.SizingCapital(accountValue)}
	var warnings domain.Warnings
	summary, _, err := s.summarize(ctx, risk.NewSummarizer(s.provider, s.log), res, current, prices, benchmark, ids, &warnings)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to summarize portfolio: %w", err)
	}
	return summary, warnings.Items(), nil
}

func countOutcomes(outcomes []domain.OrderOutcome) (accepted, rejected int) {
	for _, o := range outcomes {
		if o.Status == domain.OrderStatusRejected {
			rejected++
		} else {
			accepted++
		}
	}
	return accepted, rejected
}

// mergeUnique adds the warnings of other that dst does not already hold.
// The three risk summaries share most of their holdings and would
// otherwise repeat the same gap.
func mergeUnique(dst *domain.Warnings, other domain.Warnings) {
	type key struct {
		code       domain.WarningCode
		stage      domain.Stage
		instrument string
	}
	seen := make(map[key]bool, dst.Len())
	for _, w := range dst.Items() {
		seen[key{w.Code, w.Stage, w.Instrument}] = true
	}
	for _, w := range other.Items() {
		k := key{w.Code, w.Stage, w.Instrument}
		if seen[k] {
			continue
		}
		seen[k] = true
		dst.Add(w.Code, w.Stage, w.Instrument, "%s", w.Message)
	}
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
