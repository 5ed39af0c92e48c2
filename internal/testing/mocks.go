package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/sftrader/internal/domain"
)

var (
	_ domain.DataProvider    = (*MockDataProvider)(nil)
	_ domain.BrokerConnector = (*MockBrokerConnector)(nil)
	_ domain.BrokerSession   = (*MockBrokerSession)(nil)
	_ domain.Optimizer       = (*MockOptimizer)(nil)
)

// MockDataProvider is a mock implementation of domain.DataProvider backed by a MarketFixture
type MockDataProvider struct {
	mu      sync.RWMutex
	market  *MarketFixture
	obs     *domain.Observations
	prices  domain.Prices
	pairs   []domain.IDPair
	err     error
	covErr  error
	covCall [][]domain.RiskID
}

// NewMockDataProvider creates a new mock data provider serving market
func NewMockDataProvider(market *MarketFixture) *MockDataProvider {
	return &MockDataProvider{
		market: market,
		prices: market.Prices(),
		pairs:  market.IDPairs(),
	}
}

// SetObservations overrides the observations returned
func (m *MockDataProvider) SetObservations(obs domain.Observations) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obs = &obs
}

// SetPrices overrides the prices returned
func (m *MockDataProvider) SetPrices(prices domain.Prices) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices = prices
}

// SetIDPairs overrides the identifier mapping
func (m *MockDataProvider) SetIDPairs(pairs []domain.IDPair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs = pairs
}

// SetError sets the error returned by every method
func (m *MockDataProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetCovarianceError sets the error returned by Covariance only
func (m *MockDataProvider) SetCovarianceError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.covErr = err
}

// CovarianceCalls returns the id lists Covariance was called with
func (m *MockDataProvider) CovarianceCalls() [][]domain.RiskID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]domain.RiskID(nil), m.covCall...)
}

// Observations returns fixture observations within [start, end]
func (m *MockDataProvider) Observations(ctx context.Context, start, end time.Time) (domain.Observations, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return domain.Observations{}, m.err
	}

	all := m.market.Observations()
	if m.obs != nil {
		all = *m.obs
	}

	out := domain.Observations{Columns: all.Columns}
	for _, row := range all.Rows {
		if row.Date.Before(start) || row.Date.After(end) {
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// Benchmark returns the fixture benchmark
func (m *MockDataProvider) Benchmark(ctx context.Context, date time.Time) ([]domain.RiskWeight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.market.Benchmark(), nil
}

// IDMap returns the identifier mapping
func (m *MockDataProvider) IDMap(ctx context.Context, date time.Time) (*domain.IDMap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	return domain.NewIDMap(date, m.pairs)
}

// Prices returns the configured prices
func (m *MockDataProvider) Prices(ctx context.Context, date time.Time) (domain.Prices, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make(domain.Prices, len(m.prices))
	for t, p := range m.prices {
		out[t] = p
	}
	return out, nil
}

// Covariance returns a diagonal covariance of the requested ids
func (m *MockDataProvider) Covariance(ctx context.Context, date time.Time, ids []domain.RiskID) (*domain.Covariance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.covCall = append(m.covCall, append([]domain.RiskID(nil), ids...))
	if m.err != nil {
		return nil, m.err
	}
	if m.covErr != nil {
		return nil, m.covErr
	}
	return m.market.DiagonalCovariance(ids), nil
}

// MockBrokerConnector is a mock implementation of domain.BrokerConnector
type MockBrokerConnector struct {
	mu         sync.Mutex
	Session    *MockBrokerSession
	connectErr error
	connects   int
}

// NewMockBrokerConnector creates a connector that always hands out session
func NewMockBrokerConnector(session *MockBrokerSession) *MockBrokerConnector {
	return &MockBrokerConnector{Session: session}
}

// SetConnectError makes Connect fail with err
func (m *MockBrokerConnector) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// Connects returns how many sessions were opened
func (m *MockBrokerConnector) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Connect returns the session
func (m *MockBrokerConnector) Connect(ctx context.Context) (domain.BrokerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return nil, m.connectErr
	}
	m.connects++
	m.Session.reopen()
	return m.Session, nil
}

// MockBrokerSession is a mock implementation of domain.BrokerSession
type MockBrokerSession struct {
	mu           sync.Mutex
	prices       domain.Prices
	positions    []domain.Holding
	accountValue float64
	submitted    []domain.SubmitRequest
	open         []domain.OrderOutcome
	closed       bool
	closes       int
	err          error
	submitErr    error
	closeErr     error
}

// NewMockBrokerSession creates a session with the given account state
func NewMockBrokerSession(prices domain.Prices, positions []domain.Holding, accountValue float64) *MockBrokerSession {
	return &MockBrokerSession{
		prices:       prices,
		positions:    positions,
		accountValue: accountValue,
	}
}

// SetError sets the error returned by every method
func (m *MockBrokerSession) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetSubmitError makes SubmitOrders fail with err
func (m *MockBrokerSession) SetSubmitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

// SetCloseError makes Close fail with err
func (m *MockBrokerSession) SetCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeErr = err
}

// SetOpenOrders sets the orders CancelOpenOrders will cancel
func (m *MockBrokerSession) SetOpenOrders(open []domain.OrderOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = open
}

// Submitted returns every submitted request
func (m *MockBrokerSession) Submitted() []domain.SubmitRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SubmitRequest(nil), m.submitted...)
}

// Closed reports whether the session is currently closed
func (m *MockBrokerSession) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Closes returns how many times Close was called
func (m *MockBrokerSession) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

func (m *MockBrokerSession) reopen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = false
}

func (m *MockBrokerSession) check() error {
	if m.closed {
		return domain.ErrSessionClosed
	}
	return m.err
}

// Prices returns prices for the requested tickers the session knows
func (m *MockBrokerSession) Prices(ctx context.Context, tickers []domain.Ticker) (domain.Prices, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	out := make(domain.Prices, len(tickers))
	for _, t := range tickers {
		if p, ok := m.prices[t]; ok {
			out[t] = p
		}
	}
	return out, nil
}

// Positions returns the configured holdings
func (m *MockBrokerSession) Positions(ctx context.Context) ([]domain.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	return append([]domain.Holding(nil), m.positions...), nil
}

// AccountValue returns the configured account value
func (m *MockBrokerSession) AccountValue(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	return m.accountValue, nil
}

// SubmitOrders records the requests and reports them open
func (m *MockBrokerSession) SubmitOrders(ctx context.Context, orders []domain.SubmitRequest) ([]domain.OrderOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	if m.submitErr != nil {
		return nil, m.submitErr
	}

	outcomes := make([]domain.OrderOutcome, 0, len(orders))
	for _, req := range orders {
		m.submitted = append(m.submitted, req)
		outcome := domain.OrderOutcome{
			OrderID:    fmt.Sprintf("mock-%d", len(m.submitted)),
			Ticker:     req.Ticker,
			Action:     req.Action,
			Shares:     req.Shares,
			LimitPrice: req.LimitPrice,
			Status:     domain.OrderStatusOpen,
		}
		m.open = append(m.open, outcome)
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// CancelOpenOrders cancels every open order
func (m *MockBrokerSession) CancelOpenOrders(ctx context.Context) ([]domain.CancelOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	out := make([]domain.CancelOutcome, 0, len(m.open))
	for _, o := range m.open {
		out = append(out, domain.CancelOutcome{OrderID: o.OrderID, Ticker: o.Ticker, Status: domain.OrderStatusCancelled})
	}
	m.open = nil
	return out, nil
}

// Close marks the session closed
func (m *MockBrokerSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closes++
	return m.closeErr
}

// MockOptimizer is a mock implementation of domain.Optimizer
type MockOptimizer struct {
	mu       sync.Mutex
	weights  map[domain.RiskID]float64
	requests []domain.OptimizeRequest
	err      error
}

// NewMockOptimizer creates an optimizer returning fixed weights per risk id.
// Requested ids without a configured weight get 0.
func NewMockOptimizer(weights map[domain.RiskID]float64) *MockOptimizer {
	return &MockOptimizer{weights: weights}
}

// SetError sets the error to return
func (m *MockOptimizer) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Requests returns the requests received
func (m *MockOptimizer) Requests() []domain.OptimizeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OptimizeRequest(nil), m.requests...)
}

// Optimize returns the configured weights in request order
func (m *MockOptimizer) Optimize(ctx context.Context, req domain.OptimizeRequest) ([]domain.RiskWeight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.RiskWeight, len(req.RiskIDs))
	for i, id := range req.RiskIDs {
		out[i] = domain.RiskWeight{RiskID: id, Weight: m.weights[id]}
	}
	return out, nil
}
