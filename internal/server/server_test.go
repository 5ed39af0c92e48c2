package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sftrader/internal/config"
	"github.com/aristath/sftrader/internal/database"
	"github.com/aristath/sftrader/internal/domain"
	"github.com/aristath/sftrader/internal/events"
	"github.com/aristath/sftrader/internal/metrics"
	"github.com/aristath/sftrader/internal/modules/rebalancing"
	"github.com/aristath/sftrader/internal/scheduler"
	testingpkg "github.com/aristath/sftrader/internal/testing"
)

var tradeDate = time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)

type fakeJobs struct {
	mu       sync.Mutex
	statuses []scheduler.JobStatus
	ran      chan string
}

func (f *fakeJobs) Jobs() []scheduler.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scheduler.JobStatus(nil), f.statuses...)
}

func (f *fakeJobs) RunNow(ctx context.Context, name string) error {
	f.ran <- name
	return nil
}

type testEnv struct {
	server *Server
	bus    *events.Bus
	jobs   *fakeJobs
	dbs    map[string]*database.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	runsDB, cleanup := testingpkg.NewTestDB(t, database.NameRuns)
	t.Cleanup(cleanup)
	dbs := map[string]*database.DB{database.NameRuns: runsDB}

	market := testingpkg.NewMarketFixture(tradeDate, 260)
	weights := make(map[domain.RiskID]float64)
	for _, inst := range market.Instruments {
		weights[inst.RiskID] = inst.Benchmark
	}

	bus := events.NewBus(log)
	m := metrics.New()
	service := rebalancing.NewService(
		testingpkg.NewMockDataProvider(market),
		testingpkg.NewMockBrokerConnector(testingpkg.NewMockBrokerSession(market.Prices(), nil, 1_000_000)),
		testingpkg.NewMockOptimizer(weights),
		config.DefaultStrategy(),
		rebalancing.NewRunRepository(runsDB, log),
		events.NewManager(bus, log),
		m,
		log,
	)

	jobs := &fakeJobs{
		statuses: []scheduler.JobStatus{
			{Name: "rebalance", Schedule: "30 21 * * 1-5"},
			{Name: "weekly_maintenance", Schedule: "0 3 * * 0", Running: true},
		},
		ran: make(chan string, 1),
	}

	s := New(Config{
		Log:         log,
		Port:        0,
		DevMode:     true,
		DataDir:     t.TempDir(),
		Version:     "test",
		Databases:   dbs,
		Rebalancing: service,
		EventBus:    bus,
		Metrics:     m,
		Jobs:        jobs,
	})
	return &testEnv{server: s, bus: bus, jobs: jobs, dbs: dbs}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)

	var decoded map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "ok", body["databases"].(map[string]interface{})[database.NameRuns])
}

func TestHealth_DatabaseDown(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.dbs[database.NameRuns].Close())

	w, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodPost, "/api/rebalancing/preview", `{"date":"2024-06-14"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `sftrader_rebalance_runs_total{outcome="dry_run"} 1`)
	assert.Contains(t, w.Body.String(), "sftrader_portfolio_active_risk")
}

func TestRoutesMounted(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodPost, "/api/rebalancing/preview", `{"date":"2024-06-14"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/rebalancing/latest", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/risk/portfolio/summary?date=2024-06-14", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRebalanceEventsReachBus(t *testing.T) {
	env := newTestEnv(t)

	var mu sync.Mutex
	var seen []events.EventType
	env.bus.Subscribe(func(e *events.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Type)
	}, events.RebalanceStarted, events.RebalanceCompleted)

	w, _ := env.do(t, http.MethodPost, "/api/rebalancing/preview", `{"date":"2024-06-14"}`)
	require.Equal(t, http.StatusOK, w.Code)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.EventType{events.RebalanceStarted, events.RebalanceCompleted}, seen)
}
