package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sftrader/internal/domain"
	"github.com/aristath/sftrader/internal/modules/risk"
)

type stubSummarizer struct {
	summary  *risk.Summary
	warnings []domain.Warning
	err      error
	dates    []time.Time
}

func (s *stubSummarizer) Summarize(_ context.Context, date time.Time) (*risk.Summary, []domain.Warning, error) {
	s.dates = append(s.dates, date)
	return s.summary, s.warnings, s.err
}

func newStub() *stubSummarizer {
	return &stubSummarizer{
		summary: &risk.Summary{
			Metrics: domain.PortfolioMetrics{GrossExposure: 0.6, NetExposure: 0.4, NumLong: 2, NumShort: 1, NumPositions: 3, ActiveRisk: 0.05},
			Active: []risk.ActiveWeight{
				{RiskID: "R1", Ticker: "X", Holding: 0.3, Benchmark: 0.25, Active: 0.05},
				{RiskID: "R2", Ticker: "Y", Holding: -0.1, Benchmark: 0.1, Active: -0.2},
				{RiskID: "R3", Ticker: "Z", Holding: 0.2, Benchmark: 0.3, Active: -0.1},
			},
		},
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestHandleGetSummary(t *testing.T) {
	stub := newStub()
	stub.warnings = []domain.Warning{{Code: domain.WarnUnmappedTicker, Stage: domain.StageRisk, Instrument: "Q", Message: "unmapped"}}
	handler := NewHandler(stub, zerolog.New(nil).Level(zerolog.Disabled))

	req := httptest.NewRequest(http.MethodGet, "/api/risk/portfolio/summary?date=2024-06-14", nil)
	w := httptest.NewRecorder()
	handler.HandleGetSummary(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.Len(t, stub.dates, 1)
	assert.Equal(t, time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC), stub.dates[0])

	body := decode(t, w)
	data := body["data"].(map[string]interface{})
	metrics := data["metrics"].(map[string]interface{})
	assert.Equal(t, 0.6, metrics["gross_exposure"])
	assert.Equal(t, 2.0, metrics["num_long"])
	assert.Len(t, data["warnings"], 1)
	assert.Contains(t, body, "metadata")
}

func TestHandleGetSummary_BadDate(t *testing.T) {
	handler := NewHandler(newStub(), zerolog.New(nil).Level(zerolog.Disabled))

	req := httptest.NewRequest(http.MethodGet, "/api/risk/portfolio/summary?date=14/06/2024", nil)
	w := httptest.NewRecorder()
	handler.HandleGetSummary(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetSummary_Error(t *testing.T) {
	stub := newStub()
	stub.err = errors.New("broker down")
	handler := NewHandler(stub, zerolog.New(nil).Level(zerolog.Disabled))

	req := httptest.NewRequest(http.MethodGet, "/api/risk/portfolio/summary", nil)
	w := httptest.NewRecorder()
	handler.HandleGetSummary(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleGetActiveWeights_SortedAndLimited(t *testing.T) {
	handler := NewHandler(newStub(), zerolog.New(nil).Level(zerolog.Disabled))

	req := httptest.NewRequest(http.MethodGet, "/api/risk/portfolio/active?limit=2", nil)
	w := httptest.NewRecorder()
	handler.HandleGetActiveWeights(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	active := data["active"].([]interface{})
	require.Len(t, active, 2)
	assert.Equal(t, "Y", active[0].(map[string]interface{})["ticker"])
	assert.Equal(t, "Z", active[1].(map[string]interface{})["ticker"])
	assert.Equal(t, 0.05, data["active_risk"])
}

func TestHandleGetActiveWeights_BadLimit(t *testing.T) {
	handler := NewHandler(newStub(), zerolog.New(nil).Level(zerolog.Disabled))

	req := httptest.NewRequest(http.MethodGet, "/api/risk/portfolio/active?limit=zero", nil)
	w := httptest.NewRecorder()
	handler.HandleGetActiveWeights(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
