package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sftrader/internal/database"
)

func TestSystemHandlers_HandleJobsStatus(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/api/system/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)

	data := body["data"].(map[string]interface{})
	assert.Equal(t, 2.0, data["count"])
	first := data["jobs"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "rebalance", first["name"])
	assert.Equal(t, "30 21 * * 1-5", first["schedule"])
}

func TestSystemHandlers_HandleTriggerJob(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/system/jobs/rebalance/run", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "triggered", body["data"].(map[string]interface{})["status"])

	select {
	case name := <-env.jobs.ran:
		assert.Equal(t, "rebalance", name)
	case <-time.After(2 * time.Second):
		t.Fatal("job was never run")
	}
}

func TestSystemHandlers_HandleTriggerJob_Errors(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodPost, "/api/system/jobs/unknown/run", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/system/jobs/weekly_maintenance/run", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	assert.Empty(t, env.jobs.ran)
}

func TestSystemHandlers_WithoutScheduler(t *testing.T) {
	h := NewSystemHandlers(testLogger(), t.TempDir(), nil, nil)

	w := serve(h.HandleJobsStatus, http.MethodGet, "/api/system/jobs")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
}

func TestSystemHandlers_HandleDatabaseStats(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/api/system/database/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	dbs := body["data"].(map[string]interface{})["databases"].([]interface{})
	require.Len(t, dbs, 1)
	info := dbs[0].(map[string]interface{})
	assert.Equal(t, database.NameRuns, info["name"])
	assert.Equal(t, string(database.ProfileStandard), info["profile"])
	assert.Greater(t, info["page_count"], 0.0)
}

func TestSystemHandlers_HandleSystemStatus(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/api/system/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "healthy", data["status"])
	assert.Contains(t, data, "goroutines")
}
