package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/sftrader/internal/database"
	"github.com/aristath/sftrader/internal/scheduler"
)

// JobRunner lists registered jobs and runs them on demand
type JobRunner interface {
	Jobs() []scheduler.JobStatus
	RunNow(ctx context.Context, name string) error
}

// SystemHandlers serves process, database and job status
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	databases   map[string]*database.DB
	jobs        JobRunner

	// jobCtx bounds manually triggered jobs, which outlive their request
	jobCtx context.Context
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, dataDir string, databases map[string]*database.DB, jobs JobRunner) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		databases:   databases,
		jobs:        jobs,
		jobCtx:      context.Background(),
	}
}

// DBInfo describes one SQLite database file
type DBInfo struct {
	Name          string  `json:"name"`
	Profile       string  `json:"profile"`
	Path          string  `json:"path"`
	SizeMB        float64 `json:"size_mb"`
	WALSizeMB     float64 `json:"wal_size_mb"`
	PageCount     int64   `json:"page_count"`
	FreelistCount int64   `json:"freelist_count"`
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(h.startupTime).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"go_version":     runtime.Version(),
		"data_dir":       h.dataDir,
	}

	if usage, err := disk.UsageWithContext(r.Context(), h.dataDir); err != nil {
		h.log.Warn().Err(err).Msg("Failed to read disk usage")
	} else {
		response["disk"] = map[string]interface{}{
			"free_gb":      float64(usage.Free) / 1e9,
			"total_gb":     float64(usage.Total) / 1e9,
			"used_percent": usage.UsedPercent,
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": response,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleDatabaseStats handles GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	infos := make([]DBInfo, 0, len(h.databases))
	totalSizeMB := 0.0

	for _, name := range sortedNames(h.databases) {
		db := h.databases[name]
		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", name).Msg("Failed to read database stats")
			continue
		}

		info := DBInfo{
			Name:          name,
			Profile:       string(db.Profile()),
			Path:          filepath.Base(db.Path()),
			SizeMB:        float64(stats.SizeBytes) / 1024 / 1024,
			WALSizeMB:     float64(stats.WALSizeBytes) / 1024 / 1024,
			PageCount:     stats.PageCount,
			FreelistCount: stats.FreelistCount,
		}
		totalSizeMB += info.SizeMB + info.WALSizeMB
		infos = append(infos, info)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"databases":     infos,
			"total_size_mb": totalSizeMB,
			"data_dir_mb":   dirSizeMB(h.dataDir),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleJobsStatus handles GET /api/system/jobs
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.JobStatus{}
	if h.jobs != nil {
		jobs = h.jobs.Jobs()
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"jobs":  jobs,
			"count": len(jobs),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleTriggerJob handles POST /api/system/jobs/{name}/run. The job runs in
// the background and its outcome is published as a job event.
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.jobs == nil {
		h.writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}

	var found *scheduler.JobStatus
	for _, job := range h.jobs.Jobs() {
		if job.Name == name {
			job := job
			found = &job
			break
		}
	}
	if found == nil {
		h.writeError(w, http.StatusNotFound, "unknown job: "+name)
		return
	}
	if found.Running {
		h.writeError(w, http.StatusConflict, "job already running: "+name)
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job run triggered")
	go func() {
		err := h.jobs.RunNow(h.jobCtx, name)
		if err != nil && !errors.Is(err, scheduler.ErrJobRunning) {
			h.log.Error().Err(err).Str("job", name).Msg("Manually triggered job failed")
		}
	}()

	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"data": map[string]interface{}{
			"job":    name,
			"status": "triggered",
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *SystemHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": message,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// writeJSON writes a JSON response
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// dirSizeMB calculates total size of a directory in MB
func dirSizeMB(dirPath string) float64 {
	var totalSize int64
	_ = filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})
	return float64(totalSize) / 1024 / 1024
}

func sortedNames(databases map[string]*database.DB) []string {
	names := make([]string, 0, len(databases))
	for name := range databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
