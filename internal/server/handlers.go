package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleHealth reports process health. Any database that fails a ping
// turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK

	dbStatus := make(map[string]string, len(s.cfg.Databases))
	for _, name := range sortedNames(s.cfg.Databases) {
		if err := s.cfg.Databases[name].QuickCheck(r.Context()); err != nil {
			s.log.Warn().Err(err).Str("database", name).Msg("Health check failed")
			dbStatus[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		dbStatus[name] = "ok"
	}

	cpuPercent, memPercent := s.systemStats()

	s.writeJSON(w, code, map[string]interface{}{
		"status":         status,
		"version":        s.cfg.Version,
		"service":        "sftrader",
		"uptime_seconds": int64(time.Since(s.startupTime).Seconds()),
		"databases":      dbStatus,
		"cpu_percent":    cpuPercent,
		"memory_percent": memPercent,
	})
}

// systemStats returns CPU and RAM usage percentages, sampling CPU over
// 100ms so health checks stay fast
func (s *Server) systemStats() (float64, float64) {
	cpuAvg := 0.0
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuAvg, 0
	}
	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
