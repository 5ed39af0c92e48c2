// Package handlers provides HTTP handlers for portfolio risk.
package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sftrader/internal/domain"
	"github.com/aristath/sftrader/internal/modules/risk"
)

// PortfolioSummarizer summarizes the broker's current holdings on a date.
type PortfolioSummarizer interface {
	Summarize(ctx context.Context, date time.Time) (*risk.Summary, []domain.Warning, error)
}

// Handler handles risk HTTP requests
type Handler struct {
	summarizer PortfolioSummarizer
	now        func() time.Time
	log        zerolog.Logger
}

// NewHandler creates a new risk handler
func NewHandler(summarizer PortfolioSummarizer, log zerolog.Logger) *Handler {
	return &Handler{
		summarizer: summarizer,
		now:        time.Now,
		log:        log.With().Str("handler", "risk").Logger(),
	}
}

// HandleGetSummary handles GET /api/risk/portfolio/summary
func (h *Handler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, warnings, ok := h.summarize(w, r)
	if !ok {
		return
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"metrics":  summary.Metrics,
			"warnings": warnings,
		},
		"metadata": map[string]interface{}{
			"timestamp": h.now().Format(time.RFC3339),
		},
	}
	h.writeJSON(w, http.StatusOK, response)
}

// HandleGetActiveWeights handles GET /api/risk/portfolio/active
//
// Rows are sorted by absolute active weight, largest first. ?limit= caps
// the number returned.
func (h *Handler) HandleGetActiveWeights(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	summary, _, ok := h.summarize(w, r)
	if !ok {
		return
	}

	active := append([]risk.ActiveWeight(nil), summary.Active...)
	sort.SliceStable(active, func(i, j int) bool {
		return math.Abs(active[i].Active) > math.Abs(active[j].Active)
	})
	if limit > 0 && len(active) > limit {
		active = active[:limit]
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"active":      active,
			"count":       len(active),
			"active_risk": summary.Metrics.ActiveRisk,
		},
		"metadata": map[string]interface{}{
			"timestamp": h.now().Format(time.RFC3339),
		},
	}
	h.writeJSON(w, http.StatusOK, response)
}

func (h *Handler) summarize(w http.ResponseWriter, r *http.Request) (*risk.Summary, []domain.Warning, bool) {
	date := h.now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return nil, nil, false
		}
		date = parsed
	}

	summary, warnings, err := h.summarizer.Summarize(r.Context(), date)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to summarize portfolio")
		http.Error(w, "Failed to summarize portfolio", http.StatusInternalServerError)
		return nil, nil, false
	}
	if warnings == nil {
		warnings = []domain.Warning{}
	}
	return summary, warnings, true
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
