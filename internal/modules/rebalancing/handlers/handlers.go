// Package handlers provides HTTP handlers for rebalancing operations.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sftrader/internal/domain"
	"github.com/aristath/sftrader/internal/modules/rebalancing"
)

// Handler handles rebalancing HTTP requests
type Handler struct {
	service *rebalancing.Service
	now     func() time.Time
	log     zerolog.Logger
}

// NewHandler creates a new rebalancing handler
func NewHandler(
	service *rebalancing.Service,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		service: service,
		now:     time.Now,
		log:     log.With().Str("handler", "rebalancing").Logger(),
	}
}

// RunRequest selects the trade date of a run. An empty date means today (UTC).
type RunRequest struct {
	Date string `json:"date"`
}

// HandlePreview handles POST /api/rebalancing/preview
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	h.handleRun(w, r, true)
}

// HandleExecute handles POST /api/rebalancing/execute
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	h.handleRun(w, r, false)
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request, dryRun bool) {
	tradeDate, err := h.parseRunRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.service.Run(r.Context(), tradeDate, dryRun)
	if err != nil {
		switch {
		case errors.Is(err, rebalancing.ErrRunInProgress):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrConfig):
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.log.Error().Err(err).Bool("dry_run", dryRun).Msg("Rebalance run failed")
			h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error": err.Error(),
				"data":  res,
				"metadata": map[string]interface{}{
					"timestamp": h.now().Format(time.RFC3339),
				},
			})
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": res,
		"metadata": map[string]interface{}{
			"timestamp": h.now().Format(time.RFC3339),
			"dry_run":   dryRun,
		},
	})
}

func (h *Handler) parseRunRequest(r *http.Request) (time.Time, error) {
	var req RunRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return time.Time{}, fmt.Errorf("invalid request body: %w", err)
		}
	}

	if req.Date == "" {
		now := h.now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	return date, nil
}

// HandleGetLatest handles GET /api/rebalancing/latest
func (h *Handler) HandleGetLatest(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Latest(r.Context())
	if errors.Is(err, rebalancing.ErrRunNotFound) {
		h.writeError(w, http.StatusNotFound, "no rebalance has run yet")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load latest run")
		h.writeError(w, http.StatusInternalServerError, "failed to load latest run")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": res,
		"metadata": map[string]interface{}{
			"timestamp": h.now().Format(time.RFC3339),
		},
	})
}

// HandleGetRuns handles GET /api/rebalancing/runs
func (h *Handler) HandleGetRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.service.History(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load run history")
		h.writeError(w, http.StatusInternalServerError, "failed to load run history")
		return
	}
	if records == nil {
		records = []rebalancing.RunRecord{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"runs":  records,
			"count": len(records),
		},
		"metadata": map[string]interface{}{
			"timestamp": h.now().Format(time.RFC3339),
		},
	})
}

// HandleCancelOrders handles POST /api/rebalancing/orders/cancel
func (h *Handler) HandleCancelOrders(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.service.CancelOpenOrders(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to cancel open orders")
		h.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if outcomes == nil {
		outcomes = []domain.CancelOutcome{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"orders": outcomes,
			"count":  len(outcomes),
		},
		"metadata": map[string]interface{}{
			"timestamp": h.now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": message,
		"metadata": map[string]interface{}{
			"timestamp": h.now().Format(time.RFC3339),
		},
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
