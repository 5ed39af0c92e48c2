package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all risk routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/risk", func(r chi.Router) {
		r.Route("/portfolio", func(r chi.Router) {
			r.Get("/summary", h.HandleGetSummary)
			r.Get("/active", h.HandleGetActiveWeights)
		})
	})
}
