package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all rebalancing routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/rebalancing", func(r chi.Router) {
		r.Post("/preview", h.HandlePreview)
		r.Post("/execute", h.HandleExecute)
		r.Get("/latest", h.HandleGetLatest)
		r.Get("/runs", h.HandleGetRuns)
		r.Post("/orders/cancel", h.HandleCancelOrders)
	})
}
