package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all charity API routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/search", h.HandleSearch)
	r.Get("/charity/{number}", func(w http.ResponseWriter, r *http.Request) {
		h.HandleGetCharity(w, r, chi.URLParam(r, "number"))
	})
	r.Get("/categories", h.HandleCategories)
	r.Get("/top", h.HandleTop)
	r.Get("/stats", h.HandleStats)
	r.Get("/meta", h.HandleMeta)
	r.Get("/export/compact", h.HandleExportCompact)
}
