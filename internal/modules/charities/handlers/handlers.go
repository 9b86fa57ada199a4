// Package handlers provides HTTP handlers for the charity API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/calderstone/charitymap/internal/modules/charities"
)

// Handler handles charity HTTP requests
type Handler struct {
	service *charities.Service
	log     zerolog.Logger
}

// NewHandler creates a new charities handler
func NewHandler(service *charities.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "charities").Logger(),
	}
}

// HandleSearch handles GET /api/search
// Finds charities within a radius of a postcode or coordinate pair.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := charities.SearchParams{
		Postcode: q.Get("postcode"),
		Category: q.Get("category"),
		Sort:     q.Get("sort"),
		RadiusKm: parseFloat(q.Get("radius"), 5),
		MinScore: parseInt(q.Get("min_score"), 0),
		Limit:    parseInt(q.Get("limit"), 50),
	}
	if lat, ok := parseOptionalFloat(q.Get("lat")); ok {
		params.Lat = &lat
	}
	if lng, ok := parseOptionalFloat(q.Get("lng")); ok {
		params.Lng = &lng
	}

	resp, err := h.service.Search(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, charities.ErrPostcodeNotFound):
			http.Error(w, "Postcode not found", http.StatusNotFound)
		case errors.Is(err, charities.ErrNoLocation):
			http.Error(w, "Provide either a postcode or lat/lng coordinates", http.StatusBadRequest)
		default:
			h.log.Error().Err(err).Msg("Search failed")
			http.Error(w, "Search failed", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleGetCharity handles GET /api/charity/{number}
func (h *Handler) HandleGetCharity(w http.ResponseWriter, r *http.Request, number string) {
	c, err := h.service.Get(r.Context(), number)
	if err != nil {
		if errors.Is(err, charities.ErrNotFound) {
			http.Error(w, "Charity not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("charity", number).Msg("Failed to load charity")
		http.Error(w, "Failed to load charity", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, c.Full())
}

// HandleCategories handles GET /api/categories
func (h *Handler) HandleCategories(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.Categories(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list categories")
		http.Error(w, "Failed to list categories", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"categories": counts})
}

// HandleTop handles GET /api/top
func (h *Handler) HandleTop(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n := parseInt(q.Get("n"), 10)

	resp, err := h.service.Top(r.Context(), n, q.Get("category"))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list top charities")
		http.Error(w, "Failed to list top charities", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleStats handles GET /api/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Stats(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute stats")
		http.Error(w, "Failed to compute stats", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleMeta handles GET /api/meta
func (h *Handler) HandleMeta(w http.ResponseWriter, r *http.Request) {
	meta, count, err := h.service.Meta(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load meta")
		http.Error(w, "Failed to load meta", http.StatusInternalServerError)
		return
	}

	resp := make(map[string]interface{}, len(meta)+1)
	for k, v := range meta {
		resp[k] = v
	}
	resp["charities_loaded"] = count

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleExportCompact handles GET /api/export/compact
// Streams the whole viable register as a msgpack array in the abbreviated
// wire form the map frontend consumes.
func (h *Handler) HandleExportCompact(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ExportCompact(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to export register")
		http.Error(w, "Failed to export register", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/msgpack")
	w.WriteHeader(http.StatusOK)
	if err := msgpack.NewEncoder(w).Encode(out); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode msgpack export")
	}
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func parseOptionalFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
