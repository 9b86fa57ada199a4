// Package server provides the HTTP server and routing for the charity map.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/calderstone/charitymap/internal/config"
	"github.com/calderstone/charitymap/internal/database"
	"github.com/calderstone/charitymap/internal/modules/charities"
	charityhandlers "github.com/calderstone/charitymap/internal/modules/charities/handlers"
	"github.com/calderstone/charitymap/internal/refresh"
)

// Config holds server configuration.
type Config struct {
	Log        zerolog.Logger
	RegisterDB *database.DB
	CacheDB    *database.DB
	Config     *config.Config
	Service    *charities.Service
	Runner     *refresh.Runner
}

// Server is the HTTP server.
type Server struct {
	router          *chi.Mux
	server          *http.Server
	log             zerolog.Logger
	registerDB      *database.DB
	cacheDB         *database.DB
	cfg             *config.Config
	service         *charities.Service
	systemHandlers  *SystemHandlers
	refreshHandlers *RefreshHandlers
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		registerDB: cfg.RegisterDB,
		cacheDB:    cfg.CacheDB,
		cfg:        cfg.Config,
		service:    cfg.Service,
	}

	s.systemHandlers = NewSystemHandlers(cfg.Log, cfg.Config.DataDir, []*database.DB{cfg.RegisterDB, cfg.CacheDB})
	s.refreshHandlers = NewRefreshHandlers(cfg.Runner, cfg.Log)

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Notifier returns the progress sink refresh runs should report to. Updates
// fan out to every connected websocket client.
func (s *Server) Notifier() refresh.Notifier {
	return s.refreshHandlers.hub
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		charityHandler := charityhandlers.NewHandler(s.service, s.log)
		charityHandler.RegisterRoutes(r)

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
		})

		r.Post("/refresh", s.refreshHandlers.HandleTriggerRefresh)
		r.Get("/refresh/ws", s.refreshHandlers.HandleRefreshWS)
	})
}

// handleHealth reports service liveness plus how much data is loaded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.Count(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Health check count failed")
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "healthy",
		"service":          "charitymap",
		"charities_loaded": count,
	})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
