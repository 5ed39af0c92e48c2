// Package server provides the HTTP server and routing for sftrader.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/sftrader/internal/database"
	"github.com/aristath/sftrader/internal/events"
	"github.com/aristath/sftrader/internal/metrics"
	"github.com/aristath/sftrader/internal/modules/rebalancing"
	rebalancinghandlers "github.com/aristath/sftrader/internal/modules/rebalancing/handlers"
	riskhandlers "github.com/aristath/sftrader/internal/modules/risk/handlers"
)

// Config holds server configuration
type Config struct {
	Log         zerolog.Logger
	Port        int
	DevMode     bool
	DataDir     string
	Version     string
	Databases   map[string]*database.DB
	Rebalancing *rebalancing.Service
	EventBus    *events.Bus
	Metrics     *metrics.Metrics
	Jobs        JobRunner // optional
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            Config
	startupTime    time.Time
	systemHandlers *SystemHandlers
	eventsStream   *EventsStreamHandler
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		cfg:            cfg,
		startupTime:    time.Now(),
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.DataDir, cfg.Databases, cfg.Jobs),
		eventsStream:   NewEventsStreamHandler(cfg.EventBus, cfg.Log),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: event streams stay open
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupMiddleware configures middleware shared by every route
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Group(func(r chi.Router) {
		s.useRequestMiddleware(r)
		r.Get("/health", s.handleHealth)
		if s.cfg.Metrics != nil {
			r.Handle("/metrics", s.cfg.Metrics.Handler())
		}
	})

	s.router.Route("/api", func(r chi.Router) {
		// Long-lived streams must not be cut off by the request timeout
		r.Get("/events/stream", s.eventsStream.ServeSSE)
		r.Get("/events/ws", s.eventsStream.ServeWS)

		r.Group(func(r chi.Router) {
			s.useRequestMiddleware(r)

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.systemHandlers.HandleSystemStatus)
				r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
				r.Get("/jobs", s.systemHandlers.HandleJobsStatus)
				r.Post("/jobs/{name}/run", s.systemHandlers.HandleTriggerJob)
			})

			if s.cfg.Rebalancing != nil {
				rebalancinghandlers.NewHandler(s.cfg.Rebalancing, s.log).RegisterRoutes(r)
				riskhandlers.NewHandler(s.cfg.Rebalancing, s.log).RegisterRoutes(r)
			}
		})
	})
}

func (s *Server) useRequestMiddleware(r chi.Router) {
	r.Use(middleware.Timeout(60 * time.Second))
	if !s.cfg.DevMode {
		r.Use(middleware.Compress(5))
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
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
