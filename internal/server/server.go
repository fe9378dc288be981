// Package server provides the HTTP API for stockdeck.
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
)

// Config holds server configuration.
type Config struct {
	Port     int
	DevMode  bool
	Log      zerolog.Logger
	Handlers *Handlers
	System   *SystemHandlers
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes(cfg.Handlers, cfg.System)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
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
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
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
func (s *Server) setupRoutes(h *Handlers, sys *SystemHandlers) {
	s.router.Get("/health", sys.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", h.HandleCreateTask)
			r.Get("/", h.HandleListTasks)
			r.Get("/running", h.HandleRunningTasks)
			r.Get("/{id}", h.HandleGetTask)
			r.Post("/{id}/cancel", h.HandleCancelTask)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/{symbol}", h.HandleLatestReport)
			r.Get("/{symbol}/history", h.HandleReportHistory)
			r.Get("/{symbol}/versions/{version}", h.HandleReportVersion)
			r.Post("/{symbol}/regenerate", h.HandleRegenerateReport)
		})

		r.Route("/watchlist", func(r chi.Router) {
			r.Get("/", h.HandleListWatchlist)
			r.Post("/", h.HandleAddWatchlist)
			r.Put("/{symbol}", h.HandleUpdateWatchlist)
			r.Delete("/{symbol}", h.HandleRemoveWatchlist)
		})

		r.Get("/prices/{symbol}", h.HandlePrices)
		r.Get("/signals/{symbol}", h.HandleLatestSignal)
		r.Get("/forecasts/{symbol}", h.HandleLatestForecast)

		r.Route("/news", func(r chi.Router) {
			r.Get("/", h.HandleRecentNews)
			r.Get("/analysis/{symbol}", h.HandleNewsAnalysis)
		})

		r.Post("/pipeline/run", h.HandleRunPipeline)

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", sys.HandleSystemStatus)
			r.Get("/database/stats", sys.HandleDatabaseStats)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
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
