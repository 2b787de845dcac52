// Package server provides the HTTP server of the drug lookup API: router,
// middleware stack and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nextscript/emr-tools/config"
	"github.com/nextscript/emr-tools/interfaces"
	"github.com/nextscript/emr-tools/logging"
	"github.com/nextscript/emr-tools/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server
type Server struct {
	server      *http.Server
	router      chi.Router
	handler     interfaces.HTTPHandler
	config      *config.Config
	rateLimiter *RateLimiter
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, handler interfaces.HTTPHandler) *Server {
	router := chi.NewRouter()

	server := &Server{
		server: &http.Server{
			Handler:           router,
			Addr:              cfg.Address + ":" + cfg.Port,
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    int(cfg.MaxHeaderSize),
		},
		router:      router,
		handler:     handler,
		config:      cfg,
		rateLimiter: NewRateLimiter(),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures all middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(logging.RequestLogger(logging.DefaultLogger()))
	s.router.Use(middleware.RedirectSlashes)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.Metrics)
	s.router.Use(RequestSizeMiddleware(s.config))
	s.router.Use(s.rateLimiter.Handler)
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/drugs", s.handler.ServePagedDrugs)
	s.router.Get("/drugs/search", s.handler.SearchDrugs)
	s.router.Get("/drugs/export.xlsx", s.handler.ExportDrugs)
	s.router.Get("/drugs/{code}", s.handler.FindDrugByCode)

	artifact := "/" + s.config.OutputFile
	s.router.Get(artifact, s.handler.ServeCompiledFile)
	s.router.Get(artifact+".gz", s.handler.ServeCompiledFile)

	s.router.Get("/health", s.handler.HealthCheck)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.NotFound(s.handler.ServeHTTP)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.rateLimiter.StartCleanup(30 * time.Minute)

	logging.Info(fmt.Sprintf("Starting server at: %s:%s", s.config.Address, s.config.Port))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down server...")
	s.rateLimiter.Stop()

	if err := s.server.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
		// If graceful shutdown fails, force close
		if err := s.server.Close(); err != nil {
			logging.Error("Server close error", "error", err)
			return err
		}
	}

	logging.Info("Server shutdown complete")
	return nil
}
