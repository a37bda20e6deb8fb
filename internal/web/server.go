// Package web exposes the kiosk and admin HTTP API.
package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/facegate/facegate/internal/attendance"
	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/match"
	"github.com/facegate/facegate/internal/ratelimit"
	"github.com/facegate/facegate/internal/settings"
	"github.com/facegate/facegate/internal/store"
	"github.com/facegate/facegate/internal/vision"
	"github.com/facegate/facegate/internal/web/middleware"
)

// Deps bundles everything the HTTP layer serves.
type Deps struct {
	Engine     *attendance.Engine
	Vision     vision.Provider
	Identities *store.IdentityRepository
	Sites      *store.SiteRepository
	Events     *store.EventRepository
	Settings   *store.SettingsRepository
	Provider   *settings.Provider
	Employees  *match.IdentityCache
	Visitors   *match.IdentityCache
	ScanLimit  *ratelimit.Limiter
	APILimit   *ratelimit.Limiter
}

// Server represents the web server
type Server struct {
	config     *config.Config
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, deps Deps, port int, host string) *Server {
	r := chi.NewRouter()

	s := &Server{
		config: cfg,
		deps:   deps,
		router: r,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))

	// Set up routes
	s.setupRoutes()

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
