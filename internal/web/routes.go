package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/facegate/facegate/internal/web/handlers"
	"github.com/facegate/facegate/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	// Create handlers
	scanHandler := handlers.NewScanHandler(s.deps.Engine, s.deps.Vision)
	identitiesHandler := handlers.NewIdentitiesHandler(s.deps.Identities, s.deps.Vision, s.deps.Employees, s.deps.Visitors)
	sitesHandler := handlers.NewSitesHandler(s.deps.Sites)
	eventsHandler := handlers.NewEventsHandler(s.deps.Events)
	settingsHandler := handlers.NewSettingsHandler(s.deps.Settings, s.deps.Provider)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(s.config.Web.APIKey))

		// Kiosk scan pipeline, throttled per device IP
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.deps.ScanLimit, "scan"))
			r.Post("/scan", scanHandler.Scan)
		})

		// Admin surface
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.deps.APILimit, "api"))

			// Identities and enrollment
			r.Get("/identities", identitiesHandler.List)
			r.Post("/identities", identitiesHandler.Create)
			r.Get("/identities/{uid}", identitiesHandler.Get)
			r.Put("/identities/{uid}", identitiesHandler.Update)
			r.Delete("/identities/{uid}", identitiesHandler.Deactivate)
			r.Post("/identities/{uid}/embeddings", identitiesHandler.AddEmbedding)
			r.Get("/identities/{uid}/events/today", eventsHandler.ListToday)

			// Sites
			r.Get("/sites", sitesHandler.List)
			r.Post("/sites", sitesHandler.Create)
			r.Get("/sites/{uid}", sitesHandler.Get)
			r.Put("/sites/{uid}", sitesHandler.Update)
			r.Delete("/sites/{uid}", sitesHandler.Deactivate)

			// Events
			r.Get("/events", eventsHandler.ListRecent)
			r.Get("/events/review", eventsHandler.ListReviewable)

			// Runtime settings
			r.Get("/settings", settingsHandler.List)
			r.Put("/settings/{key}", settingsHandler.Set)
			r.Delete("/settings/{key}", settingsHandler.Delete)
		})
	})
}
