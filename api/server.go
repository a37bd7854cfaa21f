/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/workers/*        Roster, harvest, earnings, payments, quotas
  /api/groups/*         Group quota management
  /api/pricing/*        Pricing policy
  /api/admin/*          Pay runs
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Worker routes
		r.Route("/workers", func(r chi.Router) {
			r.Get("/", h.ListWorkers)
			r.Post("/", h.SaveWorker)
			r.Get("/{id}", h.GetWorker)
			r.Delete("/{id}", h.RemoveWorker)
			r.Post("/{id}/harvest", h.LogHarvest)
			r.Get("/{id}/harvest", h.ListHarvest)
			r.Get("/{id}/owed", h.GetOwed)
			r.Post("/{id}/mark-paid", h.MarkPaid)
			r.Get("/{id}/payments", h.ListPayments)
			r.Get("/{id}/quota", h.GetWorkerQuota)
			r.Put("/{id}/quota", h.SetWorkerQuota)
			r.Delete("/{id}/quota", h.ClearWorkerQuota)
		})

		// Group routes
		r.Route("/groups", func(r chi.Router) {
			r.Get("/{id}/quota", h.GetGroupQuota)
			r.Put("/{id}/quota", h.SetGroupQuota)
			r.Delete("/{id}/quota", h.ClearGroupQuota)
		})

		// Pricing routes
		r.Route("/pricing", func(r chi.Router) {
			r.Get("/", h.GetPricing)
			r.Put("/", h.SetPrices)
			r.Put("/overrides/{id}", h.SetOverride)
			r.Delete("/overrides/{id}", h.ClearOverride)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/payrun", h.RunPayRun)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetStore)
		})
	})

	// Minimal index for humans poking at the server.
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service": "fleet-engine",
			"endpoints": []string{
				"/api/workers",
				"/api/pricing",
				"/api/admin/payrun",
			},
		})
	})

	return r
}
