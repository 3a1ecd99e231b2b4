/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the web client

ROUTE GROUPS:
  /health, /metrics     Liveness and Prometheus scrape
  /api/catalog*         Public catalog
  /api/packages         Public package list
  /api/*                Bearer token required
  /api/purchases        Wallet or admin role required
  /api/admin/*          Admin role required

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authenticator middleware
  - cmd/escrowd: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *Authenticator, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Public
		r.Get("/catalog", h.GetCatalog)
		r.Get("/packages", h.ListPackages)

		// Authenticated
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			r.Get("/catalog/{platform}/{action}/range", h.GetRewardRange)

			r.Route("/me", func(r chi.Router) {
				r.Get("/", h.GetMe)
				r.Get("/entries", h.GetEntries)
			})
			r.With(RequireRole(RoleWallet, RoleAdmin)).Post("/purchases", h.Purchase)

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", h.ListTasks)
				r.Post("/", h.CreateTask)
				r.Get("/{id}", h.GetTask)
				r.Post("/{id}/complete", h.CompleteTask)
				r.Get("/{id}/completion", h.GetCompletionStatus)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Post("/official-tasks", h.CreateOfficialTask)
				r.Post("/official-tasks/seed", h.SeedOfficialTasks)
				r.Post("/recovery", h.RunRecovery)
			})
		})
	})

	return r
}
