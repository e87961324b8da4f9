/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     Structured request logging (slog)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Latency histogram per route pattern
  6. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/auth/*           Login, registration, current user
  /api/contributions/*  Contribution ledger (auth required)
  /api/penalties/*      Penalty ledger (auth required)
  /api/settings         Association settings
  /api/ledger/summary   Grouped totals
  /api/audit            Audit trail (ADMIN)
  /api/users            Registered users (ADMIN)
  /api/scenarios/*      Demo data (dev)
  /healthz, /metrics    Operations

SEE ALSO:
  - handlers.go, entries.go: Handler implementations
  - middleware.go: Authentication and request logging
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pta-hub/dues-engine/generic"
)

// RouterOptions tune the router per deployment.
type RouterOptions struct {
	AllowedOrigins  []string
	EnableScenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(h.metrics.Instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.With(h.OptionalAuth).Post("/register", h.Register)
			r.With(h.RequireAuth).Get("/me", h.Me)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth)

			r.Route("/contributions", func(r chi.Router) {
				h.mountEntries(r, generic.KindContribution, h.CreateContribution)
			})
			r.Route("/penalties", func(r chi.Router) {
				h.mountEntries(r, generic.KindPenalty, h.CreatePenalty)
			})

			r.Get("/settings", h.GetSettings)
			r.With(h.RequireAdmin).Put("/settings", h.UpdateSettings)

			r.Get("/ledger/summary", h.LedgerSummary)
			r.With(h.RequireAdmin).Get("/audit", h.ListAudit)
			r.With(h.RequireAdmin).Get("/users", h.ListUsers)

			if opts.EnableScenarios {
				r.Route("/scenarios", func(r chi.Router) {
					r.Get("/", h.ListScenarios)
					r.Get("/current", h.GetCurrentScenario)
					r.With(h.RequireAdmin).Post("/load", h.LoadScenario)
				})
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusNotFound, nil, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusMethodNotAllowed, nil, "method not allowed")
	})

	return r
}
