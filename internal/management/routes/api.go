package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/relay/internal/management/deps"
	"github.com/MrSnakeDoc/relay/internal/management/handlers"
	"github.com/MrSnakeDoc/relay/internal/management/mw"
)

func init() { Register(registerAPI) }

func registerAPI(r chi.Router, d deps.Deps) {
	limit := d.RateLimit
	limit.TrustProxy = d.TrustProxy

	r.Route("/api", func(r chi.Router) {
		r.Use(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger))
		r.Use(mw.RateLimit(limit))

		r.Get("/context", handlers.Context(d))
		r.Get("/routes", handlers.Routes(d))
		r.Get("/routes/{id}", handlers.Route(d))
		r.Get("/endpoints", handlers.Endpoints(d))
		r.Get("/services", handlers.Services(d))
		r.Get("/startup-order", handlers.StartupOrder(d))
		r.Get("/shutdown-report", handlers.ShutdownReport(d))
	})
}
