package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gamecloud/gateway/internal/api/middleware"
	"github.com/gamecloud/gateway/internal/config"
	"github.com/gamecloud/gateway/internal/routing"
)

// NewRouter builds the HTTP handler: the global middleware chain and
// the eight proxy routes plus health and version.
func NewRouter(cfg *config.Config, table *routing.Table, verifier middleware.TokenVerifier, h *Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RealIP)
	r.Use(middleware.TraceID)
	r.Use(middleware.ErrorHandler(cfg.Environment))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)

	origins := cfg.AppSettings.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	secure := func(action string) func(http.Handler) http.Handler {
		return middleware.Authorize(table, verifier, action)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/version", h.Version)

		r.Route("/{ms}/{resource}", func(r chi.Router) {
			r.With(secure(routing.ActionList)).Get("/", h.List)
			r.With(secure(routing.ActionCreate)).Post("/", h.Create)
			r.With(secure("")).Post("/actions/{action}", h.CustomAction)

			r.Route("/{id:[0-9]+}", func(r chi.Router) {
				r.With(secure(routing.ActionGet)).Get("/", h.Get)
				r.With(secure(routing.ActionUpdate)).Put("/", h.Update)
				r.With(secure(routing.ActionDelete)).Delete("/", h.Delete)
				r.With(secure("")).Post("/actions/{action}", h.CustomActionWithID)
			})
		})
	})

	return r
}
