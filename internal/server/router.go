package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lumenfeed/lumenfeed/internal/api/handlers"
	"github.com/lumenfeed/lumenfeed/internal/api/middleware"
)

type RouterConfig struct {
	InternalToken    string
	HealthHandler    *handlers.HealthHandler
	JobsHandler      *handlers.JobsHandler
	RetentionHandler *handlers.RetentionHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 1 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", cfg.HealthHandler.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.InternalAuth(cfg.InternalToken))

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", cfg.JobsHandler.Submit)
			r.Get("/failed", cfg.JobsHandler.ListFailed)
			r.Post("/{jobID}/requeue", cfg.JobsHandler.Requeue)
		})

		r.Post("/projects/{projectID}/retention", cfg.RetentionHandler.Trigger)
	})

	return r
}
