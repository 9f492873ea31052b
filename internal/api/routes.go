package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the router: management endpoints under /api, the
// provider webhook under /webhooks, and an unauthenticated health check.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sequences/{id}/schedule", h.ScheduleSequence)
		r.Post("/contacts/{id}/cancel-jobs", h.CancelContactJobs)
		r.Post("/emails/send", h.SendImmediate)

		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{id}", h.GetJob)
		r.Get("/jobs/{id}/events", h.ListJobEvents)

		r.Get("/stats", h.GetStats)
	})

	// Provider callbacks live outside /api so future auth middleware on the
	// management surface never breaks event delivery.
	r.Post("/webhooks/email-events", h.ReceiveEmailEvents)

	return r
}
