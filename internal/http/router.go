package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mixcrate/dj-booking-core/internal/observability"
	"github.com/mixcrate/dj-booking-core/internal/rateLimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(ActorMiddleware)
	r.Use(RateLimitMiddleware(rl))

	r.Group(func(r chi.Router) {
		r.Use(IdempotencyKeyMiddleware)

		r.Post("/v1/bookings", h.CreateBooking)
		r.Post("/v1/bookings/{id}/assign", h.AssignDj)
		r.Post("/v1/bookings/{id}/quote", h.SetQuote)
		r.Post("/v1/bookings/{id}/accept", h.AcceptBooking)
		r.Post("/v1/bookings/{id}/complete", h.ConfirmCompletion)
		r.Post("/v1/bookings/{id}/dispute", h.OpenDispute)
		r.Post("/v1/djs/match", h.MatchDjs)
		r.Post("/v1/djs/{id}/terminate", h.TerminateDj)
		r.Post("/v1/recoveries/{id}/accept", h.AcceptRecovery)
		r.Post("/v1/recoveries/{id}/decline", h.DeclineRecovery)
	})

	r.Get("/v1/bookings/{id}", h.GetBooking)
	r.Get("/v1/bookings/{id}/suggestions", h.Suggestions)
	r.Put("/v1/djs/{id}/profile", h.SaveProfile)
	r.Get("/v1/recoveries/{id}", h.GetRecovery)

	// The gateway signs its own calls; idempotency is handled by the
	// status guards on the booking row.
	r.Post("/v1/payments/callback", h.PaymentCallback)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
