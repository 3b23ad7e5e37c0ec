package http

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/bus-seat-reservations/internal/idempotency"
	"github.com/robertarktes/bus-seat-reservations/internal/observability"
	"github.com/robertarktes/bus-seat-reservations/internal/rateLimit"
)

var DefaultRateLimits = RateLimits{PerUser: 60, PerIP: 300, Period: time.Minute}

// SetupRouter wires the public API. rl and idemp may be nil when Redis is
// not configured; rate limiting and response replay are then disabled.
func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		if rl != nil {
			r.Use(RateLimitMiddleware(rl, DefaultRateLimits))
		}
		r.Get("/v1/departures", h.SearchDepartures)
		r.Get("/v1/departures/{id}/seats", h.SeatMap)
	})

	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware)
		if rl != nil {
			r.Use(RateLimitMiddleware(rl, DefaultRateLimits))
		}
		r.Use(IdempotencyMiddleware(idemp))

		r.Post("/v1/holds", h.CreateHold)
		r.Post("/v1/holds/{id}/confirm", h.ConfirmHold)
		r.Post("/v1/holds/{id}/extend", h.ExtendHold)
		r.Post("/v1/holds/{id}/abandon", h.AbandonHold)
		r.Get("/v1/reservations", h.ListReservations)
		r.Post("/v1/reservations/{id}/cancel", h.CancelReservation)
	})

	return r
}
