package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caminotours/booking/internal/observability"
	"github.com/caminotours/booking/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(MetricsMiddleware)
	r.Use(TracingMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware)
		r.Use(RateLimitMiddleware(rl))
		r.Use(IdempotencyMiddleware)

		r.Route("/v1/packages", func(r chi.Router) {
			r.Get("/", h.ListPackages)
			r.Post("/", h.CreatePackage)
			r.Get("/{id}", h.GetPackage)
			r.Put("/{id}", h.UpdatePackage)
			r.Delete("/{id}", h.DeletePackage)
			r.Get("/{id}/availability", h.CheckAvailability)
		})

		r.Route("/v1/bookings", func(r chi.Router) {
			r.Get("/", h.ListBookings)
			r.Post("/", h.CreateBooking)
			r.Get("/{id}", h.GetBooking)
			r.Patch("/{id}", h.UpdateBooking)
			r.Post("/{id}/cancel", h.CancelBooking)
			r.Post("/{id}/complete", h.CompleteBooking)
		})

		r.Route("/v1/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/items", h.AddCartItem)
			r.Patch("/items/{id}", h.UpdateCartItem)
			r.Delete("/items/{id}", h.RemoveCartItem)
			r.Post("/checkout", h.Checkout)
		})

		r.Route("/v1/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Post("/", h.CreatePayment)
			r.Get("/stats", h.PaymentStats)
			r.Get("/{id}", h.GetPayment)
			r.Post("/{id}/refund", h.RefundPayment)
		})
	})

	return r
}
