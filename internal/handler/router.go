package handler

import (
	"net/http"

	"github.com/exjam-alumni/eventreg/internal/auth"
	"github.com/exjam-alumni/eventreg/internal/metrics"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter builds the full chi route tree.
func NewRouter(h *Handler, verifier *auth.Verifier, m *metrics.Metrics, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(log))
	r.Use(Metrics(m))
	r.Use(CORS)

	r.Get("/health", HealthCheck)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	// Signed by the gateway; no bearer token.
	r.Post("/webhooks/payment", h.PaymentWebhook)

	r.Route("/events", func(r chi.Router) {
		r.Get("/", h.ListEvents)
		r.Get("/{id}", h.GetEvent)
		r.Get("/{id}/capacity", h.GetCapacity)
		r.With(Authenticate(verifier)).Post("/{id}/waitlist/leave", h.LeaveWaitlist)
	})

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(verifier))

		r.Get("/me/registrations", h.ListMyRegistrations)
		r.Route("/registrations", func(r chi.Router) {
			r.Post("/", h.Register)
			r.Get("/{id}", h.GetRegistration)
			r.Post("/{id}/cancel", h.CancelRegistration)
			r.Post("/{id}/accept", h.AcceptOffer)
			r.Get("/{id}/badge", h.Badge)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/check-in", h.CheckIn)
			r.Get("/check-in", h.CheckInStatus)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/events", h.CreateEvent)
			r.Patch("/events/{id}/status", h.UpdateEventStatus)
			r.Get("/events/{id}/registrations", h.ListEventRegistrations)
			r.Get("/events/{id}/registrations/export", h.ExportRegistrations)
			r.Get("/events/{id}/waitlist", h.ListWaitlist)
			r.Get("/events/{id}/analytics", h.Analytics)
			r.Post("/events/{id}/waitlist/promote", h.PromoteNext)
			r.Post("/waitlist/expire-offers", h.ExpireOffers)
			r.Post("/payments/{reference}/resolve", h.ResolvePayment)
		})
	})

	return r
}
