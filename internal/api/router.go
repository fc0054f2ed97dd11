package api

import (
	"net/http"

	"github.com/carebridge/dispatch/internal/publisher"
	"github.com/carebridge/dispatch/internal/queue"
	"github.com/carebridge/dispatch/internal/ratelimit"
	"github.com/carebridge/dispatch/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps carries everything the handlers need.
type Deps struct {
	Store      *store.PostgresStore
	Publisher  *publisher.Publisher
	WebhookQ   *queue.Queue
	PushQ      *queue.Queue
	Limiter    *ratelimit.Limiter
	Policies   ratelimit.Policies
	OTPLimiter *ratelimit.OTPLimiter
	OTPNotify  OTPNotifier
}

// NewRouter configures the HTTP surface. Admission control runs before any
// business handler: the rate-limit middleware wraps the whole /api/v1 tree.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	subHandler := NewSubscriptionHandler(deps.Store)
	eventHandler := NewEventHandler(deps.Publisher)
	deliveryHandler := NewDeliveryHandler(deps.Store, deps.WebhookQ, deps.PushQ)
	dlqHandler := NewDeadLetterHandler(deps.WebhookQ, deps.PushQ)
	otpHandler := NewOTPHandler(deps.OTPLimiter, deps.OTPNotify)
	statsHandler := NewStatsHandler(deps.Store, deps.WebhookQ, deps.PushQ)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ratelimit.Middleware(deps.Limiter, deps.Policies))

		r.Get("/health", HealthHandler())

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", subHandler.Create)
			r.Get("/", subHandler.List)
			r.Get("/{id}", subHandler.Get)
			r.Delete("/{id}", subHandler.Deactivate)
		})

		r.Post("/events", eventHandler.Publish)

		r.Route("/deliveries", func(r chi.Router) {
			r.Get("/", deliveryHandler.List)
			r.Get("/{id}", deliveryHandler.Get)
			r.Post("/{id}/requeue", deliveryHandler.Requeue)
		})

		r.Route("/dead-letters", func(r chi.Router) {
			r.Get("/", dlqHandler.List)
			r.Post("/replay", dlqHandler.Replay)
		})

		r.Post("/otp/request", otpHandler.Request)

		r.Get("/stats", statsHandler.Stats)
	})

	return r
}
