// Package api exposes the conductor engine over HTTP.
//
// Routes:
//
//	POST /jobs                       submit a job
//	GET  /jobs                       list jobs (?status=&priority=&limit=&offset=)
//	GET  /jobs/{jobId}               job detail
//	POST /jobs/{jobId}/cancel        cancel a Pending job
//	GET  /jobs/{jobId}/deliveries    webhook deliveries for one job
//	GET  /deliveries                 list deliveries (?status=&jobId=&limit=)
//	GET  /deliveries/{deliveryId}    delivery detail
//	POST /deliveries/{deliveryId}/replay  retry a dead-lettered delivery
//	GET  /stats                      counts per status and queue depths
//	GET  /healthz                    store reachability
//	GET  /events                     websocket lifecycle event stream
//
// Errors are returned as {"error": "..."} with a status derived from the
// conductor sentinel the error wraps.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/conductor/engine"
)

// API wires the HTTP handlers to an Engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API over eng.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all conductor routes on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", a.health)
	r.Get("/stats", a.stats)
	r.Get("/events", a.events)

	a.registerJobRoutes(r)
	a.registerDeliveryRoutes(r)
}

// registerJobRoutes registers job management routes.
func (a *API) registerJobRoutes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", a.submitJob)
		r.Get("/", a.listJobs)

		r.Route("/{jobId}", func(r chi.Router) {
			r.Get("/", a.getJob)
			r.Post("/cancel", a.cancelJob)
			r.Get("/deliveries", a.jobDeliveries)
		})
	})
}

// registerDeliveryRoutes registers webhook delivery routes.
func (a *API) registerDeliveryRoutes(r chi.Router) {
	r.Route("/deliveries", func(r chi.Router) {
		r.Get("/", a.listDeliveries)
		r.Get("/{deliveryId}", a.getDelivery)
		r.Post("/{deliveryId}/replay", a.replayDelivery)
	})
}
