// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shopsight/shopsight/internal/logging"
)

// Router assembles the HTTP surface.
type Router struct {
	handlers   *Handlers
	middleware *Middleware
}

// NewRouter wires handlers and middleware into a router.
func NewRouter(handlers *Handlers, middleware *Middleware) *Router {
	return &Router{handlers: handlers, middleware: middleware}
}

// Setup builds the chi route tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())

	// Health probes, permissive for monitors.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.middleware.RateLimitHealth())
		r.Get("/", router.handlers.Health)
		r.Get("/live", router.handlers.HealthLive)
		r.Get("/ready", router.handlers.HealthReady)
	})

	// Capture ingestion: the hot path every storefront visitor hits.
	r.Route("/api/v1/capture", func(r chi.Router) {
		r.Use(router.middleware.RateLimitCapture())
		r.Use(PrometheusMetrics)

		r.Post("/batch", router.handlers.CaptureBatch)
		r.Post("/event", router.handlers.CaptureEvent)
		r.Post("/performance", router.handlers.CapturePerformance)
		r.Post("/recording", router.handlers.CaptureRecording)
		r.Get("/config", router.handlers.CaptureConfig)
	})

	// Funnel management and analysis.
	r.Route("/api/v1/funnels", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())
		r.Use(PrometheusMetrics)

		r.Get("/", router.handlers.FunnelList)
		r.Post("/", router.handlers.FunnelCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", router.handlers.FunnelGet)
			r.Put("/", router.handlers.FunnelUpdate)
			r.Delete("/", router.handlers.FunnelDelete)
			r.With(router.middleware.RateLimitAnalysis()).Get("/analyze", router.handlers.FunnelAnalyze)
			r.With(router.middleware.RateLimitAnalysis()).Get("/export", router.handlers.FunnelExport)
		})
	})

	// Cohort management and analysis.
	r.Route("/api/v1/cohorts", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())
		r.Use(PrometheusMetrics)

		r.Get("/", router.handlers.CohortList)
		r.Post("/", router.handlers.CohortCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", router.handlers.CohortGet)
			r.Put("/", router.handlers.CohortUpdate)
			r.Delete("/", router.handlers.CohortDelete)
			r.With(router.middleware.RateLimitAnalysis()).Get("/analyze", router.handlers.CohortAnalyze)
		})
	})

	// Recording browsing plus admin-gated control routes.
	r.Route("/api/v1/recordings", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())
		r.Use(PrometheusMetrics)

		r.Get("/", router.handlers.RecordingList)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", router.handlers.RecordingGet)
			r.Get("/frames", router.handlers.RecordingFrames)

			r.Group(func(r chi.Router) {
				r.Use(router.middleware.RequireAdmin)
				r.Post("/start", router.handlers.RecordingStart)
				r.Post("/stop", router.handlers.RecordingStop)
			})
		})
	})

	// Live dashboard feed.
	r.Route("/api/v1/ws", func(r chi.Router) {
		r.Use(router.middleware.RateLimitWebSocket())
		r.Get("/", router.handlers.WebSocket)
	})

	r.Handle("/metrics", promhttp.Handler())

	if router.middleware.cfg.JWTSecret == "" {
		logging.Warn().Msg("No jwt secret configured; recording control routes will reject all requests")
	}

	return r
}
