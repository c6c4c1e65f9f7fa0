// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/golang-jwt/jwt/v5"

	"github.com/shopsight/shopsight/internal/config"
	"github.com/shopsight/shopsight/internal/logging"
	"github.com/shopsight/shopsight/internal/metrics"
)

// Middleware builds the chi middleware stack from the security config.
type Middleware struct {
	cfg  config.SecurityConfig
	cors func(http.Handler) http.Handler
}

// NewMiddleware creates the middleware factory.
func NewMiddleware(cfg config.SecurityConfig) *Middleware {
	return &Middleware{
		cfg: cfg,
		cors: cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         86400,
		}),
	}
}

// CORS returns the configured CORS handler.
func (m *Middleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// rateLimit builds an IP-keyed limiter that counts rejected requests.
func (m *Middleware) rateLimit(requests int, window time.Duration, class string) func(http.Handler) http.Handler {
	if m.cfg.RateLimitDisabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.APIRateLimitHits.WithLabelValues(class).Inc()
			NewResponseWriter(w).Error(http.StatusTooManyRequests, ErrCodeTooManyRequests, "rate limit exceeded")
		}),
	)
}

// RateLimit is the default API limiter from the security config.
func (m *Middleware) RateLimit() func(http.Handler) http.Handler {
	return m.rateLimit(m.cfg.RateLimitReqs, m.cfg.RateLimitWindow, "api")
}

// RateLimitCapture is permissive: every storefront visitor flushes batches
// continuously, so the default API budget would throttle real traffic.
func (m *Middleware) RateLimitCapture() func(http.Handler) http.Handler {
	return m.rateLimit(m.cfg.RateLimitReqs*10, m.cfg.RateLimitWindow, "capture")
}

// RateLimitAnalysis throttles the query-heavy analyze and export routes.
func (m *Middleware) RateLimitAnalysis() func(http.Handler) http.Handler {
	return m.rateLimit(30, time.Minute, "analysis")
}

// RateLimitHealth is permissive for monitoring probes.
func (m *Middleware) RateLimitHealth() func(http.Handler) http.Handler {
	return m.rateLimit(1000, time.Minute, "health")
}

// RateLimitWebSocket bounds the upgrade rate, not message volume.
func (m *Middleware) RateLimitWebSocket() func(http.Handler) http.Handler {
	return m.rateLimit(30, time.Minute, "websocket")
}

// PrometheusMetrics records request counts, latency and in-flight gauge per
// route pattern.
func PrometheusMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.TrackActiveRequest(true)
		defer metrics.TrackActiveRequest(false)

		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		metrics.RecordAPIRequest(r.Method, r.URL.Path, strconv.Itoa(ww.status), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequireAdmin guards the recording control routes with an HS256 bearer
// check. The claim shape is minimal: a valid token whose "role" claim is
// "admin". With no secret configured the guard rejects everything; control
// routes must not silently open up on a missing config value.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.cfg.JWTSecret == "" {
			NewResponseWriter(w).Unauthorized("admin endpoints are disabled: no jwt secret configured")
			return
		}

		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			NewResponseWriter(w).Unauthorized("missing bearer token")
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(m.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			logging.Warn().Err(err).Str("path", r.URL.Path).Msg("Rejected admin token")
			NewResponseWriter(w).Unauthorized("invalid token")
			return
		}
		if role, _ := claims["role"].(string); role != "admin" {
			NewResponseWriter(w).Unauthorized("admin role required")
			return
		}

		next.ServeHTTP(w, r)
	})
}
