// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides instrumentation for:
// - Event ingest throughput and batch flushes
// - Database query performance (DuckDB)
// - API endpoint latency and throughput
// - Session replay relay activity
// - WebSocket connections
// - Circuit breaker state for outbound calls

var (
	// Ingest Pipeline Metrics
	IngestEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_received_total",
			Help: "Total number of telemetry events received for ingest",
		},
		[]string{"event_type"},
	)

	IngestEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_dropped_total",
			Help: "Total number of events dropped before storage",
		},
		[]string{"reason"}, // "validation", "duplicate", "buffer_full"
	)

	IngestEventsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_events_deduplicated_total",
			Help: "Total number of events skipped as idempotency-key duplicates",
		},
	)

	IngestBatchFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_batch_flush_duration_seconds",
			Help:    "Duration of ingest batch writes to storage in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	IngestBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_batch_size",
			Help:    "Number of events per ingest batch write",
			Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
		},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Analysis Metrics
	FunnelAnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "funnel_analysis_duration_seconds",
			Help:    "Duration of funnel analysis computations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CohortAnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cohort_analysis_duration_seconds",
			Help:    "Duration of cohort analysis computations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Session Replay Metrics
	RecordingFramesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recording_frames_received_total",
			Help: "Total number of session replay frames received",
		},
	)

	RecordingsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recordings_active",
			Help: "Current number of open session recordings",
		},
	)

	RecordingFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recording_flush_duration_seconds",
			Help:    "Duration of replay frame batch writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
		[]string{"error_type"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)
)

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordIngestBatch records a completed ingest batch write
func RecordIngestBatch(batchSize int, duration time.Duration) {
	IngestBatchSize.Observe(float64(batchSize))
	IngestBatchFlushDuration.Observe(duration.Seconds())
}

// RecordEventReceived records one event entering the ingest pipeline
func RecordEventReceived(eventType string) {
	IngestEventsReceived.WithLabelValues(eventType).Inc()
}

// RecordEventDropped records an event dropped before storage
func RecordEventDropped(reason string) {
	IngestEventsDropped.WithLabelValues(reason).Inc()
}
