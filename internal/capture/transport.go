// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package capture

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/shopsight/shopsight/internal/logging"
	"github.com/shopsight/shopsight/internal/metrics"
	"github.com/shopsight/shopsight/internal/models"
)

// Sender delivers capture payloads to the collection endpoints.
type Sender interface {
	// SendBatch delivers an interaction batch. An error means the whole
	// batch must be retried; the server deduplicates redeliveries.
	SendBatch(ctx context.Context, batch models.EventBatch) error

	// SendBeacon delivers a final batch on teardown, fire-and-forget.
	// No error: there is nobody left to retry.
	SendBeacon(batch models.EventBatch)

	// SendPerformance delivers network telemetry samples.
	SendPerformance(ctx context.Context, samples []models.PerformanceSample) error
}

// HTTPSender posts payloads to the collection API behind a circuit breaker,
// so a dead collector stops consuming shopper-side resources quickly.
type HTTPSender struct {
	base    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// NewHTTPSender creates a sender for the given collector base URL, e.g.
// "https://collect.example.com".
func NewHTTPSender(base string, client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	settings := gobreaker.Settings{
		Name:        "capture-sender",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Capture sender circuit breaker state change")
		},
	}

	return &HTTPSender{
		base:    base,
		client:  client,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// post sends one JSON payload through the breaker.
func (s *HTTPSender) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := s.breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			metrics.CircuitBreakerRequests.WithLabelValues("capture-sender", "failure").Inc()
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			metrics.CircuitBreakerRequests.WithLabelValues("capture-sender", "failure").Inc()
			return nil, fmt.Errorf("collector returned %d", resp.StatusCode)
		}
		metrics.CircuitBreakerRequests.WithLabelValues("capture-sender", "success").Inc()
		return resp, nil
	})
	if err != nil {
		return err
	}

	// 4xx means the payload is unacceptable; retrying cannot help, so the
	// caller treats it as delivered and moves on.
	if resp.StatusCode >= 400 {
		logging.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("Collector rejected capture payload")
	}
	return nil
}

// SendBatch delivers an interaction batch.
func (s *HTTPSender) SendBatch(ctx context.Context, batch models.EventBatch) error {
	return s.post(ctx, "/api/v1/capture/batch", batch)
}

// SendBeacon delivers a final batch with a short deadline, errors ignored.
func (s *HTTPSender) SendBeacon(batch models.EventBatch) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.post(ctx, "/api/v1/capture/batch", batch); err != nil {
		logging.Debug().Err(err).Msg("Beacon delivery failed")
	}
}

// SendPerformance delivers network telemetry samples.
func (s *HTTPSender) SendPerformance(ctx context.Context, samples []models.PerformanceSample) error {
	return s.post(ctx, "/api/v1/capture/performance", samples)
}

// InstrumentedClient wraps an http.Client so every storefront request
// produces a performance sample. The wrapped call's response and error pass
// through untouched; telemetry failures never surface to the caller.
type InstrumentedClient struct {
	inner   *http.Client
	observe func(models.PerformanceSample)
	session func() string
}

// NewInstrumentedClient wraps client; observe receives one sample per
// request and must not block.
func NewInstrumentedClient(client *http.Client, session func() string, observe func(models.PerformanceSample)) *InstrumentedClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &InstrumentedClient{inner: client, observe: observe, session: session}
}

// Do executes the request and records a sample. Transport failures record
// status 0 with the error string; the original error is still returned.
func (c *InstrumentedClient) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.inner.Do(req)

	sample := models.PerformanceSample{
		SessionID:  c.session(),
		URL:        req.URL.String(),
		Method:     req.Method,
		DurationMS: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		sample.StatusCode = 0
		sample.Error = err.Error()
	} else {
		sample.StatusCode = resp.StatusCode
	}

	// Observation must never break the storefront call path.
	func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Warn().Interface("panic", r).Msg("Performance observer panicked")
			}
		}()
		c.observe(sample)
	}()

	return resp, err
}
