// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

// Package api provides the HTTP surface of the analytics core: capture
// ingestion, funnel and cohort management, recording control, health and
// the live websocket feed.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/shopsight/shopsight/internal/logging"
	"github.com/shopsight/shopsight/internal/models"
)

// Error codes carried in the response envelope.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeStorage         = "STORAGE_ERROR"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeTooManyRequests = "TOO_MANY_REQUESTS"
)

// ResponseWriter writes the standardized APIResponse envelope and stamps
// query timing into the metadata.
type ResponseWriter struct {
	w         http.ResponseWriter
	startTime time.Time
}

// NewResponseWriter starts the response clock for one request.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{w: w, startTime: time.Now()}
}

// Success writes a 200 envelope with data.
func (rw *ResponseWriter) Success(data interface{}) {
	rw.writeJSON(http.StatusOK, models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: rw.metadata(),
	})
}

// Created writes a 201 envelope with data.
func (rw *ResponseWriter) Created(data interface{}) {
	rw.writeJSON(http.StatusCreated, models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: rw.metadata(),
	})
}

// Accepted writes a 202 envelope, for ingestion endpoints that acknowledge
// before the batch is durably stored.
func (rw *ResponseWriter) Accepted(data interface{}) {
	rw.writeJSON(http.StatusAccepted, models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: rw.metadata(),
	})
}

// NoContent writes a bare 204.
func (rw *ResponseWriter) NoContent() {
	rw.w.WriteHeader(http.StatusNoContent)
}

// Error writes an error envelope with the given HTTP status.
func (rw *ResponseWriter) Error(statusCode int, code, message string) {
	rw.ErrorWithDetails(statusCode, code, message, nil)
}

// ErrorWithDetails writes an error envelope carrying structured details,
// typically per-field validation failures.
func (rw *ResponseWriter) ErrorWithDetails(statusCode int, code, message string, details map[string]interface{}) {
	rw.writeJSON(statusCode, models.APIResponse{
		Status: "error",
		Error: &models.APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Metadata: rw.metadata(),
	})
}

// ValidationError writes a 400 with VALIDATION_ERROR.
func (rw *ResponseWriter) ValidationError(message string, details map[string]interface{}) {
	rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeValidation, message, details)
}

// NotFound writes a 404 with NOT_FOUND.
func (rw *ResponseWriter) NotFound(message string) {
	rw.Error(http.StatusNotFound, ErrCodeNotFound, message)
}

// Unauthorized writes a 401 with UNAUTHORIZED.
func (rw *ResponseWriter) Unauthorized(message string) {
	rw.Error(http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// StorageError logs the failure and writes a 500 with STORAGE_ERROR. The
// underlying error never reaches the client.
func (rw *ResponseWriter) StorageError(err error) {
	logging.Error().Err(err).Msg("Storage error")
	rw.Error(http.StatusInternalServerError, ErrCodeStorage, "a storage error occurred")
}

func (rw *ResponseWriter) metadata() models.Metadata {
	return models.Metadata{
		Timestamp:   time.Now().UTC(),
		QueryTimeMS: time.Since(rw.startTime).Milliseconds(),
	}
}

func (rw *ResponseWriter) writeJSON(statusCode int, payload models.APIResponse) {
	rw.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.w.WriteHeader(statusCode)
	if err := json.NewEncoder(rw.w).Encode(payload); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// decodeJSON reads a request body into v with strict size and syntax checks.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 4<<20))
	return dec.Decode(v)
}
