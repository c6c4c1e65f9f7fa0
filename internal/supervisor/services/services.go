// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

// Package services wraps the server's long-running components as
// suture.Service implementations. The wrappers take small interfaces
// instead of concrete types so the package stays free of cycles and the
// services stay testable with fakes.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ContextRunner matches components whose run loop already follows the
// suture pattern: block on the context, return ctx.Err() on shutdown.
// Satisfied by *websocket.Hub (RunWithContext) and *ingest.Pipeline (Serve).
type ContextRunner interface {
	Serve(ctx context.Context) error
}

// PipelineService supervises the ingest pipeline's consume loop.
type PipelineService struct {
	pipeline ContextRunner
}

// NewPipelineService wraps the ingest pipeline.
func NewPipelineService(pipeline ContextRunner) *PipelineService {
	return &PipelineService{pipeline: pipeline}
}

// Serve implements suture.Service.
func (s *PipelineService) Serve(ctx context.Context) error {
	return s.pipeline.Serve(ctx)
}

func (s *PipelineService) String() string { return "ingest-pipeline" }

// ContextHub matches *websocket.Hub without importing the package.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// HubService supervises the websocket hub's event loop.
type HubService struct {
	hub ContextHub
}

// NewHubService wraps the websocket hub.
func NewHubService(hub ContextHub) *HubService {
	return &HubService{hub: hub}
}

// Serve implements suture.Service.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

func (s *HubService) String() string { return "websocket-hub" }

// HTTPServer matches *http.Server's lifecycle methods.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService bridges http.Server's blocking ListenAndServe to suture's
// context-aware Serve: the listener runs in a goroutine, and context
// cancellation triggers a graceful Shutdown with its own timeout.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPService wraps an HTTP server. A non-positive timeout defaults
// to 10s.
func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service. http.ErrServerClosed is the expected
// result of Shutdown and is not treated as a failure.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		// The request context is already canceled; shutdown needs its own.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HTTPService) String() string { return "http-server" }
