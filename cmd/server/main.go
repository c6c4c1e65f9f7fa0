// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

// Package main is the entry point for the ShopSight analytics server.
//
// ShopSight captures storefront behavioral telemetry (pageviews, clicks,
// scroll depth, hover dwell, performance samples and opaque session-replay
// frames), ingests it through a deduplicating pub/sub pipeline into DuckDB,
// and serves funnel and cohort analysis plus recording playback over a
// chi-routed REST API with a live websocket feed.
//
// The server initializes in order:
//
//  1. Configuration: Koanf v2 layered sources (env vars, config.yaml, defaults)
//  2. Logging: zerolog, json or console format
//  3. Database: DuckDB with the analytics schema
//  4. Dedupe store: BadgerDB (or in-memory when no path is configured)
//  5. Ingest pipeline: Watermill gochannel pub/sub with batched writes
//  6. Analysis engines, recording relay and websocket hub
//  7. Supervisor tree: pipeline, hub and HTTP server under suture
//
// Graceful shutdown on SIGINT/SIGTERM drains in-flight requests, flushes
// buffered recording frames, and closes the pipeline, dedupe store and
// database in dependency order.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopsight/shopsight/internal/api"
	"github.com/shopsight/shopsight/internal/cohort"
	"github.com/shopsight/shopsight/internal/config"
	"github.com/shopsight/shopsight/internal/database"
	"github.com/shopsight/shopsight/internal/dedupe"
	"github.com/shopsight/shopsight/internal/funnel"
	"github.com/shopsight/shopsight/internal/ingest"
	"github.com/shopsight/shopsight/internal/logging"
	"github.com/shopsight/shopsight/internal/replay"
	"github.com/shopsight/shopsight/internal/supervisor"
	"github.com/shopsight/shopsight/internal/supervisor/services"
	ws "github.com/shopsight/shopsight/internal/websocket"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Int("port", cfg.Server.Port).
		Bool("dedupe_enabled", cfg.Dedupe.Enabled).
		Msg("Starting ShopSight")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	// Dedupe store: Badger when a path is configured, in-memory otherwise.
	// The pipeline treats both identically through the Store interface.
	var dedupeStore dedupe.Store
	if cfg.Dedupe.Enabled && cfg.Dedupe.Path != "" {
		badgerStore, err := dedupe.Open(cfg.Dedupe.Path, cfg.Dedupe.TTL)
		if err != nil {
			logging.Fatal().Err(err).Str("path", cfg.Dedupe.Path).Msg("Failed to open dedupe store")
		}
		defer func() {
			if err := badgerStore.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing dedupe store")
			}
		}()
		dedupeStore = badgerStore
	} else {
		dedupeStore = dedupe.NewMemoryStore(cfg.Dedupe.TTL)
	}

	pipeline := ingest.New(cfg.Ingest, db, dedupeStore)
	defer func() {
		if err := pipeline.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing ingest pipeline")
		}
	}()

	relay := replay.New(db)
	defer relay.Close()

	hub := ws.NewHub()

	handlers := api.NewHandlers(db, pipeline, funnel.NewEngine(db), cohort.NewEngine(db), relay, hub, cfg)
	router := api.NewRouter(handlers, api.NewMiddleware(cfg.Security))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  2 * cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddIngestService(services.NewPipelineService(pipeline))
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddAPIService(services.NewHTTPService(server, 10*time.Second))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", server.Addr).Msg("Server listening")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", fmt.Sprint(svc.Service)).Msg("Service did not stop within timeout")
		}
	}

	logging.Info().Msg("Shutdown complete")
}
