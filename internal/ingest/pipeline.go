// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

// Package ingest is the in-process event pipeline between the capture
// endpoints and DuckDB. Handlers publish accepted events to a Watermill
// gochannel topic; a single consumer batches them into storage and folds
// per-session deltas into the sessions table.
//
// Delivery from clients is at-least-once, so events are deduplicated by
// idempotency key before they enter the pipeline. Duplicates are dropped
// silently; capture never surfaces errors to shoppers.
package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/shopsight/shopsight/internal/config"
	"github.com/shopsight/shopsight/internal/dedupe"
	"github.com/shopsight/shopsight/internal/logging"
	"github.com/shopsight/shopsight/internal/metrics"
	"github.com/shopsight/shopsight/internal/models"
)

// TopicEvents is the pipeline topic for accepted capture events.
const TopicEvents = "events.captured"

// Store is the persistence surface the consumer needs.
type Store interface {
	InsertEvents(ctx context.Context, events []models.Event) error
	UpsertSessions(ctx context.Context, sessions []models.Session) error
}

// Stats holds runtime counters for monitoring.
type Stats struct {
	Published  int64
	Dropped    int64
	Duplicates int64
	Stored     int64
}

// Pipeline owns the pub/sub channel, the dedupe store and the consumer.
type Pipeline struct {
	pubsub *gochannel.GoChannel
	store  Store
	dedupe dedupe.Store
	cfg    config.IngestConfig

	published  atomic.Int64
	dropped    atomic.Int64
	duplicates atomic.Int64
	stored     atomic.Int64
}

// New creates a pipeline. The dedupe store may be nil, which disables
// idempotency-key checking (storage primary keys still backstop).
func New(cfg config.IngestConfig, store Store, dedupeStore dedupe.Store) *Pipeline {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(cfg.BufferSize),
	}, NewWatermillLogger())

	return &Pipeline{
		pubsub: pubsub,
		store:  store,
		dedupe: dedupeStore,
		cfg:    cfg,
	}
}

// Publish validates, normalizes and deduplicates events, then hands the
// survivors to the pipeline. Invalid and duplicate events are dropped
// silently with a metric; a non-empty return count is what was accepted.
func (p *Pipeline) Publish(ctx context.Context, events []models.Event) (int, error) {
	accepted := 0
	for i := range events {
		e := &events[i]
		e.Normalize()
		if err := e.Validate(); err != nil {
			p.dropped.Add(1)
			metrics.RecordEventDropped("validation")
			logging.Debug().Err(err).Str("event_id", e.EventID).Msg("Dropped invalid event")
			continue
		}

		if p.dedupe != nil {
			fresh, err := p.dedupe.CheckAndStore(ctx, e.EventID)
			if err != nil {
				return accepted, fmt.Errorf("dedupe check: %w", err)
			}
			if !fresh {
				p.duplicates.Add(1)
				metrics.RecordEventDropped("duplicate")
				continue
			}
		}

		payload, err := json.Marshal(e)
		if err != nil {
			return accepted, fmt.Errorf("marshal event %s: %w", e.EventID, err)
		}
		msg := message.NewMessage(e.EventID, payload)
		if err := p.pubsub.Publish(TopicEvents, msg); err != nil {
			return accepted, fmt.Errorf("publish event %s: %w", e.EventID, err)
		}

		p.published.Add(1)
		metrics.RecordEventReceived(string(e.EventType))
		accepted++
	}
	return accepted, nil
}

// Stats returns current runtime counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Published:  p.published.Load(),
		Dropped:    p.dropped.Load(),
		Duplicates: p.duplicates.Load(),
		Stored:     p.stored.Load(),
	}
}

// Close shuts the pub/sub channel down, which ends Serve.
func (p *Pipeline) Close() error {
	return p.pubsub.Close()
}

// Serve runs the consumer loop until the context is canceled or the
// pub/sub channel closes. It implements suture.Service; the supervisor
// restarts it on failure.
func (p *Pipeline) Serve(ctx context.Context) error {
	messages, err := p.pubsub.Subscribe(ctx, TopicEvents)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", TopicEvents, err)
	}

	logging.Info().
		Int("batch_size", p.cfg.BatchSize).
		Dur("flush_interval", p.cfg.FlushInterval).
		Msg("Ingest consumer started")

	batch := make([]models.Event, 0, p.cfg.BatchSize)
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func(flushCtx context.Context) {
		if len(batch) == 0 {
			return
		}
		p.flushBatch(flushCtx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Final flush on a fresh context; the loop's own is canceled.
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(drainCtx)
			cancel()
			logging.Info().Msg("Ingest consumer stopped")
			return ctx.Err()

		case <-ticker.C:
			flush(ctx)

		case msg, ok := <-messages:
			if !ok {
				drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				flush(drainCtx)
				cancel()
				logging.Info().Msg("Ingest consumer stopped: channel closed")
				return nil
			}

			var e models.Event
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Failed to decode pipeline event")
				metrics.RecordEventDropped("decode")
				msg.Ack()
				continue
			}
			msg.Ack()

			batch = append(batch, e)
			if len(batch) >= p.cfg.BatchSize {
				flush(ctx)
			}
		}
	}
}

// flushBatch writes one batch and its session deltas. Storage failures are
// logged and counted; the batch is dropped rather than blocking the
// pipeline, DuckDB-level errors here are not client-visible.
func (p *Pipeline) flushBatch(ctx context.Context, batch []models.Event) {
	start := time.Now()

	if err := p.store.InsertEvents(ctx, batch); err != nil {
		p.dropped.Add(int64(len(batch)))
		metrics.RecordEventDropped("storage")
		logging.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to store event batch")
		return
	}

	sessions := sessionDeltas(batch)
	if err := p.store.UpsertSessions(ctx, sessions); err != nil {
		logging.Error().Err(err).Int("sessions", len(sessions)).Msg("Failed to upsert session deltas")
	}

	p.stored.Add(int64(len(batch)))
	metrics.RecordIngestBatch(len(batch), time.Since(start))
}

// sessionDeltas folds a batch into one delta per session: event count,
// time bounds, and the first event's context fields. A pageview's URL
// becomes the entry path only for the session's earliest event.
func sessionDeltas(batch []models.Event) []models.Session {
	bySession := make(map[string]*models.Session)
	for i := range batch {
		e := &batch[i]
		s, ok := bySession[e.SessionID]
		if !ok {
			s = &models.Session{
				SessionID: e.SessionID,
				UserID:    e.UserID,
				ProjectID: e.ProjectID,
				Device:    e.Device.Type,
				Browser:   e.Device.Browser,
				OS:        e.Device.OS,
				Country:   e.Location.Country,
				Referrer:  e.Referrer,
				UTMSource: e.UTMSource,
				EntryPath: e.PageURL,
				StartTime: e.Timestamp,
				EndTime:   e.Timestamp,
			}
			bySession[e.SessionID] = s
		}

		s.EventsCount++
		if e.Timestamp.Before(s.StartTime) {
			s.StartTime = e.Timestamp
			s.EntryPath = e.PageURL
		}
		if e.Timestamp.After(s.EndTime) {
			s.EndTime = e.Timestamp
		}
		if s.UserID == models.AnonymousUserID && e.UserID != models.AnonymousUserID {
			s.UserID = e.UserID
		}
	}

	sessions := make([]models.Session, 0, len(bySession))
	for _, s := range bySession {
		sessions = append(sessions, *s)
	}
	return sessions
}
