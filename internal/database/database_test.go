// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopsight/shopsight/internal/config"
	"github.com/shopsight/shopsight/internal/models"
)

// newTestDB opens an in-memory DuckDB with the full schema.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(&config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "512MB",
		Threads:   2,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})
	return db
}

func testEvent(sessionID, userID string, eventType models.EventType, pageURL string, ts time.Time) models.Event {
	e := models.NewEvent(sessionID, eventType)
	e.UserID = userID
	e.PageURL = pageURL
	e.Timestamp = ts
	return *e
}

func TestInsertAndQueryEvents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	events := []models.Event{
		testEvent("s1", "alice", models.EventPageView, "/products", base),
		testEvent("s1", "alice", models.EventClick, "/products", base.Add(10*time.Second)),
		testEvent("s2", "bob", models.EventPageView, "/checkout", base.Add(time.Minute)),
	}
	events[0].Metadata = map[string]interface{}{"sku": "A-100"}
	events[0].Device.Type = "mobile"

	if err := db.InsertEvents(ctx, events); err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}

	count, err := db.CountEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 events, got %d", count)
	}

	users, err := db.DistinctUserCount(ctx, EventFilter{EventType: models.EventPageView})
	if err != nil {
		t.Fatalf("DistinctUserCount: %v", err)
	}
	if users != 2 {
		t.Errorf("expected 2 pageview users, got %d", users)
	}

	// Segment filter narrows to the mobile user.
	users, err = db.DistinctUserCount(ctx, EventFilter{
		EventType: models.EventPageView,
		Segment:   models.SegmentFilter{Device: "mobile"},
	})
	if err != nil {
		t.Fatalf("DistinctUserCount with segment: %v", err)
	}
	if users != 1 {
		t.Errorf("expected 1 mobile pageview user, got %d", users)
	}

	found, err := db.FindEvents(ctx, EventFilter{PageURL: "/products"}, 0)
	if err != nil {
		t.Fatalf("FindEvents: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 events on /products, got %d", len(found))
	}
	if found[0].Timestamp.After(found[1].Timestamp) {
		t.Error("expected events ordered by timestamp")
	}
	if found[0].Metadata["sku"] != "A-100" {
		t.Errorf("expected metadata to round-trip, got %v", found[0].Metadata)
	}
}

func TestUTMSourceSegmentHeuristic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	tagged := testEvent("s1", "alice", models.EventPageView, "/", base)
	tagged.UTMSource = "newsletter"
	// Misconfigured campaign: the source value only made it into the medium.
	mistagged := testEvent("s2", "bob", models.EventPageView, "/", base)
	mistagged.UTMMedium = "newsletter"
	// Tags stripped entirely; only the referrer carries the source.
	stripped := testEvent("s3", "carol", models.EventPageView, "/", base)
	stripped.Referrer = "https://newsletter.example.com/issue-12"
	unrelated := testEvent("s4", "dave", models.EventPageView, "/", base)
	unrelated.UTMSource = "ads"

	if err := db.InsertEvents(ctx, []models.Event{tagged, mistagged, stripped, unrelated}); err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}

	users, err := db.DistinctUserCount(ctx, EventFilter{
		Segment: models.SegmentFilter{UTMSource: "newsletter"},
	})
	if err != nil {
		t.Fatalf("DistinctUserCount: %v", err)
	}
	if users != 3 {
		t.Errorf("expected 3 users across utm carriers, got %d", users)
	}
}

func TestFirstEventTimes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	events := []models.Event{
		testEvent("s1", "alice", models.EventPageView, "/products", base.Add(time.Minute)),
		testEvent("s1", "alice", models.EventPageView, "/products", base), // earlier
		testEvent("s2", "bob", models.EventPageView, "/products", base.Add(2*time.Minute)),
	}
	if err := db.InsertEvents(ctx, events); err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}

	times, err := db.FirstEventTimes(ctx, EventFilter{EventType: models.EventPageView})
	if err != nil {
		t.Fatalf("FirstEventTimes: %v", err)
	}
	if len(times) != 2 {
		t.Fatalf("expected 2 users, got %d", len(times))
	}
	if !times["alice"].Equal(base) {
		t.Errorf("expected alice's earliest at %s, got %s", base, times["alice"])
	}
}

func TestUpsertSessionsMergesDeltas(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	start := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	first := models.Session{
		SessionID:   "s1",
		UserID:      models.AnonymousUserID,
		Device:      "desktop",
		EntryPath:   "/",
		StartTime:   start,
		EndTime:     start.Add(30 * time.Second),
		EventsCount: 5,
	}
	if err := db.UpsertSessions(ctx, []models.Session{first}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Second batch: user identified, session extends, more events.
	second := first
	second.UserID = "alice"
	second.EndTime = start.Add(90 * time.Second)
	second.EventsCount = 3
	if err := db.UpsertSessions(ctx, []models.Session{second}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	sessions, err := db.FindSessions(ctx, SessionFilter{}, 0)
	if err != nil {
		t.Fatalf("FindSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 merged session, got %d", len(sessions))
	}

	s := sessions[0]
	if s.UserID != "alice" {
		t.Errorf("expected identified user to win, got %q", s.UserID)
	}
	if s.EventsCount != 8 {
		t.Errorf("expected events_count 8, got %d", s.EventsCount)
	}
	if s.Duration != 90 {
		t.Errorf("expected duration 90s, got %v", s.Duration)
	}
}

func TestAggregateSessions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	start := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	sessions := []models.Session{
		{SessionID: "s1", UserID: "alice", StartTime: start, EndTime: start.Add(time.Minute), EventsCount: 4},
		{SessionID: "s2", UserID: "alice", StartTime: start.Add(time.Hour), EndTime: start.Add(time.Hour), EventsCount: 1}, // zero duration
		{SessionID: "s3", UserID: "bob", StartTime: start, EndTime: start.Add(2 * time.Minute), EventsCount: 6},
	}
	if err := db.UpsertSessions(ctx, sessions); err != nil {
		t.Fatalf("UpsertSessions: %v", err)
	}

	agg, err := db.AggregateSessions(ctx, []string{"alice", "bob"}, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("AggregateSessions: %v", err)
	}
	if agg.SessionCount != 3 {
		t.Errorf("expected 3 sessions, got %d", agg.SessionCount)
	}
	if agg.TotalEvents != 11 {
		t.Errorf("expected 11 events, got %d", agg.TotalEvents)
	}
	if agg.DurationSamples != 2 {
		t.Errorf("expected 2 positive-duration sessions, got %d", agg.DurationSamples)
	}
	if agg.DurationSum != 180 {
		t.Errorf("expected 180s total duration, got %v", agg.DurationSum)
	}
}

func TestFunnelCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	f := &models.Funnel{
		Name: "checkout",
		Steps: []models.FunnelStep{
			{Order: 0, Name: "view product", EventType: models.EventPageView, PageURL: "/products"},
			{Order: 1, Name: "purchase", EventType: models.EventSubmit, ElementSelector: "#buy"},
		},
	}
	if err := db.CreateFunnel(ctx, f); err != nil {
		t.Fatalf("CreateFunnel: %v", err)
	}
	if f.ID == "" {
		t.Fatal("expected generated funnel id")
	}

	got, err := db.GetFunnel(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFunnel: %v", err)
	}
	if got.Name != "checkout" || len(got.Steps) != 2 {
		t.Errorf("funnel did not round-trip: %+v", got)
	}
	if got.Stats != nil {
		t.Error("expected nil stats on fresh funnel")
	}

	stats := &models.FunnelStats{TotalEntries: 100, TotalCompletion: 25, ConversionRate: 25.0, AnalyzedAt: time.Now().UTC()}
	if err := db.SaveFunnelStats(ctx, f.ID, stats); err != nil {
		t.Fatalf("SaveFunnelStats: %v", err)
	}
	got, err = db.GetFunnel(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFunnel after stats: %v", err)
	}
	if got.Stats == nil || got.Stats.TotalEntries != 100 {
		t.Errorf("expected cached stats, got %+v", got.Stats)
	}

	got.Name = "checkout v2"
	if err := db.UpdateFunnel(ctx, got); err != nil {
		t.Fatalf("UpdateFunnel: %v", err)
	}

	funnels, err := db.ListFunnels(ctx)
	if err != nil {
		t.Fatalf("ListFunnels: %v", err)
	}
	if len(funnels) != 1 || funnels[0].Name != "checkout v2" {
		t.Errorf("unexpected list result: %+v", funnels)
	}

	if err := db.DeleteFunnel(ctx, f.ID); err != nil {
		t.Fatalf("DeleteFunnel: %v", err)
	}
	if _, err := db.GetFunnel(ctx, f.ID); !errors.Is(err, ErrFunnelNotFound) {
		t.Errorf("expected ErrFunnelNotFound, got %v", err)
	}
	if err := db.DeleteFunnel(ctx, f.ID); !errors.Is(err, ErrFunnelNotFound) {
		t.Errorf("expected ErrFunnelNotFound on double delete, got %v", err)
	}
}

func TestCohortCRUDPreservesConditionShape(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	simple := &models.Cohort{
		Name: "mobile shoppers",
		Conditions: models.CohortConditions{
			Simple: []models.CohortCondition{
				{Field: "device", Operator: models.OpEquals, Value: "mobile"},
			},
		},
	}
	if err := db.CreateCohort(ctx, simple); err != nil {
		t.Fatalf("CreateCohort simple: %v", err)
	}

	structured := &models.Cohort{
		Name: "uk organic",
		Conditions: models.CohortConditions{
			Structured: &models.StructuredConditions{
				Properties: []models.PropertyCondition{
					{Key: "country", Operator: models.OpEquals, Value: "UK"},
				},
			},
		},
	}
	if err := db.CreateCohort(ctx, structured); err != nil {
		t.Fatalf("CreateCohort structured: %v", err)
	}

	got, err := db.GetCohort(ctx, simple.ID)
	if err != nil {
		t.Fatalf("GetCohort simple: %v", err)
	}
	if !got.Conditions.IsSimple() || len(got.Conditions.Simple) != 1 {
		t.Errorf("simple conditions did not round-trip: %+v", got.Conditions)
	}

	got, err = db.GetCohort(ctx, structured.ID)
	if err != nil {
		t.Fatalf("GetCohort structured: %v", err)
	}
	if got.Conditions.IsSimple() || len(got.Conditions.Structured.Properties) != 1 {
		t.Errorf("structured conditions did not round-trip: %+v", got.Conditions)
	}

	if err := db.SaveCohortUserCount(ctx, simple.ID, 42); err != nil {
		t.Fatalf("SaveCohortUserCount: %v", err)
	}
	got, err = db.GetCohort(ctx, simple.ID)
	if err != nil {
		t.Fatalf("GetCohort after count: %v", err)
	}
	if got.UserCount != 42 {
		t.Errorf("expected user count 42, got %d", got.UserCount)
	}

	if err := db.DeleteCohort(ctx, simple.ID); err != nil {
		t.Fatalf("DeleteCohort: %v", err)
	}
	if _, err := db.GetCohort(ctx, simple.ID); !errors.Is(err, ErrCohortNotFound) {
		t.Errorf("expected ErrCohortNotFound, got %v", err)
	}
}

func TestDistinctSessionUsersWithConditions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	start := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	sessions := []models.Session{
		{SessionID: "s1", UserID: "alice", Device: "mobile", Country: "UK", StartTime: start},
		{SessionID: "s2", UserID: "bob", Device: "desktop", Country: "UK", StartTime: start},
		{SessionID: "s3", UserID: "carol", Device: "mobile", Country: "US", StartTime: start},
	}
	if err := db.UpsertSessions(ctx, sessions); err != nil {
		t.Fatalf("UpsertSessions: %v", err)
	}

	users, err := db.DistinctSessionUsers(ctx, SessionFilter{
		Properties: []PropertyClause{
			{Field: "device", Operator: models.OpEquals, Value: "mobile"},
			{Field: "country", Operator: models.OpEquals, Value: "UK"},
		},
	})
	if err != nil {
		t.Fatalf("DistinctSessionUsers: %v", err)
	}
	if len(users) != 1 || users[0] != "alice" {
		t.Errorf("expected [alice], got %v", users)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	start := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	frames := []models.Frame{
		{Timestamp: start, Data: []byte(`{"type":"click","x":10}`)},
		{Timestamp: start.Add(time.Second), Data: []byte(`{"type":"scroll","y":300}`)},
	}
	stats := models.RecordingStats{Events: 2, Clicks: 1, Scrolls: 1}
	if err := db.AppendFrames(ctx, "s1", "shop", frames, stats); err != nil {
		t.Fatalf("AppendFrames: %v", err)
	}

	// Second flush continues the sequence.
	more := []models.Frame{{Timestamp: start.Add(2 * time.Second), Data: []byte(`{"type":"move"}`)}}
	if err := db.AppendFrames(ctx, "s1", "shop", more, models.RecordingStats{Events: 1, Moves: 1}); err != nil {
		t.Fatalf("AppendFrames second: %v", err)
	}

	rec, err := db.GetRecording(ctx, "s1")
	if err != nil {
		t.Fatalf("GetRecording: %v", err)
	}
	if rec.FrameCount != 3 {
		t.Errorf("expected 3 frames, got %d", rec.FrameCount)
	}
	if rec.Stats.Clicks != 1 || rec.Stats.Moves != 1 {
		t.Errorf("unexpected stats: %+v", rec.Stats)
	}
	if rec.Closed() {
		t.Error("recording should still be open")
	}

	if err := db.CloseRecording(ctx, "s1", start.Add(time.Minute)); err != nil {
		t.Fatalf("CloseRecording: %v", err)
	}
	// Idempotent: second close keeps the original end time.
	if err := db.CloseRecording(ctx, "s1", start.Add(2*time.Minute)); err != nil {
		t.Fatalf("second CloseRecording: %v", err)
	}

	rec, err = db.GetRecording(ctx, "s1")
	if err != nil {
		t.Fatalf("GetRecording after close: %v", err)
	}
	if !rec.Closed() || !rec.EndTime.Equal(start.Add(time.Minute)) {
		t.Errorf("expected close at first end time, got %+v", rec.EndTime)
	}

	got, err := db.GetFrames(ctx, "s1", 0, 10)
	if err != nil {
		t.Fatalf("GetFrames: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(got))
	}
	if string(got[0].Data) != `{"type":"click","x":10}` {
		t.Errorf("frame data did not round-trip: %s", got[0].Data)
	}

	if _, err := db.GetRecording(ctx, "missing"); !errors.Is(err, ErrRecordingNotFound) {
		t.Errorf("expected ErrRecordingNotFound, got %v", err)
	}
}

func TestPerformanceSamples(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	samples := []models.PerformanceSample{
		{SessionID: "s1", URL: "/api/cart", Method: "POST", StatusCode: 200, DurationMS: 45},
		{SessionID: "s1", URL: "/api/cart", Method: "POST", StatusCode: 0, DurationMS: 5000, Error: "connection refused"},
	}
	if err := db.InsertPerformanceSamples(ctx, samples); err != nil {
		t.Fatalf("InsertPerformanceSamples: %v", err)
	}

	var count int64
	if err := db.Conn().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM performance_samples WHERE session_id = 's1'").Scan(&count); err != nil {
		t.Fatalf("count samples: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 samples, got %d", count)
	}
}
