package run

import (
	"context"
	"testing"

	"github.com/twpayne/go-polyline"
)

func encodeRoute(t *testing.T, coords [][]float64) string {
	t.Helper()
	return string(polyline.EncodeCoords(coords))
}

func TestImportEligibleLoop(t *testing.T) {
	tr, _, _ := testTracker(rawConfig())
	ctx := context.Background()

	encoded := encodeRoute(t, [][]float64{
		{0, 0},
		{0.0027, 0},
		{0.00001, 0},
	})

	session, report, err := tr.Import(ctx, "u1", encoded, "strava-123")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if session.Status != StatusCompleted {
		t.Fatalf("status = %s", session.Status)
	}
	if session.ExternalActivityID != "strava-123" {
		t.Fatalf("external id = %s", session.ExternalActivityID)
	}
	if !report.Eligible {
		t.Fatalf("report = %+v", report)
	}
	if session.Geohash == "" {
		t.Fatalf("expected geohash on eligible import")
	}

	// Timestamps are unknown, so speeds stay zero.
	if session.AvgSpeedMps != 0 || session.MaxSpeedMps != 0 {
		t.Fatalf("imported speeds should be zero: avg=%v max=%v", session.AvgSpeedMps, session.MaxSpeedMps)
	}

	saved, ok := tr.LastCompleted(ctx, "u1")
	if !ok || saved.ID != session.ID {
		t.Fatalf("imported run should be persisted as last run")
	}
}

func TestImportShortRoute(t *testing.T) {
	tr, _, _ := testTracker(rawConfig())

	encoded := encodeRoute(t, [][]float64{
		{0, 0},
		{0.0002, 0},
		{0.00001, 0},
	})

	_, report, err := tr.Import(context.Background(), "u1", encoded, "")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Eligible || report.MeetsDistance {
		t.Fatalf("short route should not qualify: %+v", report)
	}
}

func TestImportBadPolyline(t *testing.T) {
	tr, _, _ := testTracker(rawConfig())

	if _, _, err := tr.Import(context.Background(), "u1", "!!!not-a-polyline", ""); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, _, err := tr.Import(context.Background(), "u1", "", ""); err == nil {
		t.Fatalf("expected empty route error")
	}
}

// Live tracking and import agree on eligibility for the same geometry.
func TestImportMatchesLiveEligibility(t *testing.T) {
	coords := [][]float64{
		{0, 0},
		{0.0027, 0},
		{0.00001, 0},
	}

	live, clock, _ := testTracker(rawConfig())
	ctx := context.Background()
	if _, err := live.Start(ctx, "u1", &LocationFix{Lat: coords[0][0], Lng: coords[0][1], TimestampMs: clock.ms}); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, c := range coords[1:] {
		clock.advance(120_000)
		if _, err := live.ProcessFix("u1", LocationFix{Lat: c[0], Lng: c[1], TimestampMs: clock.ms, AccuracyM: 5}); err != nil {
			t.Fatalf("fix: %v", err)
		}
	}
	_, liveReport, err := live.Stop(ctx, "u1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}

	imported, _, _ := testTracker(rawConfig())
	_, importReport, err := imported.Import(ctx, "u1", encodeRoute(t, coords), "")
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	if liveReport.Eligible != importReport.Eligible || liveReport.IsLoop != importReport.IsLoop {
		t.Fatalf("live %+v vs import %+v", liveReport, importReport)
	}
}
