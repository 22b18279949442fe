package run

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/twpayne/go-polyline"
)

var ErrEmptyRoute = errors.New("route has no coordinates")

// Import converts a pre-recorded activity's encoded polyline into a
// completed session and evaluates territory eligibility exactly as the live
// path does. Point timestamps are unknown and stay zero, so segment speeds
// are zero too.
func (t *Tracker) Import(ctx context.Context, userID, encoded, externalID string) (Session, Eligibility, error) {
	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return Session{}, Eligibility{}, fmt.Errorf("decode polyline: %w", err)
	}
	if len(coords) == 0 {
		return Session{}, Eligibility{}, ErrEmptyRoute
	}

	points := make([]Point, 0, len(coords))
	for _, c := range coords {
		points = append(points, Point{Lat: c[0], Lng: c[1]})
	}
	segments := make([]Segment, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		segments = append(segments, newSegment(points[i-1], points[i]))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	nowMs := t.now().UnixMilli()
	session := &Session{
		ID:                 uuid.NewString(),
		UserID:             userID,
		StartedAtMs:        nowMs,
		EndedAtMs:          nowMs,
		Points:             points,
		Segments:           segments,
		Status:             StatusCompleted,
		ExternalActivityID: externalID,
	}
	recomputeStats(session)
	report := t.evaluateEligibility(session)

	final := session.Snapshot()
	t.saveLastRun(ctx, final)

	t.emit(userID, "run_completed", map[string]any{"run": final, "eligibility": report})
	if report.Eligible {
		t.emit(userID, "territory_eligible", map[string]any{"run_id": final.ID, "geohash": final.Geohash, "message": report.Message()})
	}
	return final, report, nil
}
