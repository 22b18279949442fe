package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/thisyearnofear/runrealm-sub003/internal/shared/geo"
	"github.com/thisyearnofear/runrealm-sub003/internal/store"
	"github.com/thisyearnofear/runrealm-sub003/internal/stream"

	"github.com/google/uuid"
	"github.com/mmcloughlin/geohash"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNoActiveRun      = errors.New("no active run")
	ErrNotRecording     = errors.New("run is not recording")
	ErrNotPaused        = errors.New("run is not paused")
)

// Config holds the fix-admission and eligibility tunables.
type Config struct {
	MinAccuracyM      float64
	MinPointGapMs     int64
	MinPointDistM     float64
	SmoothingFactor   float64
	TerritoryMinDistM float64
	TerritoryMaxDevM  float64
}

func DefaultConfig() Config {
	return Config{
		MinAccuracyM:      20,
		MinPointGapMs:     1000,
		MinPointDistM:     5,
		SmoothingFactor:   0.3,
		TerritoryMinDistM: 500,
		TerritoryMaxDevM:  50,
	}
}

// Eligibility explains the territory decision for a finished run so callers
// can report why a run did or did not qualify.
type Eligibility struct {
	Eligible      bool    `json:"eligible"`
	MeetsDistance bool    `json:"meets_distance"`
	IsLoop        bool    `json:"is_loop"`
	DistanceM     float64 `json:"distance_m"`
	RequiredM     float64 `json:"required_m"`
	DeviationM    float64 `json:"deviation_m"`
	AllowedDevM   float64 `json:"allowed_deviation_m"`
}

func (e Eligibility) Message() string {
	if e.Eligible {
		return "run forms a claimable loop"
	}
	if !e.MeetsDistance {
		return fmt.Sprintf("run too short: %.0fm of %.0fm required", e.DistanceM, e.RequiredM)
	}
	return fmt.Sprintf("run is not a loop: ends %.0fm from start, %.0fm allowed", e.DeviationM, e.AllowedDevM)
}

type activeRun struct {
	session        *Session
	lastAcceptedMs int64
	pausedAtMs     int64
	pausedTotalMs  int64
	lapDistanceM   float64
	lapElapsedMs   int64
}

// Tracker runs one session state machine per runner. All collaborators are
// injected; hub and kv may be nil in tests.
type Tracker struct {
	cfg Config
	loc LocationSource
	kv  store.Store
	hub *stream.Hub
	now func() time.Time

	mu   sync.Mutex
	runs map[string]*activeRun
}

func NewTracker(cfg Config, loc LocationSource, kv store.Store, hub *stream.Hub) *Tracker {
	return &Tracker{
		cfg:  cfg,
		loc:  loc,
		kv:   kv,
		hub:  hub,
		now:  time.Now,
		runs: map[string]*activeRun{},
	}
}

// Start opens a recording session anchored at the given fix, or at the
// location source's current position when fix is nil. No session is created
// if the location cannot be resolved.
func (t *Tracker) Start(ctx context.Context, userID string, fix *LocationFix) (Session, error) {
	if fix == nil {
		if t.loc == nil {
			return Session{}, ErrLocationUnavailable
		}
		current, err := t.loc.Current(ctx, true)
		if err != nil {
			return Session{}, fmt.Errorf("current location: %w", err)
		}
		fix = &current
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.runs[userID]; ok {
		switch existing.session.Status {
		case StatusRecording, StatusPaused:
			return Session{}, ErrAlreadyRecording
		}
	}

	nowMs := t.now().UnixMilli()
	ts := fix.TimestampMs
	if ts == 0 {
		ts = nowMs
	}

	// The anchor point is accepted unconditionally.
	session := &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		StartedAtMs: nowMs,
		Status:      StatusRecording,
		Points: []Point{{
			Lat:         fix.Lat,
			Lng:         fix.Lng,
			TimestampMs: ts,
			AccuracyM:   fix.AccuracyM,
			AltitudeM:   fix.AltitudeM,
		}},
	}
	t.runs[userID] = &activeRun{session: session, lastAcceptedMs: ts}

	t.emit(userID, "run_started", map[string]any{"run_id": session.ID, "stats": session.Stats()})
	return session.Snapshot(), nil
}

// ProcessFix admits a GPS fix into the active session. Rejected fixes are
// logged and dropped; they are not errors. Returns whether the fix produced
// a new point.
func (t *Tracker) ProcessFix(userID string, fix LocationFix) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	active, ok := t.runs[userID]
	if !ok {
		return false, ErrNoActiveRun
	}
	if active.session.Status != StatusRecording {
		return false, nil
	}

	if fix.TimestampMs == 0 {
		fix.TimestampMs = t.now().UnixMilli()
	}

	if t.cfg.MinAccuracyM > 0 && fix.AccuracyM > t.cfg.MinAccuracyM {
		log.Printf("run %s: fix rejected, accuracy %.1fm over %.1fm", active.session.ID, fix.AccuracyM, t.cfg.MinAccuracyM)
		return false, nil
	}
	if fix.TimestampMs-active.lastAcceptedMs < t.cfg.MinPointGapMs {
		log.Printf("run %s: fix rejected, %dms since last accepted", active.session.ID, fix.TimestampMs-active.lastAcceptedMs)
		return false, nil
	}

	last := active.session.Points[len(active.session.Points)-1]
	if geo.DistanceMeters(last.Lat, last.Lng, fix.Lat, fix.Lng) < t.cfg.MinPointDistM {
		log.Printf("run %s: fix rejected, under %.1fm from last point", active.session.ID, t.cfg.MinPointDistM)
		return false, nil
	}

	// Exponential smoothing on lat/lng only; time and accuracy pass through.
	point := Point{
		Lat:         last.Lat + t.cfg.SmoothingFactor*(fix.Lat-last.Lat),
		Lng:         last.Lng + t.cfg.SmoothingFactor*(fix.Lng-last.Lng),
		TimestampMs: fix.TimestampMs,
		AccuracyM:   fix.AccuracyM,
		AltitudeM:   fix.AltitudeM,
	}

	segment := newSegment(last, point)
	active.session.Segments = append(active.session.Segments, segment)
	active.session.Points = append(active.session.Points, point)
	active.lastAcceptedMs = fix.TimestampMs

	recomputeStats(active.session)
	active.session.TotalDurationMs = t.runningElapsedMs(active)

	t.emit(userID, "point_added", map[string]any{"point": point, "stats": active.session.Stats()})
	return true, nil
}

// Pause halts fix consumption and the live duration clock.
func (t *Tracker) Pause(userID string) (Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	active, ok := t.runs[userID]
	if !ok {
		return Stats{}, ErrNoActiveRun
	}
	if active.session.Status != StatusRecording {
		return Stats{}, ErrNotRecording
	}

	active.pausedAtMs = t.now().UnixMilli()
	active.session.Status = StatusPaused
	active.session.TotalDurationMs = t.runningElapsedMs(active)

	t.emit(userID, "run_paused", map[string]any{"run_id": active.session.ID, "stats": active.session.Stats()})
	return active.session.Stats(), nil
}

// Resume restarts a paused session.
func (t *Tracker) Resume(userID string) (Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	active, ok := t.runs[userID]
	if !ok {
		return Stats{}, ErrNoActiveRun
	}
	if active.session.Status != StatusPaused {
		return Stats{}, ErrNotPaused
	}

	active.pausedTotalMs += t.now().UnixMilli() - active.pausedAtMs
	active.pausedAtMs = 0
	active.session.Status = StatusRecording

	t.emit(userID, "run_resumed", map[string]any{"run_id": active.session.ID, "stats": active.session.Stats()})
	return active.session.Stats(), nil
}

// Lap records a checkpoint with the distance and running time elapsed since
// the previous lap.
func (t *Tracker) Lap(userID string) (Lap, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	active, ok := t.runs[userID]
	if !ok {
		return Lap{}, ErrNoActiveRun
	}
	if active.session.Status != StatusRecording {
		return Lap{}, ErrNotRecording
	}

	nowMs := t.now().UnixMilli()
	elapsed := t.runningElapsedMs(active)
	lap := Lap{
		Number:       len(active.session.Laps) + 1,
		DistanceM:    active.session.TotalDistanceM - active.lapDistanceM,
		DurationMs:   elapsed - active.lapElapsedMs,
		RecordedAtMs: nowMs,
	}
	active.session.Laps = append(active.session.Laps, lap)
	active.lapDistanceM = active.session.TotalDistanceM
	active.lapElapsedMs = elapsed

	t.emit(userID, "lap_recorded", map[string]any{"lap": lap, "stats": active.session.Stats()})
	return lap, nil
}

// Stop finalizes the session: duration frozen, stats recomputed, territory
// eligibility evaluated once, snapshot persisted. Returns an immutable copy.
func (t *Tracker) Stop(ctx context.Context, userID string) (Session, Eligibility, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	active, ok := t.runs[userID]
	if !ok {
		return Session{}, Eligibility{}, ErrNoActiveRun
	}
	switch active.session.Status {
	case StatusRecording, StatusPaused:
	default:
		return Session{}, Eligibility{}, ErrNoActiveRun
	}

	nowMs := t.now().UnixMilli()
	if active.session.Status == StatusPaused {
		active.pausedTotalMs += nowMs - active.pausedAtMs
		active.pausedAtMs = 0
	}
	active.session.Status = StatusCompleted
	active.session.EndedAtMs = nowMs
	recomputeStats(active.session)
	active.session.TotalDurationMs = nowMs - active.session.StartedAtMs - active.pausedTotalMs

	report := t.evaluateEligibility(active.session)
	delete(t.runs, userID)

	final := active.session.Snapshot()
	t.saveLastRun(ctx, final)

	t.emit(userID, "run_completed", map[string]any{"run": final, "eligibility": report})
	if report.Eligible {
		t.emit(userID, "territory_eligible", map[string]any{"run_id": final.ID, "geohash": final.Geohash, "message": report.Message()})
	}
	return final, report, nil
}

// Cancel discards the session without eligibility evaluation. Idempotent;
// reports whether a session was discarded.
func (t *Tracker) Cancel(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	active, ok := t.runs[userID]
	if !ok {
		return false
	}
	active.session.Status = StatusCancelled
	delete(t.runs, userID)

	t.emit(userID, "run_cancelled", map[string]any{"run_id": active.session.ID})
	return true
}

// Current returns a snapshot of the live session, refreshing the running
// duration.
func (t *Tracker) Current(userID string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	active, ok := t.runs[userID]
	if !ok {
		return Session{}, false
	}
	active.session.TotalDurationMs = t.runningElapsedMs(active)
	return active.session.Snapshot(), true
}

// LastCompleted loads the persisted last run for a runner. Corrupt or
// missing data degrades to "no run".
func (t *Tracker) LastCompleted(ctx context.Context, userID string) (Session, bool) {
	if t.kv == nil {
		return Session{}, false
	}
	raw, ok := t.kv.Get(ctx, lastRunKey(userID))
	if !ok {
		return Session{}, false
	}
	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		log.Printf("last run for %s unreadable: %v", userID, err)
		return Session{}, false
	}
	return session, true
}

func (t *Tracker) evaluateEligibility(session *Session) Eligibility {
	report := Eligibility{
		MeetsDistance: session.TotalDistanceM >= t.cfg.TerritoryMinDistM,
		DistanceM:     session.TotalDistanceM,
		RequiredM:     t.cfg.TerritoryMinDistM,
		AllowedDevM:   t.cfg.TerritoryMaxDevM,
	}
	if n := len(session.Points); n >= 2 {
		first, last := session.Points[0], session.Points[n-1]
		report.DeviationM = geo.DistanceMeters(first.Lat, first.Lng, last.Lat, last.Lng)
		report.IsLoop = report.DeviationM <= t.cfg.TerritoryMaxDevM
	}
	report.Eligible = report.MeetsDistance && report.IsLoop

	session.TerritoryEligible = report.Eligible
	if report.Eligible {
		session.Geohash = regionID(session.Points[0], session.StartedAtMs)
	}
	return report
}

func (t *Tracker) runningElapsedMs(active *activeRun) int64 {
	nowMs := t.now().UnixMilli()
	elapsed := nowMs - active.session.StartedAtMs - active.pausedTotalMs
	if active.session.Status == StatusPaused {
		elapsed -= nowMs - active.pausedAtMs
	}
	return elapsed
}

func (t *Tracker) saveLastRun(ctx context.Context, session Session) {
	if t.kv == nil {
		return
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return
	}
	if err := t.kv.Set(ctx, lastRunKey(session.UserID), string(payload)); err != nil {
		log.Printf("save last run %s: %v", session.ID, err)
	}
}

func (t *Tracker) emit(channel, event string, payload map[string]any) {
	if t.hub == nil {
		return
	}
	msg, err := json.Marshal(map[string]any{"event": event, "data": payload})
	if err != nil {
		return
	}
	t.hub.Broadcast(channel, msg)
}

func newSegment(start, end Point) Segment {
	distance := geo.DistanceMeters(start.Lat, start.Lng, end.Lat, end.Lng)
	duration := end.TimestampMs - start.TimestampMs
	avg := 0.0
	if duration > 0 {
		avg = distance / (float64(duration) / 1000)
	}
	return Segment{Start: start, End: end, DistanceM: distance, DurationMs: duration, AvgSpeedMps: avg}
}

// recomputeStats rebuilds the aggregates from the segment list. Average
// speed is the unweighted mean of per-segment speeds, so short segments
// carry the same weight as long ones.
func recomputeStats(session *Session) {
	var total, maxSpeed, speedSum float64
	for _, seg := range session.Segments {
		total += seg.DistanceM
		speedSum += seg.AvgSpeedMps
		if seg.AvgSpeedMps > maxSpeed {
			maxSpeed = seg.AvgSpeedMps
		}
	}
	session.TotalDistanceM = total
	session.MaxSpeedMps = maxSpeed
	if len(session.Segments) > 0 {
		session.AvgSpeedMps = speedSum / float64(len(session.Segments))
	} else {
		session.AvgSpeedMps = 0
	}
}

func regionID(anchor Point, createdAtMs int64) string {
	// Geohash prefix plus creation time. Unique within the service; the
	// suffix means no spatial-prefix matching beyond the geohash half.
	return geohash.EncodeWithPrecision(anchor.Lat, anchor.Lng, 9) + "-" + strconv.FormatInt(createdAtMs, 10)
}

func lastRunKey(userID string) string {
	return "runs:last:" + userID
}
