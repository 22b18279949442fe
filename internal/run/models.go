package run

// Status is the lifecycle state of a run session. Completed and cancelled
// are terminal.
type Status string

const (
	StatusRecording Status = "recording"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// LocationFix is a raw GPS sample as delivered by the device. Accuracy may
// be zero when the device does not report it.
type LocationFix struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	TimestampMs int64   `json:"timestamp_ms"`
	AccuracyM   float64 `json:"accuracy_m,omitempty"`
	AltitudeM   float64 `json:"altitude_m,omitempty"`
	SpeedMps    float64 `json:"speed_mps,omitempty"`
}

// Point is a fix accepted into a run after filtering and smoothing.
type Point struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	TimestampMs int64   `json:"timestamp_ms"`
	AccuracyM   float64 `json:"accuracy_m,omitempty"`
	AltitudeM   float64 `json:"altitude_m,omitempty"`
}

// Segment is the straight-line connection between two consecutive accepted
// points. Immutable once created.
type Segment struct {
	Start       Point   `json:"start"`
	End         Point   `json:"end"`
	DistanceM   float64 `json:"distance_m"`
	DurationMs  int64   `json:"duration_ms"`
	AvgSpeedMps float64 `json:"avg_speed_mps"`
}

// Lap is an operator-triggered checkpoint holding elapsed distance and time
// since the previous lap.
type Lap struct {
	Number       int     `json:"number"`
	DistanceM    float64 `json:"distance_m"`
	DurationMs   int64   `json:"duration_ms"`
	RecordedAtMs int64   `json:"recorded_at_ms"`
}

// Stats is the live aggregate snapshot broadcast with every event.
type Stats struct {
	TotalDistanceM  float64 `json:"total_distance_m"`
	TotalDurationMs int64   `json:"total_duration_ms"`
	AvgSpeedMps     float64 `json:"avg_speed_mps"`
	MaxSpeedMps     float64 `json:"max_speed_mps"`
	PointCount      int     `json:"point_count"`
	LapCount        int     `json:"lap_count"`
}

// Session is the aggregate root for one run. The tracker owns it while it is
// live; Snapshot hands out value copies so finished sessions cannot be
// mutated by consumers.
type Session struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	StartedAtMs        int64     `json:"started_at_ms"`
	EndedAtMs          int64     `json:"ended_at_ms,omitempty"`
	Points             []Point   `json:"points"`
	Segments           []Segment `json:"segments"`
	Laps               []Lap     `json:"laps,omitempty"`
	TotalDistanceM     float64   `json:"total_distance_m"`
	TotalDurationMs    int64     `json:"total_duration_ms"`
	AvgSpeedMps        float64   `json:"avg_speed_mps"`
	MaxSpeedMps        float64   `json:"max_speed_mps"`
	Status             Status    `json:"status"`
	TerritoryEligible  bool      `json:"territory_eligible"`
	Geohash            string    `json:"geohash,omitempty"`
	ExternalActivityID string    `json:"external_activity_id,omitempty"`
}

// Snapshot returns a deep copy of the session.
func (s *Session) Snapshot() Session {
	out := *s
	out.Points = append([]Point(nil), s.Points...)
	out.Segments = append([]Segment(nil), s.Segments...)
	out.Laps = append([]Lap(nil), s.Laps...)
	return out
}

// Stats summarises the session's aggregates.
func (s *Session) Stats() Stats {
	return Stats{
		TotalDistanceM:  s.TotalDistanceM,
		TotalDurationMs: s.TotalDurationMs,
		AvgSpeedMps:     s.AvgSpeedMps,
		MaxSpeedMps:     s.MaxSpeedMps,
		PointCount:      len(s.Points),
		LapCount:        len(s.Laps),
	}
}
