package history

type RunRecord struct {
	ID                string  `json:"id"`
	UserID            string  `json:"user_id"`
	StartedAtMs       int64   `json:"started_at_ms"`
	EndedAtMs         int64   `json:"ended_at_ms"`
	DistanceM         float64 `json:"distance_m"`
	DurationMs        int64   `json:"duration_ms"`
	AvgSpeedMps       float64 `json:"avg_speed_mps"`
	MaxSpeedMps       float64 `json:"max_speed_mps"`
	PointCount        int     `json:"point_count"`
	TerritoryEligible bool    `json:"territory_eligible"`
	Geohash           string  `json:"geohash,omitempty"`
}

type LeaderboardEntry struct {
	Owner       string `json:"owner"`
	Territories int    `json:"territories"`
	TotalReward int    `json:"total_reward"`
}
