package territory

import (
	"github.com/thisyearnofear/runrealm-sub003/internal/run"
)

type Status string

const (
	StatusClaimable Status = "claimable"
	StatusClaimed   Status = "claimed"
	StatusContested Status = "contested"
	StatusExpired   Status = "expired"
)

type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

type IntentStatus string

const (
	IntentActive    IntentStatus = "active"
	IntentCompleted IntentStatus = "completed"
	IntentExpired   IntentStatus = "expired"
	IntentCancelled IntentStatus = "cancelled"
)

// Bounds is the axis-aligned envelope of a run's points plus its centroid.
type Bounds struct {
	North     float64 `json:"north"`
	South     float64 `json:"south"`
	East      float64 `json:"east"`
	West      float64 `json:"west"`
	CenterLat float64 `json:"center_lat"`
	CenterLng float64 `json:"center_lng"`
}

// Overlaps reports whether two envelopes intersect.
func (b Bounds) Overlaps(o Bounds) bool {
	return !(b.East < o.West || o.East < b.West || b.North < o.South || o.North < b.South)
}

// BoundsOf computes the envelope and centroid of a point sequence.
func BoundsOf(points []run.Point) Bounds {
	if len(points) == 0 {
		return Bounds{}
	}
	b := Bounds{
		North: points[0].Lat,
		South: points[0].Lat,
		East:  points[0].Lng,
		West:  points[0].Lng,
	}
	var latSum, lngSum float64
	for _, p := range points {
		if p.Lat > b.North {
			b.North = p.Lat
		}
		if p.Lat < b.South {
			b.South = p.Lat
		}
		if p.Lng > b.East {
			b.East = p.Lng
		}
		if p.Lng < b.West {
			b.West = p.Lng
		}
		latSum += p.Lat
		lngSum += p.Lng
	}
	b.CenterLat = latSum / float64(len(points))
	b.CenterLng = lngSum / float64(len(points))
	return b
}

// Metadata is derived deterministically from run statistics; landmark
// identification is delegated to a pluggable lookup.
type Metadata struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Landmarks       []string `json:"landmarks,omitempty"`
	Difficulty      int      `json:"difficulty"`
	Rarity          Rarity   `json:"rarity"`
	EstimatedReward int      `json:"estimated_reward"`
}

// RunSummary is the slice of session data a territory keeps once derived.
type RunSummary struct {
	RunID       string  `json:"run_id"`
	DistanceM   float64 `json:"distance_m"`
	DurationMs  int64   `json:"duration_ms"`
	AvgSpeedMps float64 `json:"avg_speed_mps"`
	PointCount  int     `json:"point_count"`
}

type Territory struct {
	ID           string     `json:"id"`
	Geohash      string     `json:"geohash"`
	Bounds       Bounds     `json:"bounds"`
	Metadata     Metadata   `json:"metadata"`
	Owner        string     `json:"owner,omitempty"`
	ClaimedAtMs  int64      `json:"claimed_at_ms,omitempty"`
	Run          RunSummary `json:"run"`
	Status       Status     `json:"status"`
	IntentID     string     `json:"intent_id,omitempty"`
	ChainID      int64      `json:"chain_id,omitempty"`
	IsCrossChain bool       `json:"is_cross_chain,omitempty"`
	TxID         string     `json:"tx_id,omitempty"`
}

// Intent reserves a shape before running it. Expires 24h after creation
// unless fulfilled or cancelled first.
type Intent struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	Bounds        Bounds       `json:"bounds"`
	PlannedRoute  []run.Point  `json:"planned_route,omitempty"`
	EstDistanceM  float64      `json:"est_distance_m,omitempty"`
	EstDurationMs int64        `json:"est_duration_ms,omitempty"`
	Metadata      Metadata     `json:"metadata"`
	Status        IntentStatus `json:"status"`
	CreatedAtMs   int64        `json:"created_at_ms"`
	ExpiresAtMs   int64        `json:"expires_at_ms"`
}

// CrossChainEntry is one line of the cross-chain claim history log.
type CrossChainEntry struct {
	Geohash     string `json:"geohash"`
	ChainID     int64  `json:"chain_id"`
	Event       string `json:"event"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// Proximity describes a claimed territory near the runner's position.
type Proximity struct {
	TerritoryID string  `json:"territory_id"`
	Geohash     string  `json:"geohash"`
	Name        string  `json:"name"`
	DistanceM   float64 `json:"distance_m"`
	Direction   string  `json:"direction"`
}
