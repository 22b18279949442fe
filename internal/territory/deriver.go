package territory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/thisyearnofear/runrealm-sub003/internal/run"

	"github.com/google/uuid"
)

var ErrInvalidRunData = errors.New("invalid run data")

// OverlapError reports that a candidate's bounds intersect an already
// claimed territory.
type OverlapError struct {
	TerritoryID string
	Name        string
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("territory overlaps claimed territory %s (%s)", e.Name, e.TerritoryID)
}

// AlreadyClaimedError reports that the claim backend knows the geohash.
type AlreadyClaimedError struct {
	Geohash string
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("geohash %s already claimed", e.Geohash)
}

// LandmarkLookup finds points of interest inside an envelope. Implementations
// may return a fixed small set; errors degrade to "no landmarks".
type LandmarkLookup interface {
	Near(ctx context.Context, bounds Bounds) ([]string, error)
}

// StaticLandmarks is a LandmarkLookup with a fixed answer.
type StaticLandmarks []string

func (s StaticLandmarks) Near(context.Context, Bounds) ([]string, error) {
	return s, nil
}

// Full-credit thresholds for the difficulty score components.
const (
	difficultyFullDistanceM  = 5000.0
	difficultyFullSpeedMps   = 5.0
	difficultyFullDurationMs = 3600000.0
)

var rarityMultipliers = map[Rarity]float64{
	RarityCommon:    1,
	RarityRare:      1.5,
	RarityEpic:      2,
	RarityLegendary: 3,
}

// Deriver turns completed eligible sessions into claimable territories.
// SpecialZones marks regions whose territories are always legendary.
type Deriver struct {
	landmarks    LandmarkLookup
	specialZones []Bounds
}

func NewDeriver(landmarks LandmarkLookup, specialZones []Bounds) *Deriver {
	return &Deriver{landmarks: landmarks, specialZones: specialZones}
}

// Derive computes geometry, difficulty, rarity, reward, and metadata for a
// finished run and validates uniqueness against the claimed set. The session
// is taken by value and never mutated.
func (d *Deriver) Derive(ctx context.Context, session run.Session, claimed []Territory) (Territory, error) {
	if len(session.Points) < 2 || session.Geohash == "" {
		return Territory{}, ErrInvalidRunData
	}

	bounds := BoundsOf(session.Points)
	for _, other := range claimed {
		if bounds.Overlaps(other.Bounds) {
			return Territory{}, &OverlapError{TerritoryID: other.ID, Name: other.Metadata.Name}
		}
	}

	meta := d.metadata(ctx, bounds, session.TotalDistanceM, session.TotalDurationMs, session.AvgSpeedMps)
	return Territory{
		ID:       uuid.NewString(),
		Geohash:  session.Geohash,
		Bounds:   bounds,
		Metadata: meta,
		Run: RunSummary{
			RunID:       session.ID,
			DistanceM:   session.TotalDistanceM,
			DurationMs:  session.TotalDurationMs,
			AvgSpeedMps: session.AvgSpeedMps,
			PointCount:  len(session.Points),
		},
		Status: StatusClaimable,
	}, nil
}

// IntentMetadata builds metadata for a planned route that has not been run
// yet: a synthetic zero-length session, so difficulty and reward start at
// zero.
func (d *Deriver) IntentMetadata(ctx context.Context, bounds Bounds) Metadata {
	return d.metadata(ctx, bounds, 0, 0, 0)
}

func (d *Deriver) metadata(ctx context.Context, bounds Bounds, distanceM float64, durationMs int64, avgSpeedMps float64) Metadata {
	difficulty := difficultyScore(distanceM, avgSpeedMps, durationMs)
	rarity := d.rarityFor(difficulty, bounds)
	reward := int(math.Round(float64(difficulty) * rarityMultipliers[rarity]))

	var landmarks []string
	if d.landmarks != nil {
		found, err := d.landmarks.Near(ctx, bounds)
		if err != nil {
			log.Printf("landmark lookup failed: %v", err)
		} else {
			landmarks = found
		}
	}

	return Metadata{
		Name:            territoryName(landmarks, bounds),
		Description:     territoryDescription(landmarks, distanceM, durationMs),
		Landmarks:       landmarks,
		Difficulty:      difficulty,
		Rarity:          rarity,
		EstimatedReward: reward,
	}
}

// difficultyScore combines distance, pace, and duration into a 0-100 score,
// each component capped at its full-credit threshold.
func difficultyScore(distanceM, avgSpeedMps float64, durationMs int64) int {
	score := math.Min(distanceM/difficultyFullDistanceM, 1)*40 +
		math.Min(avgSpeedMps/difficultyFullSpeedMps, 1)*30 +
		math.Min(float64(durationMs)/difficultyFullDurationMs, 1)*30
	return int(math.Round(score))
}

func (d *Deriver) rarityFor(difficulty int, bounds Bounds) Rarity {
	if difficulty >= 90 || d.inSpecialZone(bounds) {
		return RarityLegendary
	}
	if difficulty >= 70 {
		return RarityEpic
	}
	if difficulty >= 50 {
		return RarityRare
	}
	return RarityCommon
}

func (d *Deriver) inSpecialZone(bounds Bounds) bool {
	for _, zone := range d.specialZones {
		if zone.Overlaps(bounds) {
			return true
		}
	}
	return false
}

func territoryName(landmarks []string, bounds Bounds) string {
	coords := fmt.Sprintf("(%.3f, %.3f)", bounds.CenterLat, bounds.CenterLng)
	if len(landmarks) > 0 {
		return landmarks[0] + " Territory " + coords
	}
	return "Territory " + coords
}

func territoryDescription(landmarks []string, distanceM float64, durationMs int64) string {
	desc := fmt.Sprintf("A %.1fkm run over %d minutes", distanceM/1000, durationMs/60000)
	if len(landmarks) > 0 {
		desc += " passing " + strings.Join(landmarks, ", ")
	}
	return desc
}
