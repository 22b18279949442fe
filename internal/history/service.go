package history

import (
	"context"
	"log"

	"github.com/thisyearnofear/runrealm-sub003/internal/db"
	"github.com/thisyearnofear/runrealm-sub003/internal/run"
	"github.com/thisyearnofear/runrealm-sub003/internal/territory"
)

// Service archives completed runs and claimed territories to Postgres.
// Writes are best-effort bookkeeping: a failure is logged and never fails
// the tracking or claim operation that triggered it.
type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

// RecordRun archives a completed session.
func (s *Service) RecordRun(ctx context.Context, session run.Session) {
	if s.db == nil {
		return
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO run_history (id, user_id, started_at_ms, ended_at_ms, distance_m, duration_ms, avg_speed_mps, max_speed_mps, point_count, territory_eligible, geohash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, session.ID, session.UserID, session.StartedAtMs, session.EndedAtMs,
		session.TotalDistanceM, session.TotalDurationMs, session.AvgSpeedMps,
		session.MaxSpeedMps, len(session.Points), session.TerritoryEligible, session.Geohash)
	if err != nil {
		log.Printf("archive run %s: %v", session.ID, err)
	}
}

// RecordTerritory archives a claimed territory.
func (s *Service) RecordTerritory(ctx context.Context, t territory.Territory) {
	if s.db == nil {
		return
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO territory_history (id, geohash, owner, claimed_at_ms, difficulty, rarity, reward, tx_id, chain_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, t.ID, t.Geohash, t.Owner, t.ClaimedAtMs, t.Metadata.Difficulty,
		string(t.Metadata.Rarity), t.Metadata.EstimatedReward, t.TxID, t.ChainID)
	if err != nil {
		log.Printf("archive territory %s: %v", t.ID, err)
	}
}

// RunsForUser returns a runner's archived sessions, newest first.
func (s *Service) RunsForUser(ctx context.Context, userID string) ([]RunRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, started_at_ms, ended_at_ms, distance_m, duration_ms, avg_speed_mps, max_speed_mps, point_count, territory_eligible, COALESCE(geohash,'')
		FROM run_history WHERE user_id=$1
		ORDER BY started_at_ms DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.StartedAtMs, &r.EndedAtMs, &r.DistanceM, &r.DurationMs, &r.AvgSpeedMps, &r.MaxSpeedMps, &r.PointCount, &r.TerritoryEligible, &r.Geohash); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// Leaderboard ranks owners by territory count, reward sum breaking ties.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT owner, COUNT(*), COALESCE(SUM(reward),0)
		FROM territory_history
		GROUP BY owner
		ORDER BY COUNT(*) DESC, COALESCE(SUM(reward),0) DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Owner, &e.Territories, &e.TotalReward); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
