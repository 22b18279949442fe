package landmark

import (
	"context"

	"github.com/thisyearnofear/runrealm-sub003/internal/db"
	"github.com/thisyearnofear/runrealm-sub003/internal/territory"

	"github.com/google/uuid"
)

// Service is a Postgres-backed point-of-interest lookup. It satisfies
// territory.LandmarkLookup.
type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

// Near returns up to five landmark names inside the envelope.
func (s *Service) Near(ctx context.Context, bounds territory.Bounds) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT name FROM landmarks
		WHERE ST_Within(location::geometry, ST_MakeEnvelope($1,$2,$3,$4, 4326))
		ORDER BY name
		LIMIT 5
	`, bounds.West, bounds.South, bounds.East, bounds.North)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// Create registers a landmark.
func (s *Service) Create(ctx context.Context, input Landmark) (Landmark, error) {
	input.ID = uuid.NewString()
	row := s.db.QueryRow(ctx, `
		INSERT INTO landmarks (id, name, kind, location)
		VALUES ($1,$2,$3, ST_SetSRID(ST_MakePoint($4,$5), 4326)::geography)
		RETURNING created_at
	`, input.ID, input.Name, input.Kind, input.Lng, input.Lat)
	if err := row.Scan(&input.CreatedAt); err != nil {
		return Landmark{}, err
	}
	return input, nil
}

// Search lists landmarks within a radius of a coordinate.
func (s *Service) Search(ctx context.Context, lat, lng, radiusKm float64) ([]Landmark, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, kind, ST_Y(location::geometry), ST_X(location::geometry), created_at
		FROM landmarks
		WHERE ST_DWithin(location, ST_SetSRID(ST_MakePoint($1,$2), 4326)::geography, $3)
		ORDER BY created_at DESC
	`, lng, lat, radiusKm*1000)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Landmark
	for rows.Next() {
		var lm Landmark
		if err := rows.Scan(&lm.ID, &lm.Name, &lm.Kind, &lm.Lat, &lm.Lng, &lm.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, lm)
	}
	return results, nil
}
