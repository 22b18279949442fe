package geo

import (
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	// Jakarta (-6.2, 106.816) to Bandung (-6.9175, 107.6191) ~ 115-120 km
	d := HaversineKm(-6.2, 106.816, -6.9175, 107.6191)
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestDistanceSymmetry(t *testing.T) {
	pairs := [][4]float64{
		{-6.2, 106.816, -6.9175, 107.6191},
		{51.5, -0.12, 48.85, 2.35},
		{0, 0, 0, 180},
		{89.9, 10, -89.9, -170},
	}
	for _, p := range pairs {
		ab := DistanceMeters(p[0], p[1], p[2], p[3])
		ba := DistanceMeters(p[2], p[3], p[0], p[1])
		if math.Abs(ab-ba) > 1e-6 {
			t.Fatalf("distance not symmetric: %v vs %v", ab, ba)
		}
	}
}

func TestDistanceIdenticalPoints(t *testing.T) {
	if d := DistanceMeters(-6.2, 106.816, -6.2, 106.816); d != 0 {
		t.Fatalf("expected zero distance, got %v", d)
	}
}

func TestBearingRange(t *testing.T) {
	cases := [][4]float64{
		{0, 0, 1, 0},  // due north
		{0, 0, 0, 1},  // due east
		{0, 0, -1, 0}, // due south
		{0, 0, 0, -1}, // due west
		{10, 10, -5, -170},
	}
	want := []float64{0, 90, 180, 270, -1}
	for i, c := range cases {
		b := Bearing(c[0], c[1], c[2], c[3])
		if b < 0 || b >= 360 {
			t.Fatalf("bearing out of range: %v", b)
		}
		if want[i] >= 0 && math.Abs(b-want[i]) > 0.5 {
			t.Fatalf("case %d: expected bearing %v, got %v", i, want[i], b)
		}
	}
}

func TestCompass(t *testing.T) {
	cases := map[float64]string{
		0:     "N",
		22:    "N",
		23:    "NE",
		45:    "NE",
		90:    "E",
		135:   "SE",
		180:   "S",
		225:   "SW",
		270:   "W",
		315:   "NW",
		338:   "N",
		359.9: "N",
	}
	for bearing, want := range cases {
		if got := Compass(bearing); got != want {
			t.Fatalf("bearing %v: expected %s, got %s", bearing, want, got)
		}
	}
}
