package geo

import "math"

const earthRadiusKm = 6371.0

var compassPoints = [8]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// HaversineKm returns the great-circle distance in kilometers between two
// lat/lng coordinates.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// DistanceMeters returns the great-circle distance in meters.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	return HaversineKm(lat1, lng1, lat2, lng2) * 1000
}

// Bearing returns the initial bearing in degrees [0,360) from the first
// coordinate to the second.
func Bearing(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dLng := toRadians(lng2 - lng1)

	y := math.Sin(dLng) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLng)
	deg := toDegrees(math.Atan2(y, x))
	return math.Mod(deg+360, 360)
}

// Compass buckets a bearing into one of the 8 compass points.
func Compass(bearing float64) string {
	idx := int(math.Round(bearing/45)) % 8
	return compassPoints[idx]
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }
