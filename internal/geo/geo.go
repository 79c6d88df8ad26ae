// Package geo provides great-circle distance computation for vendor discovery.
package geo

import "math"

// earthRadiusKm is the mean radius of the spherical-Earth approximation.
const earthRadiusKm = 6371.0

// Distance returns the Haversine distance in kilometers between two points.
// Inputs are degrees; callers are expected to validate latitude [-90,90] and
// longitude [-180,180] before calling.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// ValidCoordinates reports whether the pair is a finite, in-range coordinate.
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Round2 rounds a distance to two decimal places for presentation.
func Round2(km float64) float64 {
	return math.Round(km*100) / 100
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
