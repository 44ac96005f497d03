// Package geo computes great-circle distances between coordinates.
package geo

import (
	"math"

	"golden/hour/internal/apperr"
)

// EarthRadiusMeters is the mean Earth radius used by the Haversine formula.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate.
type Point struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Validate rejects latitudes outside [-90, 90] and longitudes outside [-180, 180].
func (p Point) Validate() error {
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return apperr.Validation("latitude %v out of range [-90, 90]", p.Latitude)
	}
	if math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return apperr.Validation("longitude %v out of range [-180, 180]", p.Longitude)
	}
	return nil
}

// Distance returns the Haversine distance in meters between a and b.
func Distance(a, b Point) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}

	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	deltaLat := toRadians(b.Latitude - a.Latitude)
	deltaLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c, nil
}

// DistanceBetween is Distance for raw latitude/longitude pairs.
func DistanceBetween(latA, lonA, latB, lonB float64) (float64, error) {
	return Distance(Point{Latitude: latA, Longitude: lonA}, Point{Latitude: latB, Longitude: lonB})
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
