// Package geo holds coordinates and great-circle distance helpers.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the mean Earth radius used for every distance computation.
const EarthRadiusKm = 6371.0

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"  bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
}

// Valid reports whether the coordinate is finite and within range.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) ||
		math.IsInf(c.Latitude, 0) || math.IsInf(c.Longitude, 0) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", c.Latitude, c.Longitude)
}

// Distance returns the haversine distance in kilometers between two points.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}

	lat1Rad := degreesToRadians(lat1)
	lat2Rad := degreesToRadians(lat2)
	deltaLat := degreesToRadians(lat2 - lat1)
	deltaLon := degreesToRadians(lon2 - lon1)

	sinLat := math.Sin(deltaLat / 2)
	sinLon := math.Sin(deltaLon / 2)
	a := sinLat*sinLat + math.Cos(lat1Rad)*math.Cos(lat2Rad)*sinLon*sinLon

	// rounding can push a just outside [0,1] near antipodes
	a = math.Max(0, math.Min(1, a))

	return EarthRadiusKm * 2 * math.Asin(math.Sqrt(a))
}

// Between is Distance over two coordinates.
func Between(a, b Coordinate) float64 {
	return Distance(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// Destination returns the point reached by travelling distanceKm from origin
// along the given bearing (degrees clockwise from north).
func Destination(origin Coordinate, bearingDeg, distanceKm float64) Coordinate {
	lat1 := degreesToRadians(origin.Latitude)
	lon1 := degreesToRadians(origin.Longitude)
	brng := degreesToRadians(bearingDeg)
	d := distanceKm / EarthRadiusKm

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(brng))
	lon2 := lon1 + math.Atan2(math.Sin(brng)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))

	return Coordinate{
		Latitude:  radiansToDegrees(lat2),
		Longitude: math.Mod(radiansToDegrees(lon2)+540, 360) - 180,
	}
}

func degreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180.0
}

func radiansToDegrees(radians float64) float64 {
	return radians * 180.0 / math.Pi
}
