// Package geofence decides whether a device coordinate falls inside the
// perimeter around a patient's registered home point. Pure functions, no I/O;
// the radius is validated at settings-load time, never here.
package geofence

import "math"

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// earthRadiusMeters is the mean earth radius used for great-circle distance.
const earthRadiusMeters = 6371000.0

// Distance returns the haversine (great-circle) distance between two points
// in meters.
func Distance(a, b Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// IsWithin reports whether point lies within radiusMeters of center.
// The boundary is inclusive.
func IsWithin(point, center Coordinates, radiusMeters float64) bool {
	return Distance(point, center) <= radiusMeters
}
