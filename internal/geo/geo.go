// Package geo provides great-circle distance math for the search radius
// filter and distance sorting.
package geo

import "math"

const earthRadiusKm = 6371.0

// DistanceKm returns the haversine distance in kilometres between two
// WGS84 coordinates.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// BoundingBox returns a lat/lng box that fully contains the circle of the
// given radius around a point. Used to pre-filter candidates with an index
// scan before the exact haversine check.
func BoundingBox(lat, lng, radiusKm float64) (minLat, maxLat, minLng, maxLng float64) {
	dLat := radiusKm / 111.0 // ~111km per degree of latitude
	minLat = lat - dLat
	maxLat = lat + dLat

	cos := math.Cos(lat * math.Pi / 180)
	if cos < 0.01 {
		// Near the poles the box degenerates; fall back to all longitudes
		return minLat, maxLat, -180, 180
	}
	dLng := radiusKm / (111.0 * cos)
	minLng = lng - dLng
	maxLng = lng + dLng
	return minLat, maxLat, minLng, maxLng
}
