package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// Point converts latitude/longitude degrees into an orb point (lng, lat order).
func Point(lat, lng float64) orb.Point {
	return orb.Point{lng, lat}
}

// DistanceM is the great-circle distance in meters between two positions.
func DistanceM(lat1, lng1, lat2, lng2 float64) float64 {
	return orbgeo.DistanceHaversine(Point(lat1, lng1), Point(lat2, lng2))
}

func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	return DistanceM(lat1, lng1, lat2, lng2) / 1000
}

// Bound returns the smallest box containing both positions.
func Bound(lat1, lng1, lat2, lng2 float64) orb.Bound {
	return orb.MultiPoint{Point(lat1, lng1), Point(lat2, lng2)}.Bound()
}

// MetersPerDegreeLat is the length of one degree of latitude on the sphere
// used by DistanceM.
const MetersPerDegreeLat = orb.EarthRadius * math.Pi / 180
