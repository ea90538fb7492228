// Package geo adapts job locations to orb's spherical geometry. Distances
// are haversine meters on a sphere of orb.EarthRadius, which matches what
// 2dsphere-style indexes report.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"

	"github.com/SirClappington/jobbid/internal/domain"
)

const EarthRadius = orb.EarthRadius

// MetersPerDegreeLat is the arc length of one degree of latitude.
const MetersPerDegreeLat = EarthRadius * math.Pi / 180

func Valid(p domain.Point) bool {
	if math.IsNaN(p.Lng) || math.IsNaN(p.Lat) {
		return false
	}
	return p.Lng >= -180 && p.Lng <= 180 && p.Lat >= -90 && p.Lat <= 90
}

func Point(p domain.Point) orb.Point { return orb.Point{p.Lng, p.Lat} }

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b domain.Point) float64 {
	return orbgeo.DistanceHaversine(Point(a), Point(b))
}

// SearchBounds returns rectangles that together contain every point
// within radius meters of center. A rectangle that would cross the
// antimeridian is split in two; one that reaches a pole spans all
// longitudes.
func SearchBounds(center domain.Point, radius float64) []orb.Bound {
	b := orbgeo.NewBoundAroundPoint(Point(center), radius)
	if math.IsNaN(b.Min[0]) || math.IsNaN(b.Max[0]) {
		b.Min[0], b.Max[0] = -180, 180
	}
	if b.Min[0] <= b.Max[0] {
		return []orb.Bound{b}
	}
	return []orb.Bound{
		{Min: orb.Point{b.Min[0], b.Min[1]}, Max: orb.Point{180, b.Max[1]}},
		{Min: orb.Point{-180, b.Min[1]}, Max: orb.Point{b.Max[0], b.Max[1]}},
	}
}
