package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/SirClappington/jobbid/internal/domain"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name    string
		a, b    domain.Point
		want    float64
		epsilon float64
	}{
		{"same point", domain.Point{Lng: 3, Lat: 6}, domain.Point{Lng: 3, Lat: 6}, 0, 1e-9},
		{"one degree of latitude", domain.Point{Lng: 0, Lat: 0}, domain.Point{Lng: 0, Lat: 1}, MetersPerDegreeLat, 1e-6},
		{"small diagonal near origin", domain.Point{}, domain.Point{Lng: 0.001, Lat: 0.001}, 157.4, 0.5},
		{"across antimeridian", domain.Point{Lng: 179.9, Lat: 0}, domain.Point{Lng: -179.9, Lat: 0}, 0.2 * MetersPerDegreeLat, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.epsilon {
				t.Fatalf("Distance = %f, want %f ± %f", got, tt.want, tt.epsilon)
			}
			if back := Distance(tt.b, tt.a); math.Abs(back-got) > 1e-9 {
				t.Fatalf("Distance not symmetric: %f vs %f", got, back)
			}
		})
	}
}

func TestValid(t *testing.T) {
	if !Valid(domain.Point{Lng: -180, Lat: 90}) {
		t.Fatal("boundary point should be valid")
	}
	for _, p := range []domain.Point{
		{Lng: 181, Lat: 0},
		{Lng: 0, Lat: -90.5},
		{Lng: math.NaN(), Lat: 0},
	} {
		if Valid(p) {
			t.Errorf("Valid(%+v) = true, want false", p)
		}
	}
}

func contains(bounds []orb.Bound, p domain.Point) bool {
	for _, b := range bounds {
		if b.Contains(Point(p)) {
			return true
		}
	}
	return false
}

func TestSearchBoundsContainRadius(t *testing.T) {
	center := domain.Point{Lng: 10, Lat: 45}
	bounds := SearchBounds(center, 5000)
	if len(bounds) != 1 {
		t.Fatalf("got %d bounds, want 1", len(bounds))
	}
	b := bounds[0]
	east := domain.Point{Lng: b.Max[0], Lat: center.Lat}
	if d := Distance(center, east); d < 5000 {
		t.Fatalf("east edge at %f m is inside the radius", d)
	}
	north := domain.Point{Lng: center.Lng, Lat: b.Max[1]}
	if d := Distance(center, north); math.Abs(d-5000) > 1 {
		t.Fatalf("north edge at %f m, want 5000", d)
	}
}

func TestSearchBoundsSplitAtAntimeridian(t *testing.T) {
	center := domain.Point{Lng: 179.99, Lat: 0}
	bounds := SearchBounds(center, 5000)
	if len(bounds) != 2 {
		t.Fatalf("got %d bounds, want 2", len(bounds))
	}
	for _, p := range []domain.Point{{Lng: 179.995, Lat: 0}, {Lng: -179.99, Lat: 0.01}} {
		if Distance(center, p) > 5000 {
			t.Fatalf("test point %+v is outside the radius", p)
		}
		if !contains(bounds, p) {
			t.Errorf("%+v not covered by %v", p, bounds)
		}
	}
}

func TestSearchBoundsAtPole(t *testing.T) {
	center := domain.Point{Lng: 0, Lat: 89.99}
	across := domain.Point{Lng: 180, Lat: 89.99}
	if Distance(center, across) > 5000 {
		t.Fatal("test point is outside the radius")
	}
	if !contains(SearchBounds(center, 5000), across) {
		t.Fatal("point across the pole not covered")
	}
}
