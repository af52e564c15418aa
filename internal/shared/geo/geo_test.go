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

func TestDistanceMShortHops(t *testing.T) {
	cases := []struct {
		name   string
		meters float64
	}{
		{"thirty", 30},
		{"fifty", 50},
		{"eighty", 80},
		{"one km", 1000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := DistanceM(0, 0, tc.meters/MetersPerDegreeLat, 0)
			if math.Abs(d-tc.meters)/tc.meters > 0.005 {
				t.Fatalf("distance %v, want ~%v", d, tc.meters)
			}
		})
	}
}

func TestDistanceMAgainstEllipsoid(t *testing.T) {
	// Paris (48.8566, 2.3522) to London (51.5074, -0.1278) is ~343.9 km on WGS84.
	d := DistanceM(48.8566, 2.3522, 51.5074, -0.1278)
	if math.Abs(d-343_900)/343_900 > 0.005 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestBound(t *testing.T) {
	b := Bound(1, 2, -1, 3)
	if b.Min[0] != 2 || b.Min[1] != -1 || b.Max[0] != 3 || b.Max[1] != 1 {
		t.Fatalf("unexpected bound: %+v", b)
	}
}
