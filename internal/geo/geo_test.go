package geo

import (
	"math"
	"testing"
)

func TestValid(t *testing.T) {
	tests := []struct {
		name  string
		coord Coordinate
		want  bool
	}{
		{"mumbai", Coordinate{19.1890, 72.8398}, true},
		{"equator origin", Coordinate{0, 0}, true},
		{"south pole", Coordinate{-90, 0}, true},
		{"date line", Coordinate{0, 180}, true},
		{"lat too high", Coordinate{200, 0}, false},
		{"lat too low", Coordinate{-90.1, 0}, false},
		{"lng too high", Coordinate{0, 180.5}, false},
		{"nan lat", Coordinate{math.NaN(), 0}, false},
		{"inf lng", Coordinate{0, math.Inf(1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Valid(tt.coord); got != tt.want {
				t.Errorf("Valid(%+v) = %v, want %v", tt.coord, got, tt.want)
			}
		})
	}
}

func TestHaversineMeters(t *testing.T) {
	// Zero distance.
	a := Coordinate{19.1890, 72.8398}
	if d := HaversineMeters(a, a); d != 0 {
		t.Errorf("distance to self = %v, want 0", d)
	}

	// One degree of latitude along a meridian is ~111.2 km on a 6371 km sphere.
	d := HaversineMeters(Coordinate{0, 0}, Coordinate{1, 0})
	if math.Abs(d-111195) > 50 {
		t.Errorf("1 deg latitude = %v m, want ~111195", d)
	}

	// Short urban hop: ~90 m.
	d = HaversineMeters(Coordinate{19.1890, 72.8398}, Coordinate{19.1895, 72.8405})
	if d < 70 || d > 110 {
		t.Errorf("urban hop distance = %v m, want 70-110", d)
	}
}

func TestBearingDegrees(t *testing.T) {
	origin := Coordinate{0, 0}
	tests := []struct {
		name string
		to   Coordinate
		want float64
	}{
		{"north", Coordinate{1, 0}, 0},
		{"east", Coordinate{0, 1}, 90},
		{"south", Coordinate{-1, 0}, 180},
		{"west", Coordinate{0, -1}, 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BearingDegrees(origin, tt.to)
			if math.Abs(got-tt.want) > 0.5 {
				t.Errorf("bearing = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLocalProjectionRoundTrip(t *testing.T) {
	ref := Coordinate{19.1890, 72.8398}
	points := []Coordinate{
		{19.1890, 72.8398},
		{19.1950, 72.8500},
		{19.1800, 72.8300},
		{19.2100, 72.8420},
	}

	for _, p := range points {
		local := ToLocalMeters(p, ref)
		back := FromLocalMeters(local, ref)
		if math.Abs(back.Lat-p.Lat) > 1e-9 || math.Abs(back.Lng-p.Lng) > 1e-9 {
			t.Errorf("round trip of %+v gave %+v", p, back)
		}
	}
}

func TestToLocalMetersScale(t *testing.T) {
	ref := Coordinate{0, 0}
	p := ToLocalMeters(Coordinate{0.001, 0.001}, ref)
	// At the equator both axes scale identically.
	if math.Abs(p.North-111.32) > 0.01 || math.Abs(p.East-111.32) > 0.01 {
		t.Errorf("local point = %+v, want ~111.32 m on both axes", p)
	}
}

func TestVelocityBetween(t *testing.T) {
	a := Coordinate{19.1890, 72.8398}
	b := Coordinate{19.1895, 72.8405}

	v := VelocityBetween(a, b, 5)
	if v.VLat <= 0 || v.VLng <= 0 {
		t.Errorf("expected positive velocity components, got %+v", v)
	}
	// ~90 m over 5 s is ~65 km/h.
	wantKmh := HaversineMeters(a, b) / 5 * 3.6
	if math.Abs(v.SpeedKmh-wantKmh) > 1e-9 {
		t.Errorf("SpeedKmh = %v, want %v", v.SpeedKmh, wantKmh)
	}

	// Non-positive dt must not divide by zero.
	if v := VelocityBetween(a, b, 0); v != (Velocity{}) {
		t.Errorf("zero dt velocity = %+v, want zero", v)
	}
	if v := VelocityBetween(a, b, -3); v != (Velocity{}) {
		t.Errorf("negative dt velocity = %+v, want zero", v)
	}
}

func TestProject(t *testing.T) {
	c := Coordinate{10, 20}
	v := Velocity{VLat: 0.001, VLng: -0.002}
	got := Project(c, v, 10)
	if math.Abs(got.Lat-10.01) > 1e-12 || math.Abs(got.Lng-19.98) > 1e-12 {
		t.Errorf("Project = %+v", got)
	}
}

func TestSpeedVector(t *testing.T) {
	// 36 km/h due north at the equator: 10 m/s entirely in the lat component.
	v := SpeedVector(36, 0, 0)
	if math.Abs(v.VLat-10.0/MetersPerDegree) > 1e-12 {
		t.Errorf("VLat = %v", v.VLat)
	}
	if math.Abs(v.VLng) > 1e-9 {
		t.Errorf("VLng = %v, want ~0", v.VLng)
	}

	// Due east: all in the lng component.
	v = SpeedVector(36, 90, 0)
	if math.Abs(v.VLng-10.0/MetersPerDegree) > 1e-9 {
		t.Errorf("VLng = %v", v.VLng)
	}
}

func TestPolarLatitudesStayFinite(t *testing.T) {
	// cos(lat) reaches zero at the poles; longitude conversions must not
	// blow up into Inf or NaN there.
	for _, lat := range []float64{90, -90} {
		v := SpeedVector(36, 90, lat)
		if math.IsInf(v.VLng, 0) || math.IsNaN(v.VLng) {
			t.Errorf("SpeedVector VLng at lat %v = %v, want finite", lat, v.VLng)
		}

		c := FromLocalMeters(LocalPoint{East: 100, North: 100}, Coordinate{lat, 0})
		if math.IsInf(c.Lng, 0) || math.IsNaN(c.Lng) {
			t.Errorf("FromLocalMeters Lng at lat %v = %v, want finite", lat, c.Lng)
		}
	}
}

func TestHeadingFromVelocity(t *testing.T) {
	tests := []struct {
		name       string
		vLat, vLng float64
		want       float64
	}{
		{"north", 1, 0, 0},
		{"east", 0, 1, 90},
		{"south", -1, 0, 180},
		{"west", 0, -1, 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HeadingFromVelocity(tt.vLat, tt.vLng)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("heading = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEaseInOutCubic(t *testing.T) {
	if got := EaseInOutCubic(0); got != 0 {
		t.Errorf("ease(0) = %v", got)
	}
	if got := EaseInOutCubic(1); got != 1 {
		t.Errorf("ease(1) = %v", got)
	}
	if got := EaseInOutCubic(0.5); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("ease(0.5) = %v", got)
	}
	// Clamped outside [0,1].
	if got := EaseInOutCubic(-1); got != 0 {
		t.Errorf("ease(-1) = %v", got)
	}
	if got := EaseInOutCubic(2); got != 1 {
		t.Errorf("ease(2) = %v", got)
	}
	// Monotonic on a coarse grid.
	prev := -1.0
	for p := 0.0; p <= 1.0; p += 0.05 {
		e := EaseInOutCubic(p)
		if e < prev {
			t.Fatalf("easing not monotonic at p=%v", p)
		}
		prev = e
	}
}

func TestNormalizeHeadingDelta(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{10, 10},
		{-10, -10},
		{190, -170},
		{-190, 170},
		{350, -10},
		{720, 0},
	}
	for _, tt := range tests {
		if got := NormalizeHeadingDelta(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeHeadingDelta(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
