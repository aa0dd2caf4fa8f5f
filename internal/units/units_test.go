package units

import (
	"math"
	"testing"
)

func TestIsValid(t *testing.T) {
	for _, u := range ValidUnits {
		if !IsValid(u) {
			t.Errorf("IsValid(%q) = false, want true", u)
		}
	}
	for _, u := range []string{"", "knots", "KMPH", "m/s"} {
		if IsValid(u) {
			t.Errorf("IsValid(%q) = true, want false", u)
		}
	}
}

func TestFromKmh(t *testing.T) {
	tests := []struct {
		unit string
		want float64
	}{
		{MPS, 10},
		{KMPH, 36},
		{KPH, 36},
		{MPH, 22.369362920544},
		{"unknown", 36},
	}
	for _, tt := range tests {
		if got := FromKmh(36, tt.unit); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("FromKmh(36, %q) = %v, want %v", tt.unit, got, tt.want)
		}
	}
}

func TestKmhFromMps(t *testing.T) {
	if got := KmhFromMps(10); math.Abs(got-36) > 1e-12 {
		t.Errorf("KmhFromMps(10) = %v, want 36", got)
	}
}
