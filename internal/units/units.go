// Package units provides shared constants and conversion helpers for speed
// units. The tracking core works in km/h externally and m/s or degrees per
// second internally.
package units

// Unit constants accepted by the HTTP query surface.
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values.
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units.
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// FromKmh converts a speed in km/h to the target units. Unknown units pass
// the value through unchanged.
func FromKmh(speedKmh float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedKmh / 3.6
	case MPH:
		return speedKmh * 0.62137119223733
	case KMPH, KPH:
		return speedKmh
	default:
		return speedKmh
	}
}

// KmhFromMps converts meters per second to km/h.
func KmhFromMps(speedMps float64) float64 {
	return speedMps * 3.6
}
