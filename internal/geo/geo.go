// Package geo provides the geodesy primitives used throughout the tracking
// core: great-circle distance, bearing, local planar projection and fix-to-fix
// velocity. All functions are pure.
package geo

import "math"

// EarthRadiusMeters is the fixed spherical Earth radius used for all
// great-circle calculations.
const EarthRadiusMeters = 6371000.0

// MetersPerDegree is the approximate length of one degree of latitude.
// Longitude degrees are scaled by cos(latitude).
const MetersPerDegree = 111320.0

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocalPoint is a position in meters east/north of a reference coordinate.
type LocalPoint struct {
	East  float64
	North float64
}

// Velocity is a ground velocity in degrees per second, with the derived
// scalar speed in km/h.
type Velocity struct {
	VLat     float64 `json:"v_lat"`
	VLng     float64 `json:"v_lng"`
	SpeedKmh float64 `json:"speed_kmh"`
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }
func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

// latitudeScale returns cos(latitude) clamped away from zero so longitude
// conversions stay finite at the poles.
func latitudeScale(latitude float64) float64 {
	c := math.Cos(toRadians(latitude))
	if c < 1e-6 {
		return 1e-6
	}
	return c
}

// Valid reports whether c is a finite coordinate within WGS84 bounds.
func Valid(c Coordinate) bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// HaversineMeters returns the great-circle distance between two coordinates.
func HaversineMeters(a, b Coordinate) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

// BearingDegrees returns the initial bearing from one coordinate to another,
// in degrees clockwise from north, normalised to [0, 360).
func BearingDegrees(from, to Coordinate) float64 {
	lat1 := toRadians(from.Lat)
	lat2 := toRadians(to.Lat)
	dLng := toRadians(to.Lng - from.Lng)

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)

	bearing := toDegrees(math.Atan2(y, x))
	return math.Mod(bearing+360, 360)
}

// ToLocalMeters converts a coordinate to east/north meters relative to ref
// using the small-angle planar approximation. Accurate to well under a meter
// for the few-kilometer spans a delivery track covers.
func ToLocalMeters(c, ref Coordinate) LocalPoint {
	return LocalPoint{
		North: (c.Lat - ref.Lat) * MetersPerDegree,
		East:  (c.Lng - ref.Lng) * MetersPerDegree * math.Cos(toRadians(ref.Lat)),
	}
}

// FromLocalMeters is the inverse of ToLocalMeters.
func FromLocalMeters(p LocalPoint, ref Coordinate) Coordinate {
	return Coordinate{
		Lat: ref.Lat + p.North/MetersPerDegree,
		Lng: ref.Lng + p.East/(MetersPerDegree*latitudeScale(ref.Lat)),
	}
}

// VelocityBetween returns the velocity implied by moving from a to b over
// dtSeconds. A non-positive dt yields a zero velocity.
func VelocityBetween(a, b Coordinate, dtSeconds float64) Velocity {
	if dtSeconds <= 0 {
		return Velocity{}
	}
	return Velocity{
		VLat:     (b.Lat - a.Lat) / dtSeconds,
		VLng:     (b.Lng - a.Lng) / dtSeconds,
		SpeedKmh: HaversineMeters(a, b) / dtSeconds * 3.6,
	}
}

// Project advances a coordinate linearly by velocity over dtSeconds.
func Project(c Coordinate, v Velocity, dtSeconds float64) Coordinate {
	return Coordinate{
		Lat: c.Lat + v.VLat*dtSeconds,
		Lng: c.Lng + v.VLng*dtSeconds,
	}
}

// SpeedVector decomposes a scalar speed and bearing into degree-per-second
// velocity components at the given latitude.
func SpeedVector(speedKmh, bearingDeg, latitude float64) Velocity {
	speedMs := speedKmh / 3.6
	bearing := toRadians(bearingDeg)

	northMs := speedMs * math.Cos(bearing)
	eastMs := speedMs * math.Sin(bearing)

	return Velocity{
		VLat:     northMs / MetersPerDegree,
		VLng:     eastMs / (MetersPerDegree * latitudeScale(latitude)),
		SpeedKmh: speedKmh,
	}
}

// SpeedKmhAt converts degree-per-second velocity components to a scalar
// speed in km/h, scaling the longitude component by cos(latitude).
func SpeedKmhAt(v Velocity, latitude float64) float64 {
	northMs := v.VLat * MetersPerDegree
	eastMs := v.VLng * MetersPerDegree * math.Cos(toRadians(latitude))
	return math.Sqrt(northMs*northMs+eastMs*eastMs) * 3.6
}

// HeadingFromVelocity derives a bearing in degrees (0 = north) from velocity
// components in degrees per second.
func HeadingFromVelocity(vLat, vLng float64) float64 {
	heading := toDegrees(math.Atan2(vLng, vLat))
	return math.Mod(heading+360, 360)
}

// EaseInOutCubic maps linear progress in [0,1] onto a cubic ease-in-out
// curve. Input outside [0,1] is clamped.
func EaseInOutCubic(progress float64) float64 {
	p := math.Max(0, math.Min(progress, 1))
	if p < 0.5 {
		return 4 * p * p * p
	}
	return 1 - math.Pow(-2*p+2, 3)/2
}

// InterpolateCubic returns the coordinate at the given linear progress
// between from and to, eased with EaseInOutCubic.
func InterpolateCubic(from, to Coordinate, progress float64) Coordinate {
	eased := EaseInOutCubic(progress)
	return Coordinate{
		Lat: from.Lat + (to.Lat-from.Lat)*eased,
		Lng: from.Lng + (to.Lng-from.Lng)*eased,
	}
}

// NormalizeHeadingDelta maps an angular difference onto [-180, 180] so
// interpolation always takes the shortest path.
func NormalizeHeadingDelta(delta float64) float64 {
	d := math.Mod(delta, 360)
	if d > 180 {
		d -= 360
	} else if d < -180 {
		d += 360
	}
	return d
}
