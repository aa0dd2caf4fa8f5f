// Package estimator implements the per-agent constant-velocity Kalman filter
// that fuses irregular GPS fixes into a smoothed position/velocity estimate.
//
// State vector (4x1): [lat, lng, vLat, vLng] in degrees and degrees/second.
// The motion model assumes constant velocity between corrections:
//
//	lat(t+dt) = lat(t) + vLat*dt
//	lng(t+dt) = lng(t) + vLng*dt
//
// The measurement model observes the full state (H = I): position always, and
// velocity whenever the caller can derive one from consecutive fixes.
package estimator

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fleetglass/courier.track/internal/geo"
	"github.com/fleetglass/courier.track/internal/mat"
)

// ErrNumerical wraps singular-matrix failures inside the correction step.
// Callers must treat it as fatal for the current track and re-seed.
var ErrNumerical = errors.New("estimator: numerical failure")

// Config holds the filter noise parameters. Values are variances in
// degree-based units. The defaults are tuned for urban vehicle tracking at a
// ~5 second fix cadence.
type Config struct {
	ProcessNoisePosition float64 // Q diagonal, position rows
	ProcessNoiseVelocity float64 // Q diagonal, velocity rows

	MeasurementNoisePosition float64 // R diagonal, position rows
	MeasurementNoiseVelocity float64 // R diagonal, velocity rows

	InitialUncertaintyPosition float64 // P diagonal at seed, position rows
	InitialUncertaintyVelocity float64 // P diagonal at seed, velocity rows

	// ConfidenceSigmaScale is k in exp(-k*sigma): how quickly confidence
	// falls off with average positional standard deviation (degrees).
	ConfidenceSigmaScale float64

	// ConfidenceTimeConstant is tau in exp(-age/tau): how quickly confidence
	// decays with time since the last correction.
	ConfidenceTimeConstant time.Duration
}

// DefaultConfig returns filter defaults for urban delivery vehicles.
func DefaultConfig() Config {
	return Config{
		ProcessNoisePosition:       1e-6,
		ProcessNoiseVelocity:       1e-4,
		MeasurementNoisePosition:   1e-5,
		MeasurementNoiseVelocity:   1e-3,
		InitialUncertaintyPosition: 1e-4,
		InitialUncertaintyVelocity: 1e-2,
		ConfidenceSigmaScale:       1000,
		ConfidenceTimeConstant:     10 * time.Second,
	}
}

// State is a snapshot of the filter estimate.
type State struct {
	Position  geo.Coordinate
	Velocity  geo.Velocity
	Timestamp time.Time
}

// Filter is a constant-velocity Kalman filter for one tracked agent.
// It is not safe for concurrent use; the owning track controller must
// serialise all calls.
type Filter struct {
	cfg Config

	x mat.Matrix // state estimate, 4x1
	p mat.Matrix // estimate covariance, 4x4
	q mat.Matrix // process noise, 4x4 diagonal
	r mat.Matrix // measurement noise, 4x4 diagonal

	lastUpdate time.Time
}

// New seeds a filter at the given initial state.
func New(initial State, cfg Config) *Filter {
	f := &Filter{cfg: cfg}
	f.Reset(initial)
	return f
}

// Reset discards all accumulated uncertainty and re-seeds the filter at a
// fresh state. Used after large time gaps, when the linear model has nothing
// useful to carry forward.
func (f *Filter) Reset(s State) {
	f.x = mat.ColumnVector(s.Position.Lat, s.Position.Lng, s.Velocity.VLat, s.Velocity.VLng)
	f.p = mat.Diagonal(
		f.cfg.InitialUncertaintyPosition,
		f.cfg.InitialUncertaintyPosition,
		f.cfg.InitialUncertaintyVelocity,
		f.cfg.InitialUncertaintyVelocity,
	)
	f.q = mat.Diagonal(
		f.cfg.ProcessNoisePosition,
		f.cfg.ProcessNoisePosition,
		f.cfg.ProcessNoiseVelocity,
		f.cfg.ProcessNoiseVelocity,
	)
	f.r = mat.Diagonal(
		f.cfg.MeasurementNoisePosition,
		f.cfg.MeasurementNoisePosition,
		f.cfg.MeasurementNoiseVelocity,
		f.cfg.MeasurementNoiseVelocity,
	)
	f.lastUpdate = s.Timestamp
}

// transition returns the constant-velocity transition matrix for dt seconds:
//
//	F = | 1  0  dt 0  |
//	    | 0  1  0  dt |
//	    | 0  0  1  0  |
//	    | 0  0  0  1  |
func transition(dtSeconds float64) mat.Matrix {
	f := mat.Identity(4)
	f.Set(0, 2, dtSeconds)
	f.Set(1, 3, dtSeconds)
	return f
}

// Predict advances the state and covariance by dtSeconds without new
// information: x = F*x, P = F*P*Ft + Q. Callable repeatedly; predicting in
// two steps is equivalent to one prediction over the summed dt. Callers are
// responsible for capping dt.
func (f *Filter) Predict(dtSeconds float64) State {
	tr := transition(dtSeconds)

	// These multiplications cannot fail: shapes are fixed at 4x4 and 4x1.
	f.x, _ = mat.Mul(tr, f.x)

	fp, _ := mat.Mul(tr, f.p)
	fpft, _ := mat.Mul(fp, mat.Transpose(tr))
	f.p, _ = mat.Add(fpft, f.q)

	f.lastUpdate = f.lastUpdate.Add(time.Duration(dtSeconds * float64(time.Second)))
	return f.State()
}

// Update corrects the estimate with a measurement of the full state:
//
//	y = z - x            (innovation; H = I)
//	S = P + R            (innovation covariance)
//	K = P * S^-1         (gain)
//	x = x + K*y
//	P = (I - K) * P
//
// A singular innovation covariance returns an error wrapping ErrNumerical and
// leaves the filter state untouched.
func (f *Filter) Update(m State) error {
	z := mat.ColumnVector(m.Position.Lat, m.Position.Lng, m.Velocity.VLat, m.Velocity.VLng)

	y, _ := mat.Sub(z, f.x)
	s, _ := mat.Add(f.p, f.r)

	sInv, err := mat.Inverse(s)
	if err != nil {
		return fmt.Errorf("%w: inverting innovation covariance: %v", ErrNumerical, err)
	}

	k, _ := mat.Mul(f.p, sInv)

	ky, _ := mat.Mul(k, y)
	newX, _ := mat.Add(f.x, ky)

	ik, _ := mat.Sub(mat.Identity(4), k)
	newP, _ := mat.Mul(ik, f.p)

	// A negative variance on the diagonal means the update has destroyed
	// positive semi-definiteness. Surface it as a numerical failure instead
	// of letting the filter silently diverge.
	for i := 0; i < 4; i++ {
		if newP.At(i, i) < 0 {
			return fmt.Errorf("%w: covariance diagonal went negative at %d", ErrNumerical, i)
		}
	}

	f.x = newX
	f.p = newP
	f.lastUpdate = m.Timestamp
	return nil
}

// SetMeasurementNoise rescales the positional rows of R from a reported GPS
// accuracy in meters. A larger stated error means less trust in the fix.
func (f *Filter) SetMeasurementNoise(accuracyMeters float64) {
	accuracyDegrees := accuracyMeters / geo.MetersPerDegree
	variance := accuracyDegrees * accuracyDegrees
	f.r.Set(0, 0, variance)
	f.r.Set(1, 1, variance)
}

// ResetMeasurementNoise restores the positional rows of R to the configured
// defaults, for fixes that carry no accuracy figure.
func (f *Filter) ResetMeasurementNoise() {
	f.r.Set(0, 0, f.cfg.MeasurementNoisePosition)
	f.r.Set(1, 1, f.cfg.MeasurementNoisePosition)
}

// ScaleProcessNoise temporarily widens Q by the given factor so the filter
// can track through a maneuver that violates the constant-velocity model.
func (f *Filter) ScaleProcessNoise(factor float64) {
	f.q = mat.Scale(f.q, factor)
}

// ResetProcessNoise restores Q to the configured defaults.
func (f *Filter) ResetProcessNoise() {
	f.q = mat.Diagonal(
		f.cfg.ProcessNoisePosition,
		f.cfg.ProcessNoisePosition,
		f.cfg.ProcessNoiseVelocity,
		f.cfg.ProcessNoiseVelocity,
	)
}

// State returns the current estimate.
func (f *Filter) State() State {
	return State{
		Position:  geo.Coordinate{Lat: f.x.At(0, 0), Lng: f.x.At(1, 0)},
		Velocity:  geo.Velocity{VLat: f.x.At(2, 0), VLng: f.x.At(3, 0)},
		Timestamp: f.lastUpdate,
	}
}

// PeekAhead returns the position dtSeconds into the future by linear
// projection, without mutating any filter state.
func (f *Filter) PeekAhead(dtSeconds float64) geo.Coordinate {
	return geo.Coordinate{
		Lat: f.x.At(0, 0) + f.x.At(2, 0)*dtSeconds,
		Lng: f.x.At(1, 0) + f.x.At(3, 0)*dtSeconds,
	}
}

// PositionUncertainty returns the positional standard deviations in degrees.
func (f *Filter) PositionUncertainty() (lat, lng float64) {
	return math.Sqrt(math.Max(f.p.At(0, 0), 0)), math.Sqrt(math.Max(f.p.At(1, 1), 0))
}

// VelocityUncertainty returns the velocity standard deviations in deg/s.
func (f *Filter) VelocityUncertainty() (vLat, vLng float64) {
	return math.Sqrt(math.Max(f.p.At(2, 2), 0)), math.Sqrt(math.Max(f.p.At(3, 3), 0))
}

// Confidence summarises estimator certainty and data freshness as a scalar
// in [0, 1]: exp(-k*sigma) decayed by exp(-age/tau), where sigma is the mean
// positional standard deviation and age is the time since the last correction.
func (f *Filter) Confidence(now time.Time) float64 {
	latSigma, lngSigma := f.PositionUncertainty()
	sigma := (latSigma + lngSigma) / 2

	base := math.Exp(-sigma * f.cfg.ConfidenceSigmaScale)

	age := now.Sub(f.lastUpdate).Seconds()
	if age < 0 {
		age = 0
	}
	decay := math.Exp(-age / f.cfg.ConfidenceTimeConstant.Seconds())

	c := base * decay
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// LastUpdate returns the timestamp of the most recent correction or reset.
func (f *Filter) LastUpdate() time.Time {
	return f.lastUpdate
}
