// Package track owns the lifetime of one agent's state estimator. The
// Controller ingests raw fixes, decides when to correct versus re-seed,
// detects maneuvers, and exposes a continuously queryable smoothed position.
package track

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/fleetglass/courier.track/internal/estimator"
	"github.com/fleetglass/courier.track/internal/geo"
	"github.com/fleetglass/courier.track/internal/monitoring"
	"github.com/fleetglass/courier.track/internal/timeutil"
)

// State represents the lifecycle state of a track.
type State string

const (
	StateUninitialized State = "uninitialized" // No fix received yet
	StateTracking      State = "tracking"      // Estimator live and fresh
	StateStale         State = "stale"         // No fix within the staleness threshold
)

// ErrInvalidFix is returned when a fix fails coordinate validation. The
// track's stored state is never mutated by an invalid fix.
var ErrInvalidFix = errors.New("track: invalid fix")

// Fix is one raw position report from a producer. Optional sensor readings
// are pointers so absence is distinguishable from zero.
type Fix struct {
	Position       geo.Coordinate
	SpeedKmh       *float64 // reported ground speed
	HeadingDeg     *float64 // reported heading, 0-360, 0 = north
	AccuracyMeters *float64 // reported GPS accuracy error
	Timestamp      time.Time
}

// Config holds the controller tuning parameters.
type Config struct {
	// MaxGapBeforeReset is the inter-fix gap beyond which the estimator is
	// re-seeded instead of corrected.
	MaxGapBeforeReset time.Duration

	// StalenessThreshold is the fix age beyond which queries stop
	// extrapolating and report confidence 0.
	StalenessThreshold time.Duration

	// MaxPollExtrapolation caps forward prediction per CurrentPosition call.
	MaxPollExtrapolation time.Duration

	// MaxPredictAhead caps PredictAhead projection.
	MaxPredictAhead time.Duration

	// MinMovingSpeedKmh is the speed below which the agent reports as
	// stationary.
	MinMovingSpeedKmh float64

	// MaxSpeedKmh is the plausibility ceiling for reported speeds; faster
	// fixes are rejected as invalid.
	MaxSpeedKmh float64

	// ManeuverSpeedDelta is the relative speed change between consecutive
	// fixes that flags a maneuver (0.3 = 30%).
	ManeuverSpeedDelta float64

	// ManeuverHeadingDeltaDeg is the absolute shortest-path heading change
	// that flags a maneuver.
	ManeuverHeadingDeltaDeg float64

	// SpeedNoiseFactor and HeadingNoiseFactor widen process noise for the
	// next correction when the corresponding maneuver test fires.
	SpeedNoiseFactor   float64
	HeadingNoiseFactor float64

	Estimator estimator.Config
}

// DefaultConfig returns controller defaults matching a ~5 second fix cadence.
func DefaultConfig() Config {
	return Config{
		MaxGapBeforeReset:       30 * time.Second,
		StalenessThreshold:      30 * time.Second,
		MaxPollExtrapolation:    time.Second,
		MaxPredictAhead:         60 * time.Second,
		MinMovingSpeedKmh:       1.0,
		MaxSpeedKmh:             200.0,
		ManeuverSpeedDelta:      0.30,
		ManeuverHeadingDeltaDeg: 30.0,
		SpeedNoiseFactor:        3.0,
		HeadingNoiseFactor:      2.0,
		Estimator:               estimator.DefaultConfig(),
	}
}

// Position is a queryable snapshot of the smoothed estimate.
type Position struct {
	Position        geo.Coordinate `json:"position"`
	Velocity        geo.Velocity   `json:"velocity"`
	HeadingDeg      float64        `json:"heading_deg"`
	Confidence      float64        `json:"confidence"`
	SecondsSinceFix float64        `json:"seconds_since_fix"`
	Stale           bool           `json:"stale"`
}

// Stats summarises the track for the hosting application.
type Stats struct {
	State              State     `json:"state"`
	UpdateCount        int       `json:"update_count"`
	LastFixTime        time.Time `json:"last_fix_time"`
	SecondsSinceFix    float64   `json:"seconds_since_fix"`
	SpeedKmh           float64   `json:"speed_kmh"`
	Confidence         float64   `json:"confidence"`
	UncertaintyLatDeg  float64   `json:"uncertainty_lat_deg"`
	UncertaintyLngDeg  float64   `json:"uncertainty_lng_deg"`
	IsMoving           bool      `json:"is_moving"`
}

// Controller manages one agent's estimator. All methods are safe for
// concurrent use; estimator state has exactly one writer because every
// mutation happens under the controller mutex.
type Controller struct {
	mu sync.Mutex

	cfg    Config
	clock  timeutil.Clock
	filter *estimator.Filter

	lastFix     *Fix
	prevFix     *Fix
	updateCount int
}

// NewController creates an uninitialized controller. The first ingested fix
// seeds the estimator.
func NewController(cfg Config, clock timeutil.Clock) *Controller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Controller{cfg: cfg, clock: clock}
}

// Ingest processes one raw fix in arrival order. Invalid fixes return
// ErrInvalidFix without mutating any state; out-of-order or duplicate
// timestamps are dropped as a no-op; a gap beyond MaxGapBeforeReset re-seeds
// the estimator; a numerical failure inside the correction forces a re-seed.
func (c *Controller) Ingest(fix Fix) error {
	if !geo.Valid(fix.Position) {
		return fmt.Errorf("%w: coordinate %+v out of range", ErrInvalidFix, fix.Position)
	}
	if fix.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidFix)
	}
	if fix.SpeedKmh != nil && (*fix.SpeedKmh < 0 || math.IsNaN(*fix.SpeedKmh)) {
		return fmt.Errorf("%w: negative speed %v", ErrInvalidFix, *fix.SpeedKmh)
	}
	if fix.SpeedKmh != nil && c.cfg.MaxSpeedKmh > 0 && *fix.SpeedKmh > c.cfg.MaxSpeedKmh {
		return fmt.Errorf("%w: speed %.1f km/h above ceiling %.1f", ErrInvalidFix, *fix.SpeedKmh, c.cfg.MaxSpeedKmh)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Timestamps must be monotonic per producer. Anything at or before the
	// last accepted fix is dropped, never applied out of sequence.
	if c.lastFix != nil && !fix.Timestamp.After(c.lastFix.Timestamp) {
		monitoring.Logf("[Track] Dropping out-of-order fix: %v <= %v",
			fix.Timestamp.Format(time.RFC3339Nano), c.lastFix.Timestamp.Format(time.RFC3339Nano))
		return nil
	}

	if c.filter == nil {
		c.seedLocked(fix)
		return nil
	}

	gap := fix.Timestamp.Sub(c.lastFix.Timestamp)
	if gap > c.cfg.MaxGapBeforeReset {
		monitoring.Logf("[Track] Gap %.1fs exceeds %.1fs, re-seeding estimator",
			gap.Seconds(), c.cfg.MaxGapBeforeReset.Seconds())
		c.seedLocked(fix)
		return nil
	}

	dt := gap.Seconds()
	measurement := estimator.State{
		Position:  fix.Position,
		Velocity:  c.measuredVelocity(fix, dt),
		Timestamp: fix.Timestamp,
	}

	// Widen process noise before the prediction so the maneuver actually
	// loosens the covariance the correction works against.
	c.detectManeuver(fix)

	c.filter.Predict(dt)

	if fix.AccuracyMeters != nil && *fix.AccuracyMeters > 0 {
		c.filter.SetMeasurementNoise(*fix.AccuracyMeters)
	} else {
		c.filter.ResetMeasurementNoise()
	}

	err := c.filter.Update(measurement)
	c.filter.ResetProcessNoise()
	if err != nil {
		// Numerical failure is fatal for this track: discard the diverged
		// covariance and start over at the fresh fix.
		monitoring.Logf("[Track] Estimator correction failed (%v), forcing reset", err)
		c.seedLocked(fix)
		return err
	}

	c.prevFix = c.lastFix
	c.lastFix = &fix
	c.updateCount++
	return nil
}

// measuredVelocity builds the velocity component of the measurement from the
// last two raw fixes. Displacement gives the direction; when the fix carries
// a reported speed, the magnitude comes from the sensor, which is far less
// noisy than differencing two GPS points.
func (c *Controller) measuredVelocity(fix Fix, dt float64) geo.Velocity {
	implied := geo.VelocityBetween(c.lastFix.Position, fix.Position, dt)
	if fix.SpeedKmh == nil {
		return implied
	}

	bearing := geo.BearingDegrees(c.lastFix.Position, fix.Position)
	if fix.HeadingDeg != nil {
		bearing = *fix.HeadingDeg
	}
	return geo.SpeedVector(*fix.SpeedKmh, bearing, fix.Position.Lat)
}

// detectManeuver compares consecutive reported speed and heading, widening
// process noise for the next correction when either changes sharply enough
// that the constant-velocity assumption is temporarily invalid.
func (c *Controller) detectManeuver(fix Fix) {
	prev := c.lastFix

	if prev.SpeedKmh != nil && fix.SpeedKmh != nil {
		base := math.Max(*prev.SpeedKmh, 1)
		change := math.Abs(*fix.SpeedKmh-*prev.SpeedKmh) / base
		if change > c.cfg.ManeuverSpeedDelta {
			monitoring.Logf("[Track] Speed change %.0f%% flags maneuver, widening process noise", change*100)
			c.filter.ScaleProcessNoise(c.cfg.SpeedNoiseFactor)
		}
	}

	if prev.HeadingDeg != nil && fix.HeadingDeg != nil {
		delta := math.Abs(geo.NormalizeHeadingDelta(*fix.HeadingDeg - *prev.HeadingDeg))
		if delta > c.cfg.ManeuverHeadingDeltaDeg {
			monitoring.Logf("[Track] Heading change %.1f deg flags maneuver, widening process noise", delta)
			c.filter.ScaleProcessNoise(c.cfg.HeadingNoiseFactor)
		}
	}
}

// seedLocked (re-)seeds the estimator at a fresh fix with zero velocity and
// initial uncertainty. Caller holds the mutex.
func (c *Controller) seedLocked(fix Fix) {
	seed := estimator.State{Position: fix.Position, Timestamp: fix.Timestamp}
	if c.filter == nil {
		c.filter = estimator.New(seed, c.cfg.Estimator)
	} else {
		c.filter.Reset(seed)
	}
	c.prevFix = nil
	c.lastFix = &fix
	c.updateCount++
}

// CurrentPosition returns the smoothed estimate extrapolated to now,
// clamped to MaxPollExtrapolation of drift per call. Once the last fix is
// older than the staleness threshold it returns the last known raw position
// with confidence 0 instead of extrapolating further.
func (c *Controller) CurrentPosition() (Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filter == nil || c.lastFix == nil {
		return Position{}, false
	}

	now := c.clock.Now()
	age := now.Sub(c.lastFix.Timestamp).Seconds()

	if age > c.cfg.StalenessThreshold.Seconds() {
		return Position{
			Position:        c.lastFix.Position,
			Confidence:      0,
			SecondsSinceFix: age,
			Stale:           true,
		}, true
	}

	extrapolate := math.Min(math.Max(now.Sub(c.filter.LastUpdate()).Seconds(), 0),
		c.cfg.MaxPollExtrapolation.Seconds())

	pos := c.filter.PeekAhead(extrapolate)
	state := c.filter.State()
	vel := state.Velocity
	vel.SpeedKmh = geo.SpeedKmhAt(vel, pos.Lat)

	return Position{
		Position:        pos,
		Velocity:        vel,
		HeadingDeg:      geo.HeadingFromVelocity(vel.VLat, vel.VLng),
		Confidence:      c.filter.Confidence(now),
		SecondsSinceFix: age,
	}, true
}

// PredictAhead projects the current estimate secondsAhead into the future
// without mutating filter state. The horizon is clamped to MaxPredictAhead.
func (c *Controller) PredictAhead(secondsAhead float64) (geo.Coordinate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filter == nil {
		return geo.Coordinate{}, false
	}
	dt := math.Min(math.Max(secondsAhead, 0), c.cfg.MaxPredictAhead.Seconds())
	return c.filter.PeekAhead(dt), true
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	if c.filter == nil || c.lastFix == nil {
		return StateUninitialized
	}
	if c.clock.Since(c.lastFix.Timestamp) > c.cfg.StalenessThreshold {
		return StateStale
	}
	return StateTracking
}

// Stats reports tracking statistics for the hosting application.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	state := c.stateLocked()
	filter := c.filter
	lastFix := c.lastFix
	updateCount := c.updateCount
	c.mu.Unlock()

	s := Stats{State: state, UpdateCount: updateCount}
	if filter == nil || lastFix == nil {
		return s
	}

	pos, ok := c.CurrentPosition()
	if !ok {
		return s
	}

	c.mu.Lock()
	latSigma, lngSigma := filter.PositionUncertainty()
	c.mu.Unlock()

	s.LastFixTime = lastFix.Timestamp
	s.SecondsSinceFix = pos.SecondsSinceFix
	s.SpeedKmh = pos.Velocity.SpeedKmh
	s.Confidence = pos.Confidence
	s.UncertaintyLatDeg = latSigma
	s.UncertaintyLngDeg = lngSigma
	s.IsMoving = pos.Velocity.SpeedKmh > c.cfg.MinMovingSpeedKmh
	return s
}

// IsMoving reports whether the smoothed speed exceeds the minimum moving
// threshold.
func (c *Controller) IsMoving() bool {
	pos, ok := c.CurrentPosition()
	return ok && !pos.Stale && pos.Velocity.SpeedKmh > c.cfg.MinMovingSpeedKmh
}

// CurrentSpeedKmh returns the smoothed speed, or 0 before initialization.
func (c *Controller) CurrentSpeedKmh() float64 {
	pos, ok := c.CurrentPosition()
	if !ok || pos.Stale {
		return 0
	}
	return pos.Velocity.SpeedKmh
}

// LastFix returns the most recent accepted raw fix.
func (c *Controller) LastFix() (Fix, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastFix == nil {
		return Fix{}, false
	}
	return *c.lastFix, true
}

// UpdateCount returns the number of fixes accepted (including seeds).
func (c *Controller) UpdateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updateCount
}

// PositionUncertainty exposes the estimator's positional sigma in degrees.
func (c *Controller) PositionUncertainty() (lat, lng float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filter == nil {
		return 0, 0
	}
	return c.filter.PositionUncertainty()
}

// Reset clears all track state; the next fix seeds a fresh estimator.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = nil
	c.lastFix = nil
	c.prevFix = nil
	c.updateCount = 0
}
