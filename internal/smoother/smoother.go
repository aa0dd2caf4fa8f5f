// Package smoother turns discrete position estimates into continuous
// presentation motion. Consumers render markers at whatever frame rate they
// like; the Animator eases between successive targets and only snaps when a
// large correction lands too early in an active ease to hide.
package smoother

import (
	"math"
	"sync"
	"time"

	"github.com/fleetglass/courier.track/internal/config"
	"github.com/fleetglass/courier.track/internal/geo"
	"github.com/fleetglass/courier.track/internal/timeutil"
)

// Config holds the animation tuning parameters.
type Config struct {
	// Window is the duration of one ease from anchor to target.
	Window time.Duration

	// SnapThresholdDeg is the positional change, in degrees of coordinate
	// distance, past which a new target counts as a correction rather than
	// ordinary motion. Roughly 11 meters at the default.
	SnapThresholdDeg float64

	// ReanchorProgress is the animation progress past which a correction
	// re-anchors the ease at the currently displayed position. A correction
	// arriving earlier than this snaps the marker outright.
	ReanchorProgress float64
}

// DefaultConfig returns animation defaults matching a ~5 second fix cadence.
func DefaultConfig() Config {
	return Config{
		Window:           5 * time.Second,
		SnapThresholdDeg: 0.0001,
		ReanchorProgress: 0.2,
	}
}

// Pose is one rendered sample: where the marker sits and which way it faces.
type Pose struct {
	Position   geo.Coordinate `json:"position"`
	HeadingDeg float64        `json:"heading_deg"`
}

// Animator eases one marker between successive targets. Safe for concurrent
// use: the render loop samples while the track feed retargets.
type Animator struct {
	mu    sync.Mutex
	cfg   Config
	clock timeutil.Clock

	initialized bool
	animating   bool
	start       time.Time
	from        Pose
	to          Pose
}

// NewAnimator creates an animator with no position yet. The first target
// snaps into place.
func NewAnimator(cfg Config, clock timeutil.Clock) *Animator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Animator{cfg: cfg, clock: clock}
}

// SetTarget moves the marker toward a new pose. The first target snaps into
// place; every later target starts an ease from the currently displayed pose
// over the configured window. The one exception is a correction past the
// snap threshold landing early in an active ease: the previous target was
// evidently wrong, so the marker jumps straight to the new one.
func (a *Animator) SetTarget(target Pose) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()

	if !a.initialized {
		a.initialized = true
		a.from = target
		a.to = target
		return
	}

	current := a.sampleLocked(now)

	dLat := target.Position.Lat - current.Position.Lat
	dLng := target.Position.Lng - current.Position.Lng
	if math.Hypot(dLat, dLng) >= a.cfg.SnapThresholdDeg &&
		a.animating && a.progressLocked(now) <= a.cfg.ReanchorProgress {
		a.animating = false
		a.from = target
		a.to = target
		return
	}

	a.animating = true
	a.start = now
	a.from = current
	a.to = target
}

// Sample returns the pose to render right now.
func (a *Animator) Sample() (Pose, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return Pose{}, false
	}
	return a.sampleLocked(a.clock.Now()), true
}

// Idle reports whether the marker has settled on its target.
func (a *Animator) Idle() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.initialized || !a.animating || a.progressLocked(a.clock.Now()) >= 1
}

func (a *Animator) progressLocked(now time.Time) float64 {
	if a.cfg.Window <= 0 {
		return 1
	}
	return now.Sub(a.start).Seconds() / a.cfg.Window.Seconds()
}

func (a *Animator) sampleLocked(now time.Time) Pose {
	if !a.animating {
		return a.to
	}

	progress := a.progressLocked(now)
	if progress >= 1 {
		a.animating = false
		return a.to
	}

	eased := geo.EaseInOutCubic(progress)
	delta := geo.NormalizeHeadingDelta(a.to.HeadingDeg - a.from.HeadingDeg)

	return Pose{
		Position:   geo.InterpolateCubic(a.from.Position, a.to.Position, progress),
		HeadingDeg: math.Mod(a.from.HeadingDeg+delta*eased+360, 360),
	}
}

// FromTuning builds an animation Config from the loaded tuning file.
func FromTuning(t *config.TuningConfig) Config {
	return Config{
		Window:           t.GetAnimationWindow(),
		SnapThresholdDeg: t.GetSnapThresholdDegrees(),
		ReanchorProgress: 0.2,
	}
}
