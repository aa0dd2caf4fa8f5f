// Package config loads the tracking tuning parameters from a JSON file.
// All fields are pointers so a partial config only overrides what it names;
// every getter falls back to a documented default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig represents the root configuration for the tracking core. The
// same JSON schema serves both startup configuration and the /api/config
// endpoint, so a captured config can be fed straight back in.
type TuningConfig struct {
	// Cadence and staleness
	FixCadence         *string `json:"fix_cadence,omitempty"`         // duration string like "5s"
	StalenessThreshold *string `json:"staleness_threshold,omitempty"` // duration string like "30s"
	SweepInterval      *string `json:"sweep_interval,omitempty"`      // duration string like "10s"

	// Track controller
	MinMovingSpeedKmh       *float64 `json:"min_moving_speed_kmh,omitempty"`
	MaxSpeedKmh             *float64 `json:"max_speed_kmh,omitempty"`
	ManeuverSpeedDelta      *float64 `json:"maneuver_speed_delta,omitempty"`       // relative, 0.3 = 30%
	ManeuverHeadingDeltaDeg *float64 `json:"maneuver_heading_delta_deg,omitempty"` // absolute degrees
	SpeedNoiseFactor        *float64 `json:"speed_noise_factor,omitempty"`
	HeadingNoiseFactor      *float64 `json:"heading_noise_factor,omitempty"`
	MaxPollExtrapolation    *string  `json:"max_poll_extrapolation,omitempty"` // duration string
	MaxPredictAhead         *string  `json:"max_predict_ahead,omitempty"`      // duration string

	// Estimator noise (variances in degree units)
	ProcessNoisePos       *float64 `json:"process_noise_pos,omitempty"`
	ProcessNoiseVel       *float64 `json:"process_noise_vel,omitempty"`
	MeasurementNoisePos   *float64 `json:"measurement_noise_pos,omitempty"`
	MeasurementNoiseVel   *float64 `json:"measurement_noise_vel,omitempty"`
	InitialUncertaintyPos *float64 `json:"initial_uncertainty_pos,omitempty"`
	InitialUncertaintyVel *float64 `json:"initial_uncertainty_vel,omitempty"`

	// Confidence shaping
	ConfidenceSigmaScale   *float64 `json:"confidence_sigma_scale,omitempty"`
	ConfidenceTimeConstant *string  `json:"confidence_time_constant,omitempty"` // duration string

	// Presentation smoother
	AnimationWindow       *string  `json:"animation_window,omitempty"` // duration string
	SnapThresholdDegrees  *float64 `json:"snap_threshold_degrees,omitempty"`
	FrameRate             *int     `json:"frame_rate,omitempty"`

	// Distribution service
	RoomSubscriberCap *int `json:"room_subscriber_cap,omitempty"`
}

// Empty returns a TuningConfig with all fields unset, so every getter
// reports its default.
func Empty() *TuningConfig {
	return &TuningConfig{}
}

// Load reads a TuningConfig from a JSON file. Fields omitted from the file
// keep their defaults, so partial configs are safe.
func Load(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Size cap guards against reading an arbitrary large file by mistake.
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *TuningConfig) Validate() error {
	durations := map[string]*string{
		"fix_cadence":              c.FixCadence,
		"staleness_threshold":      c.StalenessThreshold,
		"sweep_interval":           c.SweepInterval,
		"max_poll_extrapolation":   c.MaxPollExtrapolation,
		"max_predict_ahead":        c.MaxPredictAhead,
		"confidence_time_constant": c.ConfidenceTimeConstant,
		"animation_window":         c.AnimationWindow,
	}
	for name, v := range durations {
		if v != nil && *v != "" {
			d, err := time.ParseDuration(*v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", name, *v, err)
			}
			if d <= 0 {
				return fmt.Errorf("%s must be positive, got %s", name, d)
			}
		}
	}

	positives := map[string]*float64{
		"process_noise_pos":       c.ProcessNoisePos,
		"process_noise_vel":       c.ProcessNoiseVel,
		"measurement_noise_pos":   c.MeasurementNoisePos,
		"measurement_noise_vel":   c.MeasurementNoiseVel,
		"initial_uncertainty_pos": c.InitialUncertaintyPos,
		"initial_uncertainty_vel": c.InitialUncertaintyVel,
		"snap_threshold_degrees":  c.SnapThresholdDegrees,
		"speed_noise_factor":      c.SpeedNoiseFactor,
		"heading_noise_factor":    c.HeadingNoiseFactor,
		"max_speed_kmh":           c.MaxSpeedKmh,
	}
	for name, v := range positives {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}

	if c.ManeuverSpeedDelta != nil && (*c.ManeuverSpeedDelta <= 0 || *c.ManeuverSpeedDelta > 1) {
		return fmt.Errorf("maneuver_speed_delta must be in (0, 1], got %f", *c.ManeuverSpeedDelta)
	}
	if c.ManeuverHeadingDeltaDeg != nil && (*c.ManeuverHeadingDeltaDeg <= 0 || *c.ManeuverHeadingDeltaDeg > 180) {
		return fmt.Errorf("maneuver_heading_delta_deg must be in (0, 180], got %f", *c.ManeuverHeadingDeltaDeg)
	}
	if c.MinMovingSpeedKmh != nil && *c.MinMovingSpeedKmh < 0 {
		return fmt.Errorf("min_moving_speed_kmh must be non-negative, got %f", *c.MinMovingSpeedKmh)
	}
	if c.FrameRate != nil && (*c.FrameRate < 1 || *c.FrameRate > 240) {
		return fmt.Errorf("frame_rate must be in [1, 240], got %d", *c.FrameRate)
	}
	if c.RoomSubscriberCap != nil && *c.RoomSubscriberCap < 1 {
		return fmt.Errorf("room_subscriber_cap must be >= 1, got %d", *c.RoomSubscriberCap)
	}

	return nil
}

func (c *TuningConfig) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetFixCadence returns the expected interval between producer fixes.
func (c *TuningConfig) GetFixCadence() time.Duration {
	return c.duration(c.FixCadence, 5*time.Second)
}

// GetStalenessThreshold returns how long a producer may stay silent before
// it is declared offline.
func (c *TuningConfig) GetStalenessThreshold() time.Duration {
	return c.duration(c.StalenessThreshold, 30*time.Second)
}

// GetSweepInterval returns how often the staleness sweep runs.
func (c *TuningConfig) GetSweepInterval() time.Duration {
	return c.duration(c.SweepInterval, 10*time.Second)
}

// GetMaxPollExtrapolation caps per-poll forward prediction.
func (c *TuningConfig) GetMaxPollExtrapolation() time.Duration {
	return c.duration(c.MaxPollExtrapolation, time.Second)
}

// GetMaxPredictAhead caps explicit forward projection.
func (c *TuningConfig) GetMaxPredictAhead() time.Duration {
	return c.duration(c.MaxPredictAhead, 60*time.Second)
}

// GetConfidenceTimeConstant returns tau in the confidence time decay.
func (c *TuningConfig) GetConfidenceTimeConstant() time.Duration {
	return c.duration(c.ConfidenceTimeConstant, 10*time.Second)
}

// GetAnimationWindow returns the smoother animation window, which should
// match the fix cadence.
func (c *TuningConfig) GetAnimationWindow() time.Duration {
	return c.duration(c.AnimationWindow, 5*time.Second)
}

// GetMinMovingSpeedKmh returns the speed below which the agent is reported
// as stationary.
func (c *TuningConfig) GetMinMovingSpeedKmh() float64 {
	if c.MinMovingSpeedKmh == nil {
		return 1.0
	}
	return *c.MinMovingSpeedKmh
}

// GetMaxSpeedKmh returns the sanity cap on reported speed.
func (c *TuningConfig) GetMaxSpeedKmh() float64 {
	if c.MaxSpeedKmh == nil {
		return 200.0
	}
	return *c.MaxSpeedKmh
}

// GetManeuverSpeedDelta returns the relative speed change that flags a
// maneuver.
func (c *TuningConfig) GetManeuverSpeedDelta() float64 {
	if c.ManeuverSpeedDelta == nil {
		return 0.30
	}
	return *c.ManeuverSpeedDelta
}

// GetManeuverHeadingDeltaDeg returns the absolute heading change in degrees
// that flags a maneuver.
func (c *TuningConfig) GetManeuverHeadingDeltaDeg() float64 {
	if c.ManeuverHeadingDeltaDeg == nil {
		return 30.0
	}
	return *c.ManeuverHeadingDeltaDeg
}

// GetSpeedNoiseFactor returns the process-noise widening factor applied on a
// speed-change maneuver.
func (c *TuningConfig) GetSpeedNoiseFactor() float64 {
	if c.SpeedNoiseFactor == nil {
		return 3.0
	}
	return *c.SpeedNoiseFactor
}

// GetHeadingNoiseFactor returns the process-noise widening factor applied on
// a heading-change maneuver.
func (c *TuningConfig) GetHeadingNoiseFactor() float64 {
	if c.HeadingNoiseFactor == nil {
		return 2.0
	}
	return *c.HeadingNoiseFactor
}

// GetProcessNoisePos returns the position process-noise variance.
func (c *TuningConfig) GetProcessNoisePos() float64 {
	if c.ProcessNoisePos == nil {
		return 1e-6
	}
	return *c.ProcessNoisePos
}

// GetProcessNoiseVel returns the velocity process-noise variance.
func (c *TuningConfig) GetProcessNoiseVel() float64 {
	if c.ProcessNoiseVel == nil {
		return 1e-4
	}
	return *c.ProcessNoiseVel
}

// GetMeasurementNoisePos returns the position measurement-noise variance.
func (c *TuningConfig) GetMeasurementNoisePos() float64 {
	if c.MeasurementNoisePos == nil {
		return 1e-5
	}
	return *c.MeasurementNoisePos
}

// GetMeasurementNoiseVel returns the velocity measurement-noise variance.
func (c *TuningConfig) GetMeasurementNoiseVel() float64 {
	if c.MeasurementNoiseVel == nil {
		return 1e-3
	}
	return *c.MeasurementNoiseVel
}

// GetInitialUncertaintyPos returns the position covariance at seed.
func (c *TuningConfig) GetInitialUncertaintyPos() float64 {
	if c.InitialUncertaintyPos == nil {
		return 1e-4
	}
	return *c.InitialUncertaintyPos
}

// GetInitialUncertaintyVel returns the velocity covariance at seed.
func (c *TuningConfig) GetInitialUncertaintyVel() float64 {
	if c.InitialUncertaintyVel == nil {
		return 1e-2
	}
	return *c.InitialUncertaintyVel
}

// GetConfidenceSigmaScale returns k in exp(-k*sigma).
func (c *TuningConfig) GetConfidenceSigmaScale() float64 {
	if c.ConfidenceSigmaScale == nil {
		return 1000.0
	}
	return *c.ConfidenceSigmaScale
}

// GetSnapThresholdDegrees returns the jump distance in degrees beyond which
// the smoother snaps instead of interpolating (~11 m by default).
func (c *TuningConfig) GetSnapThresholdDegrees() float64 {
	if c.SnapThresholdDegrees == nil {
		return 0.0001
	}
	return *c.SnapThresholdDegrees
}

// GetFrameRate returns the render loop rate in frames per second.
func (c *TuningConfig) GetFrameRate() int {
	if c.FrameRate == nil {
		return 60
	}
	return *c.FrameRate
}

// GetRoomSubscriberCap returns the maximum subscribers per agent room.
func (c *TuningConfig) GetRoomSubscriberCap() int {
	if c.RoomSubscriberCap == nil {
		return 100
	}
	return *c.RoomSubscriberCap
}
