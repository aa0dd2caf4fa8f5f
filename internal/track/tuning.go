package track

import (
	"github.com/fleetglass/courier.track/internal/config"
	"github.com/fleetglass/courier.track/internal/estimator"
)

// FromTuning builds a controller Config from the loaded tuning file,
// falling back to defaults for anything unset.
func FromTuning(t *config.TuningConfig) Config {
	return Config{
		MaxGapBeforeReset:       t.GetStalenessThreshold(),
		StalenessThreshold:      t.GetStalenessThreshold(),
		MaxPollExtrapolation:    t.GetMaxPollExtrapolation(),
		MaxPredictAhead:         t.GetMaxPredictAhead(),
		MinMovingSpeedKmh:       t.GetMinMovingSpeedKmh(),
		MaxSpeedKmh:             t.GetMaxSpeedKmh(),
		ManeuverSpeedDelta:      t.GetManeuverSpeedDelta(),
		ManeuverHeadingDeltaDeg: t.GetManeuverHeadingDeltaDeg(),
		SpeedNoiseFactor:        t.GetSpeedNoiseFactor(),
		HeadingNoiseFactor:      t.GetHeadingNoiseFactor(),
		Estimator: estimator.Config{
			ProcessNoisePosition:       t.GetProcessNoisePos(),
			ProcessNoiseVelocity:       t.GetProcessNoiseVel(),
			MeasurementNoisePosition:   t.GetMeasurementNoisePos(),
			MeasurementNoiseVelocity:   t.GetMeasurementNoiseVel(),
			InitialUncertaintyPosition: t.GetInitialUncertaintyPos(),
			InitialUncertaintyVelocity: t.GetInitialUncertaintyVel(),
			ConfidenceSigmaScale:       t.GetConfidenceSigmaScale(),
			ConfidenceTimeConstant:     t.GetConfidenceTimeConstant(),
		},
	}
}
