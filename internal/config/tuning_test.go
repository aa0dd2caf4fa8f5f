package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestEmptyDefaults(t *testing.T) {
	cfg := Empty()

	if got := cfg.GetFixCadence(); got != 5*time.Second {
		t.Errorf("GetFixCadence = %v, want 5s", got)
	}
	if got := cfg.GetStalenessThreshold(); got != 30*time.Second {
		t.Errorf("GetStalenessThreshold = %v, want 30s", got)
	}
	if got := cfg.GetSweepInterval(); got != 10*time.Second {
		t.Errorf("GetSweepInterval = %v, want 10s", got)
	}
	if got := cfg.GetMaxPollExtrapolation(); got != time.Second {
		t.Errorf("GetMaxPollExtrapolation = %v, want 1s", got)
	}
	if got := cfg.GetMaxPredictAhead(); got != 60*time.Second {
		t.Errorf("GetMaxPredictAhead = %v, want 60s", got)
	}
	if got := cfg.GetMinMovingSpeedKmh(); got != 1.0 {
		t.Errorf("GetMinMovingSpeedKmh = %v, want 1", got)
	}
	if got := cfg.GetManeuverSpeedDelta(); got != 0.30 {
		t.Errorf("GetManeuverSpeedDelta = %v, want 0.30", got)
	}
	if got := cfg.GetManeuverHeadingDeltaDeg(); got != 30.0 {
		t.Errorf("GetManeuverHeadingDeltaDeg = %v, want 30", got)
	}
	if got := cfg.GetSnapThresholdDegrees(); got != 0.0001 {
		t.Errorf("GetSnapThresholdDegrees = %v, want 0.0001", got)
	}
	if got := cfg.GetFrameRate(); got != 60 {
		t.Errorf("GetFrameRate = %v, want 60", got)
	}
	if got := cfg.GetRoomSubscriberCap(); got != 100 {
		t.Errorf("GetRoomSubscriberCap = %v, want 100", got)
	}
	if got := cfg.GetProcessNoisePos(); got != 1e-6 {
		t.Errorf("GetProcessNoisePos = %v, want 1e-6", got)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	path := writeConfig(t, "tuning.json", `{
		"staleness_threshold": "45s",
		"maneuver_speed_delta": 0.5,
		"frame_rate": 30
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := cfg.GetStalenessThreshold(); got != 45*time.Second {
		t.Errorf("GetStalenessThreshold = %v, want 45s", got)
	}
	if got := cfg.GetManeuverSpeedDelta(); got != 0.5 {
		t.Errorf("GetManeuverSpeedDelta = %v, want 0.5", got)
	}
	if got := cfg.GetFrameRate(); got != 30 {
		t.Errorf("GetFrameRate = %v, want 30", got)
	}

	// Untouched fields keep defaults.
	if got := cfg.GetFixCadence(); got != 5*time.Second {
		t.Errorf("GetFixCadence = %v, want default 5s", got)
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	path := writeConfig(t, "tuning.yaml", `{}`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for non-.json extension")
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := writeConfig(t, "tuning.json", `{not json`)
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad duration", `{"sweep_interval": "soon"}`},
		{"negative duration", `{"sweep_interval": "-10s"}`},
		{"speed delta too large", `{"maneuver_speed_delta": 1.5}`},
		{"heading delta too large", `{"maneuver_heading_delta_deg": 270}`},
		{"negative noise", `{"process_noise_pos": -1}`},
		{"zero frame rate", `{"frame_rate": 0}`},
		{"zero room cap", `{"room_subscriber_cap": 0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "tuning.json", tt.content)
			if _, err := Load(path); err == nil {
				t.Errorf("expected validation error for %s", tt.content)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
