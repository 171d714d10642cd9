// Package config loads and validates the drive tuning configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig is the root tuning document for the drive core. Every field is
// pointer-typed so a partial JSON file is safe: fields omitted from the file
// fall back to the documented defaults provided by the Get* accessors.
type TuningConfig struct {
	// Ultrasonic fusion params
	UltrasonicStopCM     *float64 `json:"ultrasonic_stop_cm,omitempty"`
	UltrasonicGoCM       *float64 `json:"ultrasonic_go_cm,omitempty"`
	UltrasonicEMAAlpha   *float64 `json:"ultrasonic_ema_alpha,omitempty"`
	UltrasonicMinCM      *float64 `json:"ultrasonic_min_cm,omitempty"`
	UltrasonicMaxCM      *float64 `json:"ultrasonic_max_cm,omitempty"`
	UltrasonicStale      *string  `json:"ultrasonic_stale,omitempty"` // duration string like "500ms"
	UltrasonicStopFrames *int     `json:"ultrasonic_stop_frames,omitempty"`
	UltrasonicGoFrames   *int     `json:"ultrasonic_go_frames,omitempty"`

	// Vision stop decider params
	VisionStopThreshold  *float64 `json:"vision_stop_threshold,omitempty"`
	VisionGoThreshold    *float64 `json:"vision_go_threshold,omitempty"`
	VisionEMAAlpha       *float64 `json:"vision_ema_alpha,omitempty"`
	VisionStopFrames     *int     `json:"vision_stop_frames,omitempty"`
	VisionGoFrames       *int     `json:"vision_go_frames,omitempty"`
	VisionHardStopClass  *int     `json:"vision_hard_stop_class,omitempty"` // -1 disables
	VisionHardStopRatio  *float64 `json:"vision_hard_stop_ratio,omitempty"`
	VisionRowWeightPower *float64 `json:"vision_row_weight_power,omitempty"`
	VisionClosestStop    *float64 `json:"vision_closest_stop,omitempty"`
	VisionClosestGo      *float64 `json:"vision_closest_go,omitempty"`
	VisionFreeClass      *int     `json:"vision_free_class,omitempty"`
	VisionROIWidthFrac   *float64 `json:"vision_roi_width_frac,omitempty"`
	VisionROIBottomFrac  *float64 `json:"vision_roi_bottom_frac,omitempty"`

	// Turn decision params
	TurnCenterThreshold *float64 `json:"turn_center_threshold,omitempty"`
	TurnDiffThreshold   *float64 `json:"turn_diff_threshold,omitempty"`
	HistoryRetention    *string  `json:"history_retention,omitempty"` // duration string like "2s"
	HistoryTau          *string  `json:"history_tau,omitempty"`       // duration string like "700ms"
	HistoryMinWeight    *float64 `json:"history_min_weight,omitempty"`

	// Autopilot cruise params
	CruiseSpeedDefault *float64 `json:"cruise_speed_default,omitempty"`
	CruiseSpeedMin     *float64 `json:"cruise_speed_min,omitempty"`
	CruiseSpeedMax     *float64 `json:"cruise_speed_max,omitempty"`
	CruiseSpeedStep    *float64 `json:"cruise_speed_step,omitempty"`

	// Drive loop params
	TickPeriod               *string  `json:"tick_period,omitempty"` // duration string like "20ms"
	TurnSpeedScale           *float64 `json:"turn_speed_scale,omitempty"`
	TurnSteerThreshold       *float64 `json:"turn_steer_threshold,omitempty"`
	ObstacleSpeedScale       *float64 `json:"obstacle_speed_scale,omitempty"`
	ObstacleCenterThreshold  *float64 `json:"obstacle_center_threshold,omitempty"`
	ObstacleClosestThreshold *float64 `json:"obstacle_closest_threshold,omitempty"`
	SteerRampPerSec          *float64 `json:"steer_ramp_per_sec,omitempty"`
	ManualSteerOverride      *float64 `json:"manual_steer_override,omitempty"`
	AutoSteerMagnitude       *float64 `json:"auto_steer_magnitude,omitempty"`
	SteerMaxLow              *float64 `json:"steer_max_low,omitempty"`
	SteerMaxHigh             *float64 `json:"steer_max_high,omitempty"`
	SteerSpeedLow            *float64 `json:"steer_speed_low,omitempty"`
	SteerSpeedHigh           *float64 `json:"steer_speed_high,omitempty"`
	WatchdogTimeout          *string  `json:"watchdog_timeout,omitempty"` // "0s" disables

	// Input mapping params
	SteeringDeadZone *float64 `json:"steering_dead_zone,omitempty"`
	SteeringInvert   *bool    `json:"steering_invert,omitempty"`
	SteeringGain     *float64 `json:"steering_gain,omitempty"`
	ThrottleDeadZone *float64 `json:"throttle_dead_zone,omitempty"`
	ThrottleInvert   *bool    `json:"throttle_invert,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset, so every
// accessor yields its default.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Partial configs are
// safe: omitted fields keep their defaults. The loaded document is validated
// once, at load.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func validDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	if _, err := time.ParseDuration(*v); err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	return nil
}

func validAlpha(name string, v *float64) error {
	if v == nil {
		return nil
	}
	if *v <= 0 || *v > 1 {
		return fmt.Errorf("%s must be in (0, 1], got %f", name, *v)
	}
	return nil
}

// Validate checks cross-field invariants so a bad tuning file is rejected at
// startup rather than surfacing as odd behaviour mid-drive.
func (c *TuningConfig) Validate() error {
	if c.GetUltrasonicGoCM() < c.GetUltrasonicStopCM() {
		return fmt.Errorf("ultrasonic_go_cm (%f) must be >= ultrasonic_stop_cm (%f)",
			c.GetUltrasonicGoCM(), c.GetUltrasonicStopCM())
	}
	if c.GetUltrasonicMaxCM() <= c.GetUltrasonicMinCM() {
		return fmt.Errorf("ultrasonic_max_cm (%f) must be > ultrasonic_min_cm (%f)",
			c.GetUltrasonicMaxCM(), c.GetUltrasonicMinCM())
	}
	if c.GetVisionGoThreshold() < c.GetVisionStopThreshold() {
		return fmt.Errorf("vision_go_threshold (%f) must be >= vision_stop_threshold (%f)",
			c.GetVisionGoThreshold(), c.GetVisionStopThreshold())
	}
	if c.GetVisionClosestStop() < c.GetVisionClosestGo() {
		return fmt.Errorf("vision_closest_stop (%f) must be >= vision_closest_go (%f)",
			c.GetVisionClosestStop(), c.GetVisionClosestGo())
	}
	if err := validAlpha("ultrasonic_ema_alpha", c.UltrasonicEMAAlpha); err != nil {
		return err
	}
	if err := validAlpha("vision_ema_alpha", c.VisionEMAAlpha); err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		v    *int
	}{
		{"ultrasonic_stop_frames", c.UltrasonicStopFrames},
		{"ultrasonic_go_frames", c.UltrasonicGoFrames},
		{"vision_stop_frames", c.VisionStopFrames},
		{"vision_go_frames", c.VisionGoFrames},
	} {
		if f.v != nil && *f.v < 1 {
			return fmt.Errorf("%s must be >= 1, got %d", f.name, *f.v)
		}
	}
	lo, def, hi := c.GetCruiseSpeedMin(), c.GetCruiseSpeedDefault(), c.GetCruiseSpeedMax()
	if lo > hi || def < lo || def > hi {
		return fmt.Errorf("cruise speed bounds must satisfy min <= default <= max, got %f <= %f <= %f",
			lo, def, hi)
	}
	if c.GetSteerSpeedHigh() <= c.GetSteerSpeedLow() {
		return fmt.Errorf("steer_speed_high (%f) must be > steer_speed_low (%f)",
			c.GetSteerSpeedHigh(), c.GetSteerSpeedLow())
	}
	for _, d := range []struct {
		name string
		v    *string
	}{
		{"ultrasonic_stale", c.UltrasonicStale},
		{"history_retention", c.HistoryRetention},
		{"history_tau", c.HistoryTau},
		{"tick_period", c.TickPeriod},
		{"watchdog_timeout", c.WatchdogTimeout},
	} {
		if err := validDuration(d.name, d.v); err != nil {
			return err
		}
	}
	if c.GetTickPeriod() <= 0 {
		return fmt.Errorf("tick_period must be positive")
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetUltrasonicStopCM returns the ultrasonic stop distance or the default.
func (c *TuningConfig) GetUltrasonicStopCM() float64 {
	if c.UltrasonicStopCM == nil {
		return 35.0
	}
	return *c.UltrasonicStopCM
}

// GetUltrasonicGoCM returns the ultrasonic go distance or the default.
func (c *TuningConfig) GetUltrasonicGoCM() float64 {
	if c.UltrasonicGoCM == nil {
		return 45.0
	}
	return *c.UltrasonicGoCM
}

// GetUltrasonicEMAAlpha returns the ultrasonic EMA alpha or the default.
func (c *TuningConfig) GetUltrasonicEMAAlpha() float64 {
	if c.UltrasonicEMAAlpha == nil {
		return 0.3
	}
	return *c.UltrasonicEMAAlpha
}

// GetUltrasonicMinCM returns the minimum accepted range or the default.
func (c *TuningConfig) GetUltrasonicMinCM() float64 {
	if c.UltrasonicMinCM == nil {
		return 2.0
	}
	return *c.UltrasonicMinCM
}

// GetUltrasonicMaxCM returns the maximum accepted range or the default.
func (c *TuningConfig) GetUltrasonicMaxCM() float64 {
	if c.UltrasonicMaxCM == nil {
		return 400.0
	}
	return *c.UltrasonicMaxCM
}

// GetUltrasonicStale returns the staleness window or the default.
func (c *TuningConfig) GetUltrasonicStale() time.Duration {
	return durationOr(c.UltrasonicStale, 500*time.Millisecond)
}

// GetUltrasonicStopFrames returns the stop confirmation count or the default.
func (c *TuningConfig) GetUltrasonicStopFrames() int {
	if c.UltrasonicStopFrames == nil {
		return 2
	}
	return *c.UltrasonicStopFrames
}

// GetUltrasonicGoFrames returns the go confirmation count or the default.
func (c *TuningConfig) GetUltrasonicGoFrames() int {
	if c.UltrasonicGoFrames == nil {
		return 4
	}
	return *c.UltrasonicGoFrames
}

// GetVisionStopThreshold returns the vision stop threshold or the default.
func (c *TuningConfig) GetVisionStopThreshold() float64 {
	if c.VisionStopThreshold == nil {
		return 0.90
	}
	return *c.VisionStopThreshold
}

// GetVisionGoThreshold returns the vision go threshold or the default.
func (c *TuningConfig) GetVisionGoThreshold() float64 {
	if c.VisionGoThreshold == nil {
		return 0.96
	}
	return *c.VisionGoThreshold
}

// GetVisionEMAAlpha returns the vision EMA alpha or the default.
func (c *TuningConfig) GetVisionEMAAlpha() float64 {
	if c.VisionEMAAlpha == nil {
		return 0.20
	}
	return *c.VisionEMAAlpha
}

// GetVisionStopFrames returns the vision stop confirmation count or the default.
func (c *TuningConfig) GetVisionStopFrames() int {
	if c.VisionStopFrames == nil {
		return 2
	}
	return *c.VisionStopFrames
}

// GetVisionGoFrames returns the vision go confirmation count or the default.
func (c *TuningConfig) GetVisionGoFrames() int {
	if c.VisionGoFrames == nil {
		return 6
	}
	return *c.VisionGoFrames
}

// GetVisionHardStopClass returns the hard-stop class id, or -1 when disabled.
func (c *TuningConfig) GetVisionHardStopClass() int {
	if c.VisionHardStopClass == nil {
		return -1
	}
	return *c.VisionHardStopClass
}

// GetVisionHardStopRatio returns the hard-stop class ratio or the default.
func (c *TuningConfig) GetVisionHardStopRatio() float64 {
	if c.VisionHardStopRatio == nil {
		return 0.05
	}
	return *c.VisionHardStopRatio
}

// GetVisionRowWeightPower returns the proximity row-weight exponent or the default.
func (c *TuningConfig) GetVisionRowWeightPower() float64 {
	if c.VisionRowWeightPower == nil {
		return 1.5
	}
	return *c.VisionRowWeightPower
}

// GetVisionClosestStop returns the closest-row stop threshold or the default.
func (c *TuningConfig) GetVisionClosestStop() float64 {
	if c.VisionClosestStop == nil {
		return 0.85
	}
	return *c.VisionClosestStop
}

// GetVisionClosestGo returns the closest-row go threshold or the default.
func (c *TuningConfig) GetVisionClosestGo() float64 {
	if c.VisionClosestGo == nil {
		return 0.70
	}
	return *c.VisionClosestGo
}

// GetVisionFreeClass returns the class id treated as free space or the default.
func (c *TuningConfig) GetVisionFreeClass() int {
	if c.VisionFreeClass == nil {
		return 0
	}
	return *c.VisionFreeClass
}

// GetVisionROIWidthFrac returns the ROI width fraction or the default.
func (c *TuningConfig) GetVisionROIWidthFrac() float64 {
	if c.VisionROIWidthFrac == nil {
		return 0.70
	}
	return *c.VisionROIWidthFrac
}

// GetVisionROIBottomFrac returns the ROI bottom-height fraction or the default.
func (c *TuningConfig) GetVisionROIBottomFrac() float64 {
	if c.VisionROIBottomFrac == nil {
		return 0.45
	}
	return *c.VisionROIBottomFrac
}

// GetTurnCenterThreshold returns the centre-zone occupancy threshold or the default.
func (c *TuningConfig) GetTurnCenterThreshold() float64 {
	if c.TurnCenterThreshold == nil {
		return 0.35
	}
	return *c.TurnCenterThreshold
}

// GetTurnDiffThreshold returns the left/right difference threshold or the default.
func (c *TuningConfig) GetTurnDiffThreshold() float64 {
	if c.TurnDiffThreshold == nil {
		return 0.08
	}
	return *c.TurnDiffThreshold
}

// GetHistoryRetention returns the occupancy history retention window or the default.
func (c *TuningConfig) GetHistoryRetention() time.Duration {
	return durationOr(c.HistoryRetention, 2*time.Second)
}

// GetHistoryTau returns the history decay constant or the default.
func (c *TuningConfig) GetHistoryTau() time.Duration {
	return durationOr(c.HistoryTau, 700*time.Millisecond)
}

// GetHistoryMinWeight returns the minimum total weight for a usable estimate.
func (c *TuningConfig) GetHistoryMinWeight() float64 {
	if c.HistoryMinWeight == nil {
		return 0.5
	}
	return *c.HistoryMinWeight
}

// GetCruiseSpeedDefault returns the initial cruise speed or the default.
func (c *TuningConfig) GetCruiseSpeedDefault() float64 {
	if c.CruiseSpeedDefault == nil {
		return 0.15
	}
	return *c.CruiseSpeedDefault
}

// GetCruiseSpeedMin returns the minimum cruise speed or the default.
func (c *TuningConfig) GetCruiseSpeedMin() float64 {
	if c.CruiseSpeedMin == nil {
		return 0.05
	}
	return *c.CruiseSpeedMin
}

// GetCruiseSpeedMax returns the maximum cruise speed or the default.
func (c *TuningConfig) GetCruiseSpeedMax() float64 {
	if c.CruiseSpeedMax == nil {
		return 0.35
	}
	return *c.CruiseSpeedMax
}

// GetCruiseSpeedStep returns the cruise-delta step size or the default.
func (c *TuningConfig) GetCruiseSpeedStep() float64 {
	if c.CruiseSpeedStep == nil {
		return 0.02
	}
	return *c.CruiseSpeedStep
}

// GetTickPeriod returns the drive loop period or the default.
func (c *TuningConfig) GetTickPeriod() time.Duration {
	return durationOr(c.TickPeriod, 20*time.Millisecond)
}

// GetTurnSpeedScale returns the turning speed multiplier or the default.
func (c *TuningConfig) GetTurnSpeedScale() float64 {
	if c.TurnSpeedScale == nil {
		return 0.6
	}
	return *c.TurnSpeedScale
}

// GetTurnSteerThreshold returns the steer magnitude that engages the turn
// scale, or the default.
func (c *TuningConfig) GetTurnSteerThreshold() float64 {
	if c.TurnSteerThreshold == nil {
		return 0.25
	}
	return *c.TurnSteerThreshold
}

// GetObstacleSpeedScale returns the near-obstacle speed multiplier or the default.
func (c *TuningConfig) GetObstacleSpeedScale() float64 {
	if c.ObstacleSpeedScale == nil {
		return 0.5
	}
	return *c.ObstacleSpeedScale
}

// GetObstacleCenterThreshold returns the centre occupancy that engages the
// obstacle scale, or the default.
func (c *TuningConfig) GetObstacleCenterThreshold() float64 {
	if c.ObstacleCenterThreshold == nil {
		return 0.30
	}
	return *c.ObstacleCenterThreshold
}

// GetObstacleClosestThreshold returns the closest-row norm that engages the
// obstacle scale, or the default.
func (c *TuningConfig) GetObstacleClosestThreshold() float64 {
	if c.ObstacleClosestThreshold == nil {
		return 0.75
	}
	return *c.ObstacleClosestThreshold
}

// GetSteerRampPerSec returns the auto-steer ramp rate or the default.
func (c *TuningConfig) GetSteerRampPerSec() float64 {
	if c.SteerRampPerSec == nil {
		return 1.5
	}
	return *c.SteerRampPerSec
}

// GetManualSteerOverride returns the manual steer magnitude that overrides
// auto-steer, or the default.
func (c *TuningConfig) GetManualSteerOverride() float64 {
	if c.ManualSteerOverride == nil {
		return 0.35
	}
	return *c.ManualSteerOverride
}

// GetAutoSteerMagnitude returns the fixed auto-steer target magnitude or the default.
func (c *TuningConfig) GetAutoSteerMagnitude() float64 {
	if c.AutoSteerMagnitude == nil {
		return 0.5
	}
	return *c.AutoSteerMagnitude
}

// GetSteerMaxLow returns the steering limit at low throttle or the default.
func (c *TuningConfig) GetSteerMaxLow() float64 {
	if c.SteerMaxLow == nil {
		return 1.0
	}
	return *c.SteerMaxLow
}

// GetSteerMaxHigh returns the steering limit at high throttle or the default.
func (c *TuningConfig) GetSteerMaxHigh() float64 {
	if c.SteerMaxHigh == nil {
		return 0.35
	}
	return *c.SteerMaxHigh
}

// GetSteerSpeedLow returns the throttle at or below which SteerMaxLow applies.
func (c *TuningConfig) GetSteerSpeedLow() float64 {
	if c.SteerSpeedLow == nil {
		return 0.10
	}
	return *c.SteerSpeedLow
}

// GetSteerSpeedHigh returns the throttle at or above which SteerMaxHigh applies.
func (c *TuningConfig) GetSteerSpeedHigh() float64 {
	if c.SteerSpeedHigh == nil {
		return 0.30
	}
	return *c.SteerSpeedHigh
}

// GetWatchdogTimeout returns the manual-activity watchdog timeout. Zero
// disables the watchdog, and zero is the default.
func (c *TuningConfig) GetWatchdogTimeout() time.Duration {
	return durationOr(c.WatchdogTimeout, 0)
}

// GetSteeringDeadZone returns the steering dead zone or the default.
func (c *TuningConfig) GetSteeringDeadZone() float64 {
	if c.SteeringDeadZone == nil {
		return 0.03
	}
	return *c.SteeringDeadZone
}

// GetSteeringInvert returns the steering inversion flag or the default.
func (c *TuningConfig) GetSteeringInvert() bool {
	if c.SteeringInvert == nil {
		return true
	}
	return *c.SteeringInvert
}

// GetSteeringGain returns the steering gain or the default.
func (c *TuningConfig) GetSteeringGain() float64 {
	if c.SteeringGain == nil {
		return 1.8
	}
	return *c.SteeringGain
}

// GetThrottleDeadZone returns the throttle dead zone or the default.
func (c *TuningConfig) GetThrottleDeadZone() float64 {
	if c.ThrottleDeadZone == nil {
		return 0.05
	}
	return *c.ThrottleDeadZone
}

// GetThrottleInvert returns the throttle inversion flag or the default.
func (c *TuningConfig) GetThrottleInvert() bool {
	if c.ThrottleInvert == nil {
		return true
	}
	return *c.ThrottleInvert
}
