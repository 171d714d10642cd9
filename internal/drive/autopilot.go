package drive

import "github.com/tidewater-robotics/rover/internal/config"

// Mode is the drive mode.
type Mode int

const (
	ModeManual Mode = iota
	ModeAutoCruise
)

// String returns the mode label.
func (m Mode) String() string {
	if m == ModeAutoCruise {
		return "auto_cruise"
	}
	return "manual"
}

// AutopilotConfig holds the cruise-speed bounds.
type AutopilotConfig struct {
	SpeedDefault float64
	SpeedMin     float64
	SpeedMax     float64
	SpeedStep    float64
}

// AutopilotConfigFromTuning builds an AutopilotConfig from a loaded TuningConfig.
func AutopilotConfigFromTuning(cfg *config.TuningConfig) AutopilotConfig {
	return AutopilotConfig{
		SpeedDefault: cfg.GetCruiseSpeedDefault(),
		SpeedMin:     cfg.GetCruiseSpeedMin(),
		SpeedMax:     cfg.GetCruiseSpeedMax(),
		SpeedStep:    cfg.GetCruiseSpeedStep(),
	}
}

// Autopilot is the drive-mode state machine plus the cruise-speed integrator.
// Single writer: the drive loop. The autopilot never commands reverse or
// braking, it only withholds forward throttle.
type Autopilot struct {
	cfg         AutopilotConfig
	mode        Mode
	cruiseSpeed float64
}

// NewAutopilot creates an autopilot in Manual mode at the default cruise speed.
func NewAutopilot(cfg AutopilotConfig) *Autopilot {
	return &Autopilot{cfg: cfg, mode: ModeManual, cruiseSpeed: cfg.SpeedDefault}
}

// Mode returns the current drive mode.
func (a *Autopilot) Mode() Mode { return a.mode }

// CruiseSpeed returns the current cruise speed.
func (a *Autopilot) CruiseSpeed() float64 { return a.cruiseSpeed }

// Toggle flips between Manual and AutoCruise unconditionally.
func (a *Autopilot) Toggle() {
	if a.mode == ModeManual {
		a.mode = ModeAutoCruise
	} else {
		a.mode = ModeManual
	}
}

// ApplyCruiseDelta nudges the cruise speed by delta steps, clamped to the
// configured bounds. Zero is a no-op.
func (a *Autopilot) ApplyCruiseDelta(delta int) {
	if delta == 0 {
		return
	}
	a.cruiseSpeed = clamp(a.cruiseSpeed+float64(delta)*a.cfg.SpeedStep, a.cfg.SpeedMin, a.cfg.SpeedMax)
}

// ComputeThrottle resolves the throttle for this tick. Disarmed always yields
// exactly zero, regardless of mode, stop state or manual input.
func (a *Autopilot) ComputeThrottle(manualThrottle float64, stop, armed bool) float64 {
	if !armed {
		return 0.0
	}
	if a.mode == ModeManual {
		return manualThrottle
	}
	if stop {
		return 0.0
	}
	return a.cruiseSpeed
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
