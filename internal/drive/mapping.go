package drive

import "github.com/tidewater-robotics/rover/internal/config"

// SteeringMapper conditions raw manual steer input: clamp, dead zone,
// optional inversion, gain, final clamp. Stateless.
type SteeringMapper struct {
	DeadZone float64
	Invert   bool
	Gain     float64
}

// SteeringMapperFromTuning builds a SteeringMapper from a loaded TuningConfig.
func SteeringMapperFromTuning(cfg *config.TuningConfig) SteeringMapper {
	return SteeringMapper{
		DeadZone: cfg.GetSteeringDeadZone(),
		Invert:   cfg.GetSteeringInvert(),
		Gain:     cfg.GetSteeringGain(),
	}
}

// Apply maps one raw steer value to the conditioned value in [-1, 1].
func (m SteeringMapper) Apply(v float64) float64 {
	v = clamp(v, -1.0, 1.0)
	if v < m.DeadZone && v > -m.DeadZone {
		return 0.0
	}
	if m.Invert {
		v = -v
	}
	gain := m.Gain
	if gain == 0 {
		gain = 1.0
	}
	return clamp(v*gain, -1.0, 1.0)
}

// ThrottleMapper conditions raw manual throttle input: clamp, optional
// inversion, dead zone, and an instant-reverse lockout that interposes one
// neutral update between a forward and a reverse command so the ESC never
// sees a hard sign flip.
type ThrottleMapper struct {
	DeadZone float64
	Invert   bool

	last float64
}

// ThrottleMapperFromTuning builds a ThrottleMapper from a loaded TuningConfig.
func ThrottleMapperFromTuning(cfg *config.TuningConfig) *ThrottleMapper {
	return &ThrottleMapper{
		DeadZone: cfg.GetThrottleDeadZone(),
		Invert:   cfg.GetThrottleInvert(),
	}
}

// Apply maps one raw throttle value to the conditioned value in [-1, 1].
func (m *ThrottleMapper) Apply(v float64) float64 {
	v = clamp(v, -1.0, 1.0)
	if m.Invert {
		v = -v
	}
	if v < m.DeadZone && v > -m.DeadZone {
		v = 0.0
	}
	if (m.last > 0 && v < 0) || (m.last < 0 && v > 0) {
		m.last = 0.0
		return 0.0
	}
	m.last = v
	return v
}

// Reset clears the lockout state, as on shutdown.
func (m *ThrottleMapper) Reset() { m.last = 0.0 }
