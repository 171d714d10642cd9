package drive

import "github.com/tidewater-robotics/rover/internal/monitoring"

// Command is the per-tick actuator command. Both values are normalized to
// [-1, 1] and recomputed every tick, never stale.
type Command struct {
	Steer    float64
	Throttle float64
}

// Actuator is the downstream hardware contract. Converting normalized values
// to servo/ESC pulses happens behind this interface.
type Actuator interface {
	ApplySteer(v float64)
	ApplyThrottle(v float64)
	// Neutral centres steering and cuts throttle, used on shutdown and on
	// tick faults.
	Neutral()
}

// NopActuator discards commands.
type NopActuator struct{}

func (NopActuator) ApplySteer(float64)    {}
func (NopActuator) ApplyThrottle(float64) {}
func (NopActuator) Neutral()              {}

// LogActuator logs commands whenever they change, for bench runs without
// hardware attached.
type LogActuator struct {
	lastSteer    float64
	lastThrottle float64
}

func (a *LogActuator) ApplySteer(v float64) {
	if v != a.lastSteer {
		monitoring.Logf("actuator: steer %.3f", v)
		a.lastSteer = v
	}
}

func (a *LogActuator) ApplyThrottle(v float64) {
	if v != a.lastThrottle {
		monitoring.Logf("actuator: throttle %.3f", v)
		a.lastThrottle = v
	}
}

func (a *LogActuator) Neutral() {
	monitoring.Logf("actuator: neutral")
	a.lastSteer = 0
	a.lastThrottle = 0
}
