package drive

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tidewater-robotics/rover/internal/config"
	"github.com/tidewater-robotics/rover/internal/events"
	"github.com/tidewater-robotics/rover/internal/input"
	"github.com/tidewater-robotics/rover/internal/monitoring"
	"github.com/tidewater-robotics/rover/internal/rangefinder"
	"github.com/tidewater-robotics/rover/internal/timeutil"
	"github.com/tidewater-robotics/rover/internal/vision"
)

// UltrasonicSource yields at most one unconsumed raw range sample per poll.
type UltrasonicSource interface {
	Poll() (float64, bool)
}

// EventSink receives best-effort diagnostic events. Implementations must not
// block the tick.
type EventSink interface {
	Event(name string, fields events.Fields)
}

// LoopConfig holds the drive loop tuning.
type LoopConfig struct {
	TickPeriod time.Duration

	// AutoCruise speed scaling
	TurnSpeedScale           float64 // throttle multiplier while steering hard
	TurnSteerThreshold       float64 // |steer| engaging TurnSpeedScale
	ObstacleSpeedScale       float64 // throttle multiplier near obstacles
	ObstacleCenterThreshold  float64 // centre occupancy engaging ObstacleSpeedScale
	ObstacleClosestThreshold float64 // closest-row norm engaging ObstacleSpeedScale

	// AutoCruise steering
	SteerRampPerSec     float64 // applied steer slew rate toward the target
	ManualSteerOverride float64 // |manual steer| that wins outright
	AutoSteerMagnitude  float64 // fixed magnitude of the avoidance steer target

	// Steering-limit curve: max |steer| interpolated between MaxLow at or
	// below SpeedLow throttle and MaxHigh at or above SpeedHigh.
	SteerMaxLow    float64
	SteerMaxHigh   float64
	SteerSpeedLow  float64
	SteerSpeedHigh float64

	// Watchdog forces zero throttle outside Manual when no manual activity
	// arrived within the timeout. Zero disables it.
	Watchdog time.Duration
}

// LoopConfigFromTuning builds a LoopConfig from a loaded TuningConfig.
func LoopConfigFromTuning(cfg *config.TuningConfig) LoopConfig {
	return LoopConfig{
		TickPeriod:               cfg.GetTickPeriod(),
		TurnSpeedScale:           cfg.GetTurnSpeedScale(),
		TurnSteerThreshold:       cfg.GetTurnSteerThreshold(),
		ObstacleSpeedScale:       cfg.GetObstacleSpeedScale(),
		ObstacleCenterThreshold:  cfg.GetObstacleCenterThreshold(),
		ObstacleClosestThreshold: cfg.GetObstacleClosestThreshold(),
		SteerRampPerSec:          cfg.GetSteerRampPerSec(),
		ManualSteerOverride:      cfg.GetManualSteerOverride(),
		AutoSteerMagnitude:       cfg.GetAutoSteerMagnitude(),
		SteerMaxLow:              cfg.GetSteerMaxLow(),
		SteerMaxHigh:             cfg.GetSteerMaxHigh(),
		SteerSpeedLow:            cfg.GetSteerSpeedLow(),
		SteerSpeedHigh:           cfg.GetSteerSpeedHigh(),
		Watchdog:                 cfg.GetWatchdogTimeout(),
	}
}

// Deps bundles the loop's collaborators. Passing them explicitly keeps
// wiring visible and tests deterministic.
type Deps struct {
	Clock       timeutil.Clock
	Ultrasonic  UltrasonicSource // may be nil when no rangefinder is attached
	Fusion      *rangefinder.Fusion
	Vision      *Latest[vision.Result]
	Input       input.Source
	Turn        *TurnEngine
	Autopilot   *Autopilot
	SteerMap    SteeringMapper
	ThrottleMap *ThrottleMapper
	Actuator    Actuator
	Events      EventSink // may be nil
}

// Loop is the per-tick orchestrator. All decision state has a single writer
// (the loop goroutine); producers hand data over through the Latest slots and
// the ultrasonic poll, so no locking happens inside the tick.
type Loop struct {
	cfg  LoopConfig
	deps Deps

	armed        bool
	lastActivity time.Time
	appliedSteer float64

	haveFrame    bool
	lastFrameSeq uint64

	stopKnown bool
	prevStop  bool
	cmdKnown  bool
	prevCmd   Command
}

// NewLoop creates a drive loop. It does not start ticking until Run.
func NewLoop(cfg LoopConfig, deps Deps) *Loop {
	return &Loop{cfg: cfg, deps: deps}
}

// Armed reports the current arm state.
func (l *Loop) Armed() bool { return l.armed }

// Run executes the fixed-period tick until the context is cancelled or a
// shutdown event arrives from an input source. An overrunning tick delays the
// next one, it never skips. On exit one final neutral command is emitted.
func (l *Loop) Run(ctx context.Context) error {
	ticker := l.deps.Clock.NewTicker(l.cfg.TickPeriod)
	defer ticker.Stop()

	last := l.deps.Clock.Now()
	l.lastActivity = last
	l.emit("session_start", events.Fields{"tick": l.cfg.TickPeriod.String()})

	for {
		select {
		case <-ctx.Done():
			l.deps.Actuator.Neutral()
			l.emit("session_stop", events.Fields{"reason": "signal"})
			return ctx.Err()
		case now := <-ticker.C():
			dt := now.Sub(last).Seconds()
			if dt <= 0 {
				dt = l.cfg.TickPeriod.Seconds()
			}
			last = now
			if shutdown := l.safeTick(now, dt); shutdown {
				l.deps.Actuator.Neutral()
				l.emit("session_stop", events.Fields{"reason": "input"})
				return nil
			}
		}
	}
}

// safeTick runs one tick and recovers any panic at the orchestrator
// boundary: the tick emits a neutral command, the fault is logged, and the
// loop continues at the next scheduled tick.
func (l *Loop) safeTick(now time.Time, dt float64) (shutdown bool) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("drive: tick fault: %v", r)
			l.emit("tick_fault", events.Fields{"fault": fmt.Sprint(r)})
			l.deps.Actuator.ApplySteer(0)
			l.deps.Actuator.ApplyThrottle(0)
		}
	}()

	cmd, shutdown := l.tick(now, dt)
	l.deps.Actuator.ApplySteer(cmd.Steer)
	l.deps.Actuator.ApplyThrottle(cmd.Throttle)
	return shutdown
}

// tick computes one DriveCommand. Order is fixed: input and sensor fusion,
// turn decision, throttle blend, scaling and ramp, then the safety layer
// last, so nothing upstream can bypass it.
func (l *Loop) tick(now time.Time, dt float64) (Command, bool) {
	// Sensor reads, best effort current value.
	var raw *float64
	if l.deps.Ultrasonic != nil {
		if cm, ok := l.deps.Ultrasonic.Poll(); ok {
			raw = &cm
		}
	}
	us := l.deps.Fusion.Update(raw, now)

	visRes, visOK := l.deps.Vision.Get()
	fresh := visOK && (!l.haveFrame || visRes.FrameSeq != l.lastFrameSeq)
	if fresh {
		l.haveFrame = true
		l.lastFrameSeq = visRes.FrameSeq
	}

	// Merged stop flag: a valid ultrasonic is authoritative over vision;
	// with neither available the vehicle stays stopped.
	isStop := true
	switch {
	case us.IsValid:
		isStop = us.IsStop
	case visOK:
		isStop = visRes.IsStopped
	}
	if !l.stopKnown || isStop != l.prevStop {
		f := events.Fields{"stop": isStop}
		if visOK {
			f["free"] = visRes.Stats.WeightedFree
			f["ema"] = visRes.EMAFree
		}
		if us.IsValid && us.FilteredCM != nil {
			f["range_cm"] = *us.FilteredCM
		}
		l.emit("stop_change", f)
		l.stopKnown = true
		l.prevStop = isStop
	}

	// Manual input and discrete events. A disarm in the same tick as an arm
	// wins, keeping the tie fail-safe.
	in := l.deps.Input.Poll()
	if in.Active {
		l.lastActivity = now
	}
	if in.Disarm {
		if l.armed {
			l.emit("disarm", events.Fields{"source": "input"})
		}
		l.armed = false
	} else if in.Arm {
		if !l.armed {
			l.emit("arm", events.Fields{"source": "input"})
		}
		l.armed = true
	}
	if in.ModeToggle {
		l.deps.Autopilot.Toggle()
		l.emit("mode_change", events.Fields{
			"mode":         l.deps.Autopilot.Mode().String(),
			"cruise_speed": l.deps.Autopilot.CruiseSpeed(),
		})
	}
	if in.CruiseDelta != 0 {
		l.deps.Autopilot.ApplyCruiseDelta(in.CruiseDelta)
		l.emit("cruise_change", events.Fields{"cruise_speed": l.deps.Autopilot.CruiseSpeed()})
	}

	// Turn decision, falling back to the time-weighted history when no fresh
	// frame arrived this tick.
	var dec TurnDecision
	if fresh {
		s := visRes.Stats
		dec = l.deps.Turn.Observe(now, s.ZoneLeft, s.ZoneCenter, s.ZoneRight)
	} else {
		dec = l.deps.Turn.Coast(now)
	}
	if l.deps.Turn.Changed() {
		l.emit("turn_change", events.Fields{"decision": dec.String()})
	}

	manualSteer := l.deps.SteerMap.Apply(in.Steer)
	manualThrottle := l.deps.ThrottleMap.Apply(in.Throttle)

	throttle := l.deps.Autopilot.ComputeThrottle(manualThrottle, isStop, l.armed)

	steer := manualSteer
	if l.deps.Autopilot.Mode() == ModeAutoCruise {
		// Forward gate, redundant with ComputeThrottle on purpose.
		if throttle > 0 && isStop {
			throttle = 0
		}

		// Speed scaling. The turn scale keys off the live steering angle
		// from the previous tick; the scales compound multiplicatively.
		scale := 1.0
		if math.Abs(l.appliedSteer) >= l.cfg.TurnSteerThreshold {
			scale *= l.cfg.TurnSpeedScale
		}
		if visOK {
			s := visRes.Stats
			if s.ZoneCenter >= l.cfg.ObstacleCenterThreshold ||
				s.ClosestNorm >= l.cfg.ObstacleClosestThreshold {
				scale *= l.cfg.ObstacleSpeedScale
			}
		}
		throttle *= clamp(scale, 0.0, 1.0)

		// Auto-steer: strong manual steer wins outright; otherwise the
		// applied steer ramps toward the avoidance target, never jumping.
		if math.Abs(manualSteer) >= l.cfg.ManualSteerOverride {
			l.appliedSteer = manualSteer
		} else {
			target := autoSteerTarget(dec, l.cfg.AutoSteerMagnitude)
			maxStep := l.cfg.SteerRampPerSec * dt
			l.appliedSteer += clamp(target-l.appliedSteer, -maxStep, maxStep)
		}

		limit := l.steerLimit(throttle)
		l.appliedSteer = clamp(l.appliedSteer, -limit, limit)
		steer = l.appliedSteer
	} else {
		// Track the manual angle so a later mode switch ramps from the
		// current steering position instead of jumping from a stale one.
		l.appliedSteer = manualSteer
	}

	// Hard safety layer. Runs last; nothing upstream can override it.
	if l.deps.Autopilot.Mode() != ModeManual {
		if isStop {
			throttle = 0
		}
		if l.cfg.Watchdog > 0 && now.Sub(l.lastActivity) > l.cfg.Watchdog {
			throttle = 0
		}
	}

	cmd := Command{
		Steer:    clamp(steer, -1.0, 1.0),
		Throttle: clamp(throttle, -1.0, 1.0),
	}
	if !l.cmdKnown || cmd != l.prevCmd {
		l.emit("command", events.Fields{"steer": cmd.Steer, "throttle": cmd.Throttle})
		l.cmdKnown = true
		l.prevCmd = cmd
	}
	return cmd, in.Shutdown
}

// autoSteerTarget maps the occluded side to the signed steering target that
// moves away from it; positive steer is right.
func autoSteerTarget(d TurnDecision, magnitude float64) float64 {
	switch d {
	case TurnLeft:
		return magnitude
	case TurnRight:
		return -magnitude
	default:
		return 0
	}
}

// steerLimit interpolates the maximum steering magnitude for the current
// throttle between the low- and high-speed limits.
func (l *Loop) steerLimit(throttle float64) float64 {
	t := math.Abs(throttle)
	switch {
	case t <= l.cfg.SteerSpeedLow:
		return l.cfg.SteerMaxLow
	case t >= l.cfg.SteerSpeedHigh:
		return l.cfg.SteerMaxHigh
	}
	frac := (t - l.cfg.SteerSpeedLow) / (l.cfg.SteerSpeedHigh - l.cfg.SteerSpeedLow)
	return l.cfg.SteerMaxLow + frac*(l.cfg.SteerMaxHigh-l.cfg.SteerMaxLow)
}

func (l *Loop) emit(name string, fields events.Fields) {
	if l.deps.Events == nil {
		return
	}
	l.deps.Events.Event(name, fields)
}
