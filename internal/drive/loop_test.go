package drive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-robotics/rover/internal/events"
	"github.com/tidewater-robotics/rover/internal/input"
	"github.com/tidewater-robotics/rover/internal/rangefinder"
	"github.com/tidewater-robotics/rover/internal/timeutil"
	"github.com/tidewater-robotics/rover/internal/vision"
)

type stubInput struct {
	next input.Sample
}

func (s *stubInput) Poll() input.Sample {
	out := s.next
	s.next = input.Sample{}
	return out
}

type stubUltra struct {
	cm *float64
}

func (s *stubUltra) Poll() (float64, bool) {
	if s.cm == nil {
		return 0, false
	}
	v := *s.cm
	s.cm = nil
	return v, true
}

type recordActuator struct {
	steer    []float64
	throttle []float64
	neutrals int
}

func (a *recordActuator) ApplySteer(v float64)    { a.steer = append(a.steer, v) }
func (a *recordActuator) ApplyThrottle(v float64) { a.throttle = append(a.throttle, v) }
func (a *recordActuator) Neutral()                { a.neutrals++ }

type recordEvents struct {
	names  []string
	fields []events.Fields
}

func (r *recordEvents) Event(name string, fields events.Fields) {
	r.names = append(r.names, name)
	r.fields = append(r.fields, fields)
}

func (r *recordEvents) count(name string) int {
	n := 0
	for _, got := range r.names {
		if got == name {
			n++
		}
	}
	return n
}

type loopFixture struct {
	loop  *Loop
	cfg   LoopConfig
	clock *timeutil.MockClock
	now   time.Time
	in    *stubInput
	us    *stubUltra
	vis   *Latest[vision.Result]
	act   *recordActuator
	ev    *recordEvents
	seq   uint64
}

func newLoopFixture() *loopFixture {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f := &loopFixture{
		cfg: LoopConfig{
			TickPeriod:               20 * time.Millisecond,
			TurnSpeedScale:           0.6,
			TurnSteerThreshold:       0.25,
			ObstacleSpeedScale:       0.5,
			ObstacleCenterThreshold:  0.8,
			ObstacleClosestThreshold: 0.85,
			SteerRampPerSec:          2.0,
			ManualSteerOverride:      0.5,
			AutoSteerMagnitude:       0.5,
			SteerMaxLow:              1.0,
			SteerMaxHigh:             0.4,
			SteerSpeedLow:            0.1,
			SteerSpeedHigh:           0.3,
		},
		clock: timeutil.NewMockClock(start),
		now:   start,
		in:    &stubInput{},
		us:    &stubUltra{},
		vis:   &Latest[vision.Result]{},
		act:   &recordActuator{},
		ev:    &recordEvents{},
	}
	// Alpha 1 and single confirmation frames make the fusion react on the
	// next tick, keeping scenarios about the loop rather than the filter.
	fusion := rangefinder.NewFusion(rangefinder.FusionConfig{
		StopCM: 35, GoCM: 45, EMAAlpha: 1.0, MinCM: 2, MaxCM: 400,
		Stale: 500 * time.Millisecond, StopFrames: 1, GoFrames: 1,
	})
	history := vision.NewHistory(vision.HistoryConfig{
		Retention: 2 * time.Second,
		Tau:       400 * time.Millisecond,
		MinWeight: 0.2,
	})
	f.loop = NewLoop(f.cfg, Deps{
		Clock:       f.clock,
		Ultrasonic:  f.us,
		Fusion:      fusion,
		Vision:      f.vis,
		Input:       f.in,
		Turn:        NewTurnEngine(TurnConfig{CenterThreshold: 0.5, DiffThreshold: 0.15}, history),
		Autopilot:   NewAutopilot(testAutopilotConfig()),
		SteerMap:    SteeringMapper{Gain: 1.0},
		ThrottleMap: &ThrottleMapper{},
		Actuator:    f.act,
		Events:      f.ev,
	})
	return f
}

func (f *loopFixture) feedUltra(cm float64) { f.us.cm = &cm }

func (f *loopFixture) feedVision(stopped bool, left, center, right, closest float64) {
	f.seq++
	f.vis.Publish(vision.Result{
		FrameSeq:  f.seq,
		At:        f.now,
		IsStopped: stopped,
		EMAFree:   1 - center,
		Stats: vision.ProximityStats{
			WeightedFree:      1 - center,
			WeightedOccupancy: center,
			ZoneLeft:          left,
			ZoneCenter:        center,
			ZoneRight:         right,
			ClosestNorm:       closest,
		},
	})
}

func (f *loopFixture) tick() Command {
	f.now = f.now.Add(f.cfg.TickPeriod)
	cmd, _ := f.loop.tick(f.now, f.cfg.TickPeriod.Seconds())
	return cmd
}

func TestLoopDisarmedThrottleIsZero(t *testing.T) {
	f := newLoopFixture()
	f.feedUltra(200)
	f.in.next = input.Sample{Steer: 0.3, Throttle: 0.8, Active: true}
	cmd := f.tick()
	assert.Equal(t, 0.0, cmd.Throttle, "disarmed must never drive")
	assert.Equal(t, 0.3, cmd.Steer, "steering stays live while disarmed")
}

func TestLoopManualDrive(t *testing.T) {
	f := newLoopFixture()
	f.feedUltra(200)
	f.in.next = input.Sample{Arm: true, Steer: 0.4, Throttle: 0.6, Active: true}
	cmd := f.tick()
	assert.Equal(t, 0.6, cmd.Throttle)
	assert.Equal(t, 0.4, cmd.Steer)
	require.True(t, f.loop.Armed())

	// Manual mode leaves the stop verdict to the operator.
	f.feedUltra(10)
	f.in.next = input.Sample{Throttle: 0.6, Active: true}
	cmd = f.tick()
	assert.Equal(t, 0.6, cmd.Throttle)
}

func TestLoopDisarmWinsOverSameTickArm(t *testing.T) {
	f := newLoopFixture()
	f.feedUltra(200)
	f.in.next = input.Sample{Arm: true, Disarm: true, Throttle: 0.5, Active: true}
	cmd := f.tick()
	assert.Equal(t, 0.0, cmd.Throttle)
	assert.False(t, f.loop.Armed())
}

func TestLoopAutoCruiseDrivesAtCruiseSpeed(t *testing.T) {
	f := newLoopFixture()
	f.feedUltra(200)
	f.in.next = input.Sample{Arm: true, ModeToggle: true, Active: true}
	cmd := f.tick()
	assert.InDelta(t, 0.15, cmd.Throttle, 1e-9)
	assert.Equal(t, 0.0, cmd.Steer)

	// Manual throttle does not leak into AutoCruise: pre-scaling throttle is
	// the cruise speed, not the stick value.
	f.feedUltra(200)
	f.in.next = input.Sample{Throttle: 0.9, Active: true}
	cmd = f.tick()
	assert.InDelta(t, 0.15, cmd.Throttle, 1e-9)
}

func TestLoopAutoCruiseStopsOnUltrasonic(t *testing.T) {
	f := newLoopFixture()
	f.feedUltra(200)
	f.in.next = input.Sample{Arm: true, ModeToggle: true, Active: true}
	f.tick()

	f.feedUltra(10)
	cmd := f.tick()
	assert.Equal(t, 0.0, cmd.Throttle)

	f.feedUltra(200)
	cmd = f.tick()
	assert.InDelta(t, 0.15, cmd.Throttle, 1e-9)
}

func TestLoopUltrasonicAuthoritativeOverVision(t *testing.T) {
	f := newLoopFixture()
	f.in.next = input.Sample{Arm: true, ModeToggle: true, Active: true}

	// Valid not-stopped ultrasonic wins over a stopped vision verdict.
	f.feedUltra(200)
	f.feedVision(true, 0.2, 0.2, 0.2, 0.1)
	cmd := f.tick()
	assert.InDelta(t, 0.15, cmd.Throttle, 1e-9)

	// And a stopped ultrasonic wins over a clear vision verdict.
	f.feedUltra(10)
	f.feedVision(false, 0.0, 0.0, 0.0, 0.0)
	cmd = f.tick()
	assert.Equal(t, 0.0, cmd.Throttle)
}

func TestLoopStaleUltrasonicFallsBackToVision(t *testing.T) {
	f := newLoopFixture()
	f.in.next = input.Sample{Arm: true, ModeToggle: true, Active: true}
	f.feedUltra(200)
	f.tick()

	// Starve the rangefinder past its staleness window; the stopped vision
	// verdict takes over.
	f.feedVision(true, 0.2, 0.2, 0.2, 0.1)
	var cmd Command
	for i := 0; i < 30; i++ {
		cmd = f.tick()
	}
	assert.Equal(t, 0.0, cmd.Throttle)
}

func TestLoopNoSensorsFailSafe(t *testing.T) {
	f := newLoopFixture()
	f.in.next = input.Sample{Arm: true, ModeToggle: true, Active: true}
	cmd := f.tick()
	assert.Equal(t, 0.0, cmd.Throttle, "no sensor data must read as stopped")
}

func TestLoopAutoSteerRampsTowardTurnTarget(t *testing.T) {
	f := newLoopFixture()
	f.in.next = input.Sample{Arm: true, ModeToggle: true, Active: true}
	f.feedUltra(200)
	f.feedVision(false, 0.80, 0.55, 0.10, 0.1)
	cmd := f.tick()

	// One tick of ramp: 2.0/s over 20 ms.
	assert.InDelta(t, 0.04, cmd.Steer, 1e-9)

	// The frame is consumed once; later ticks coast on history and keep
	// ramping toward the same left-avoidance target.
	prev := cmd.Steer
	for i := 0; i < 5; i++ {
		f.feedUltra(200)
		cmd = f.tick()
		assert.Greater(t, cmd.Steer, prev, "ramp must be monotonic toward target")
		prev = cmd.Steer
	}
	assert.LessOrEqual(t, cmd.Steer, f.cfg.AutoSteerMagnitude)
}

func TestLoopTurnScaleUsesLiveSteer(t *testing.T) {
	f := newLoopFixture()
	f.in.next = input.Sample{Arm: true, ModeToggle: true, Active: true}

	// Ramp the applied steer past the turn threshold (0.25 at 0.04/tick
	// needs seven ticks), feeding fresh frames so the decision holds.
	var cmd Command
	for i := 0; i < 8; i++ {
		f.feedUltra(200)
		f.feedVision(false, 0.80, 0.55, 0.10, 0.1)
		cmd = f.tick()
	}
	require.GreaterOrEqual(t, cmd.Steer, f.cfg.TurnSteerThreshold)

	f.feedUltra(200)
	f.feedVision(false, 0.80, 0.55, 0.10, 0.1)
	cmd = f.tick()
	assert.InDelta(t, 0.15*0.6, cmd.Throttle, 1e-9, "turn scale applies while steering hard")
}

func TestLoopObstacleScale(t *testing.T) {
	f := newLoopFixture()
	f.in.next = input.Sample{Arm: true, ModeToggle: true, Active: true}
	f.feedUltra(200)
	// Centre occupancy below the turn threshold so no steer builds up, but
	// the closest row is threateningly near.
	f.feedVision(false, 0.1, 0.2, 0.1, 0.9)
	cmd := f.tick()
	assert.InDelta(t, 0.15*0.5, cmd.Throttle, 1e-9)
}

func TestLoopManualSteerOverridesAutoSteer(t *testing.T) {
	f := newLoopFixture()
	f.in.next = input.Sample{Arm: true, ModeToggle: true, Active: true}
	f.feedUltra(200)
	f.tick()

	f.feedUltra(200)
	f.in.next = input.Sample{Steer: 0.6, Active: true}
	cmd := f.tick()
	assert.Equal(t, 0.6, cmd.Steer, "strong manual steer wins outright, no ramp")
}

func TestLoopSteerLimitCurve(t *testing.T) {
	f := newLoopFixture()
	// Below the low speed the full range is available.
	assert.Equal(t, 1.0, f.loop.steerLimit(0.05))
	// Above the high speed only the tight limit remains.
	assert.Equal(t, 0.4, f.loop.steerLimit(0.5))
	// Halfway between the speeds the limit interpolates linearly.
	assert.InDelta(t, 0.7, f.loop.steerLimit(0.2), 1e-9)
}

func TestLoopDisarmRearmKeepsRampAndCruise(t *testing.T) {
	f := newLoopFixture()
	f.in.next = input.Sample{Arm: true, ModeToggle: true, CruiseDelta: 2, Active: true}
	f.feedUltra(200)
	f.feedVision(false, 0.80, 0.55, 0.10, 0.1)
	f.tick()

	f.feedUltra(200)
	f.in.next = input.Sample{Disarm: true, Active: true}
	cmd := f.tick()
	assert.Equal(t, 0.0, cmd.Throttle)
	steerWhileDisarmed := cmd.Steer
	assert.Greater(t, steerWhileDisarmed, 0.0, "ramp state survives disarm")

	f.feedUltra(200)
	f.in.next = input.Sample{Arm: true, Active: true}
	cmd = f.tick()
	assert.InDelta(t, 0.19, cmd.Throttle, 1e-9, "cruise speed survives disarm")
	assert.Greater(t, cmd.Steer, steerWhileDisarmed)
}

func TestLoopWatchdogStopsAutoCruise(t *testing.T) {
	f := newLoopFixture()
	f.loop.cfg.Watchdog = 100 * time.Millisecond

	f.in.next = input.Sample{Arm: true, ModeToggle: true, Active: true}
	f.feedUltra(200)
	cmd := f.tick()
	require.InDelta(t, 0.15, cmd.Throttle, 1e-9)

	// Six silent ticks put the last activity 120 ms in the past.
	for i := 0; i < 6; i++ {
		f.feedUltra(200)
		cmd = f.tick()
	}
	assert.Equal(t, 0.0, cmd.Throttle, "watchdog must cut throttle without manual activity")

	f.feedUltra(200)
	f.in.next = input.Sample{Active: true}
	cmd = f.tick()
	assert.InDelta(t, 0.15, cmd.Throttle, 1e-9, "activity re-enables cruise")
}

func TestLoopWatchdogIgnoresManualMode(t *testing.T) {
	f := newLoopFixture()
	f.loop.cfg.Watchdog = 100 * time.Millisecond
	f.feedUltra(200)
	f.in.next = input.Sample{Arm: true, Throttle: 0.5, Active: true}
	f.tick()
	var cmd Command
	for i := 0; i < 10; i++ {
		f.feedUltra(200)
		f.in.next = input.Sample{Throttle: 0.5}
		cmd = f.tick()
	}
	assert.Equal(t, 0.5, cmd.Throttle, "manual mode is not watchdog-gated")
}

func TestLoopEmitsEdgeEventsOnce(t *testing.T) {
	f := newLoopFixture()
	f.in.next = input.Sample{Arm: true, ModeToggle: true, Active: true}
	f.feedUltra(200)
	f.tick()
	for i := 0; i < 3; i++ {
		f.feedUltra(200)
		f.tick()
	}
	f.feedUltra(10)
	f.tick()

	assert.Equal(t, 1, f.ev.count("arm"))
	assert.Equal(t, 1, f.ev.count("mode_change"))
	// Initial go verdict plus the stop transition.
	assert.Equal(t, 2, f.ev.count("stop_change"))
}

func TestLoopTickPanicEmitsNeutral(t *testing.T) {
	f := newLoopFixture()
	f.loop.deps.Fusion = nil // first dereference inside the tick panics

	shutdown := f.loop.safeTick(f.now, f.cfg.TickPeriod.Seconds())
	assert.False(t, shutdown)
	require.NotEmpty(t, f.act.steer)
	require.NotEmpty(t, f.act.throttle)
	assert.Equal(t, 0.0, f.act.steer[len(f.act.steer)-1])
	assert.Equal(t, 0.0, f.act.throttle[len(f.act.throttle)-1])
	assert.Equal(t, 1, f.ev.count("tick_fault"))
}

func TestLoopRunShutdownEvent(t *testing.T) {
	f := newLoopFixture()
	f.in.next = input.Sample{Shutdown: true, Active: true}

	done := make(chan error, 1)
	go func() { done <- f.loop.Run(context.Background()) }()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.Equal(t, 1, f.act.neutrals, "shutdown must end on a neutral command")
			return
		case <-deadline:
			t.Fatal("loop did not shut down")
		default:
			f.clock.Advance(f.cfg.TickPeriod)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestLoopRunContextCancel(t *testing.T) {
	f := newLoopFixture()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.loop.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, f.act.neutrals)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on cancel")
	}
}
