// Package input defines the capability-based contract between human input
// devices and the drive core. Device decoding (gamepad, keyboard) lives
// behind the Source interface; the core only sees conditioned per-tick
// samples.
package input

// Sample is everything an input source contributes in one tick. Axes are
// normalized to [-1, 1]; the booleans are edge events, not levels.
type Sample struct {
	Steer    float64
	Throttle float64

	Arm         bool
	Disarm      bool
	ModeToggle  bool
	Shutdown    bool
	CruiseDelta int // ±1 per press, summed when merged

	// Active reports whether the source saw any user activity this tick.
	// It feeds the manual-activity watchdog.
	Active bool
}

// Source yields one sample per tick, non-blocking. Absence of activity is a
// zero sample, not an error.
type Source interface {
	Poll() Sample
}

// Merge combines samples from multiple sources: axes are summed and clamped,
// events are OR-ed, cruise deltas are summed. When both an arm and a disarm
// event land in the same tick the disarm wins.
func Merge(samples ...Sample) Sample {
	var out Sample
	for _, s := range samples {
		out.Steer += s.Steer
		out.Throttle += s.Throttle
		out.Arm = out.Arm || s.Arm
		out.Disarm = out.Disarm || s.Disarm
		out.ModeToggle = out.ModeToggle || s.ModeToggle
		out.Shutdown = out.Shutdown || s.Shutdown
		out.CruiseDelta += s.CruiseDelta
		out.Active = out.Active || s.Active || s.Steer != 0 || s.Throttle != 0
	}
	out.Steer = clamp(out.Steer)
	out.Throttle = clamp(out.Throttle)
	return out
}

func clamp(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// Multi polls several sources and merges their samples.
type Multi struct {
	Sources []Source
}

// Poll merges one sample from every source.
func (m *Multi) Poll() Sample {
	samples := make([]Sample, 0, len(m.Sources))
	for _, s := range m.Sources {
		samples = append(samples, s.Poll())
	}
	return Merge(samples...)
}

// Script replays a fixed sample sequence, then zeros. It serves tests and
// the dev mode of cmd/rover.
type Script struct {
	Samples []Sample
	i       int
}

// Poll returns the next scripted sample.
func (s *Script) Poll() Sample {
	if s.i >= len(s.Samples) {
		return Sample{}
	}
	out := s.Samples[s.i]
	s.i++
	return out
}
