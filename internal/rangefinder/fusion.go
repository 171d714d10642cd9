// Package rangefinder reads and filters the forward-facing ultrasonic range
// sensor. The serial reader publishes raw centimetre samples; Fusion smooths
// them and produces the debounced stop/go verdict consumed by the drive loop.
package rangefinder

import (
	"time"

	"github.com/tidewater-robotics/rover/internal/config"
)

// Reading is the fused ultrasonic state after one update. FilteredCM and
// RawCM are nil whenever the sensor is invalid (absent, out of range, or
// stale).
type Reading struct {
	RawCM      *float64
	FilteredCM *float64
	IsStop     bool
	IsValid    bool
	At         time.Time
}

// FusionConfig holds the tuning parameters for the ultrasonic filter.
type FusionConfig struct {
	StopCM      float64       // filtered reading at or below this arms the stop streak
	GoCM        float64       // filtered reading at or above this arms the go streak
	EMAAlpha    float64       // smoothing factor, (0, 1]
	MinCM       float64       // samples below this are rejected
	MaxCM       float64       // samples above this are rejected
	Stale       time.Duration // no accepted sample within this window forces invalid
	StopFrames  int           // consecutive readings required to confirm stop
	GoFrames    int           // consecutive readings required to confirm go
}

// DefaultFusionConfig returns the fusion parameters from an all-defaults
// tuning document.
func DefaultFusionConfig() FusionConfig {
	return FusionConfigFromTuning(config.EmptyTuningConfig())
}

// FusionConfigFromTuning builds a FusionConfig from a loaded TuningConfig.
func FusionConfigFromTuning(cfg *config.TuningConfig) FusionConfig {
	return FusionConfig{
		StopCM:     cfg.GetUltrasonicStopCM(),
		GoCM:       cfg.GetUltrasonicGoCM(),
		EMAAlpha:   cfg.GetUltrasonicEMAAlpha(),
		MinCM:      cfg.GetUltrasonicMinCM(),
		MaxCM:      cfg.GetUltrasonicMaxCM(),
		Stale:      cfg.GetUltrasonicStale(),
		StopFrames: cfg.GetUltrasonicStopFrames(),
		GoFrames:   cfg.GetUltrasonicGoFrames(),
	}
}

// Fusion smooths raw range samples with an EMA and applies hysteresis with
// confirmation-frame debouncing. It has a single writer (the drive loop) and
// starts stopped, so a vehicle with a dead sensor never creeps forward.
type Fusion struct {
	cfg FusionConfig

	ema        *float64
	isStop     bool
	lastAccept time.Time
	stopStreak int
	goStreak   int
}

// NewFusion creates a Fusion in the fail-safe stopped state.
func NewFusion(cfg FusionConfig) *Fusion {
	if cfg.StopFrames < 1 {
		cfg.StopFrames = 1
	}
	if cfg.GoFrames < 1 {
		cfg.GoFrames = 1
	}
	return &Fusion{cfg: cfg, isStop: true}
}

// Update ingests one raw sample (nil when no sample arrived) and returns the
// fused state. Out-of-range samples are rejected at the boundary: they do not
// touch the EMA and do not count toward any streak. Staleness forces the
// reading invalid but keeps the EMA so a recovering sensor resumes smoothly.
func (f *Fusion) Update(rawCM *float64, now time.Time) Reading {
	accepted := rawCM != nil && *rawCM >= f.cfg.MinCM && *rawCM <= f.cfg.MaxCM

	if accepted {
		f.lastAccept = now
		if f.ema == nil {
			v := *rawCM
			f.ema = &v
		} else {
			a := f.cfg.EMAAlpha
			*f.ema = a*(*rawCM) + (1.0-a)*(*f.ema)
		}

		// Streaks advance once per accepted sample, not per update, so the
		// decision rate tracks the sensor rate rather than the tick rate.
		if *f.ema <= f.cfg.StopCM {
			f.stopStreak++
		} else {
			f.stopStreak = 0
		}
		if *f.ema >= f.cfg.GoCM {
			f.goStreak++
		} else {
			f.goStreak = 0
		}

		if f.isStop {
			if f.goStreak >= f.cfg.GoFrames {
				f.isStop = false
				f.goStreak = 0
				f.stopStreak = 0
			}
		} else {
			if f.stopStreak >= f.cfg.StopFrames {
				f.isStop = true
				f.goStreak = 0
				f.stopStreak = 0
			}
		}
	}

	// The state holds between samples; only a truly stale sensor invalidates
	// it.
	isValid := f.ema != nil && now.Sub(f.lastAccept) <= f.cfg.Stale

	var filtered *float64
	if isValid {
		v := *f.ema
		filtered = &v
	}
	var raw *float64
	if accepted {
		v := *rawCM
		raw = &v
	}

	return Reading{
		RawCM:      raw,
		FilteredCM: filtered,
		IsStop:     f.isStop,
		IsValid:    isValid,
		At:         now,
	}
}
