// Package drive merges the fused sensor verdicts with manual input into one
// actuator command per tick, and owns the drive-mode state machine, the turn
// avoidance decision, and the final safety layer.
package drive

import (
	"time"

	"github.com/tidewater-robotics/rover/internal/config"
	"github.com/tidewater-robotics/rover/internal/vision"
)

// TurnDecision is the discrete avoidance decision. The label names the more
// occluded side; the steering sign convention that avoids it lives in the
// drive loop.
type TurnDecision int

const (
	TurnNone TurnDecision = iota
	TurnLeft
	TurnRight
)

// String returns the decision label.
func (d TurnDecision) String() string {
	switch d {
	case TurnLeft:
		return "left"
	case TurnRight:
		return "right"
	default:
		return "none"
	}
}

// TurnConfig holds the turn-decision tuning.
type TurnConfig struct {
	CenterThreshold float64 // centre occupancy below this yields TurnNone
	DiffThreshold   float64 // minimum left/right difference to pick a side
}

// TurnConfigFromTuning builds a TurnConfig from a loaded TuningConfig.
func TurnConfigFromTuning(cfg *config.TuningConfig) TurnConfig {
	return TurnConfig{
		CenterThreshold: cfg.GetTurnCenterThreshold(),
		DiffThreshold:   cfg.GetTurnDiffThreshold(),
	}
}

// TurnEngine derives the avoidance decision each tick. When no fresh frame
// exists it substitutes the time-weighted history estimate. The engine holds
// no side effects; the Changed edge exists for diagnostics only.
type TurnEngine struct {
	cfg     TurnConfig
	history *vision.History

	last    TurnDecision
	changed bool
}

// NewTurnEngine creates an engine backed by the given occupancy history.
func NewTurnEngine(cfg TurnConfig, history *vision.History) *TurnEngine {
	return &TurnEngine{cfg: cfg, history: history}
}

func (e *TurnEngine) decide(left, center, right float64) TurnDecision {
	if center < e.cfg.CenterThreshold {
		return TurnNone
	}
	if left > right+e.cfg.DiffThreshold {
		return TurnLeft
	}
	if right > left+e.cfg.DiffThreshold {
		return TurnRight
	}
	return TurnNone
}

func (e *TurnEngine) record(d TurnDecision) TurnDecision {
	e.changed = d != e.last
	e.last = d
	return d
}

// Observe ingests a fresh frame's zone occupancies into history and returns
// the decision for this tick.
func (e *TurnEngine) Observe(now time.Time, left, center, right float64) TurnDecision {
	e.history.Append(vision.HistoryEntry{At: now, Left: left, Center: center, Right: right})
	return e.record(e.decide(left, center, right))
}

// Coast returns the decision for a tick without a fresh frame, using the
// time-weighted history estimate. A low-confidence estimate yields TurnNone.
func (e *TurnEngine) Coast(now time.Time) TurnDecision {
	est, ok := e.history.Estimate(now)
	if !ok {
		return e.record(TurnNone)
	}
	return e.record(e.decide(est.Left, est.Center, est.Right))
}

// Changed reports whether the last decision differed from the one before it.
func (e *TurnEngine) Changed() bool { return e.changed }

// Last returns the most recent decision.
func (e *TurnEngine) Last() TurnDecision { return e.last }
