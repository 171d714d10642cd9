package vision

import (
	"time"

	"github.com/tidewater-robotics/rover/internal/config"
)

// DeciderConfig holds the stop-decider tuning.
type DeciderConfig struct {
	FreeClass      int
	StopThreshold  float64 // STOP when EMA of free drops below this
	GoThreshold    float64 // GO requires EMA of free at or above this
	EMAAlpha       float64
	MinStopFrames  int
	MinGoFrames    int
	HardStopClass  int     // class forcing an immediate stop; -1 disables
	HardStopRatio  float64 // top-k ratio at or above this triggers the hard stop
	RowWeightPower float64
	ClosestStop    float64 // closest-row norm at or above this blocks GO / forces STOP
	ClosestGo      float64
	TopK           int
	IgnoreZero     bool
}

// DefaultDeciderConfig returns the decider parameters from an all-defaults
// tuning document.
func DefaultDeciderConfig() DeciderConfig {
	return DeciderConfigFromTuning(config.EmptyTuningConfig())
}

// DeciderConfigFromTuning builds a DeciderConfig from a loaded TuningConfig.
func DeciderConfigFromTuning(cfg *config.TuningConfig) DeciderConfig {
	return DeciderConfig{
		FreeClass:      cfg.GetVisionFreeClass(),
		StopThreshold:  cfg.GetVisionStopThreshold(),
		GoThreshold:    cfg.GetVisionGoThreshold(),
		EMAAlpha:       cfg.GetVisionEMAAlpha(),
		MinStopFrames:  cfg.GetVisionStopFrames(),
		MinGoFrames:    cfg.GetVisionGoFrames(),
		HardStopClass:  cfg.GetVisionHardStopClass(),
		HardStopRatio:  cfg.GetVisionHardStopRatio(),
		RowWeightPower: cfg.GetVisionRowWeightPower(),
		ClosestStop:    cfg.GetVisionClosestStop(),
		ClosestGo:      cfg.GetVisionClosestGo(),
		TopK:           3,
		IgnoreZero:     true,
	}
}

// Result is one published decider output: the frame's statistics plus the
// persistent stop state after ingesting it. Immutable once published.
type Result struct {
	FrameSeq  uint64
	At        time.Time
	Stats     ProximityStats
	Top       []ClassRatio
	EMAFree   float64
	IsStopped bool
	HardStop  bool
}

// StopDecider maintains the vision stop/go state across frames. Single
// writer: the vision producer goroutine.
type StopDecider struct {
	cfg DeciderConfig

	emaSeeded  bool
	emaFree    float64
	isStopped  bool
	stopStreak int
	goStreak   int
}

// NewStopDecider creates a decider in the going state; the merged decision
// stays fail-safe because the drive loop defaults to stopped while no vision
// result exists at all.
func NewStopDecider(cfg DeciderConfig) *StopDecider {
	if cfg.MinStopFrames < 1 {
		cfg.MinStopFrames = 1
	}
	if cfg.MinGoFrames < 1 {
		cfg.MinGoFrames = 1
	}
	if cfg.TopK < 1 {
		cfg.TopK = 3
	}
	return &StopDecider{cfg: cfg}
}

// Update ingests one frame and returns the resulting decision. An empty ROI
// is a normal frame with all-zero stats, which drags the free EMA toward
// zero. The hard-stop class override bypasses the soft hysteresis for the
// current frame only: it pre-loads the stop streak and clears the go streak,
// so the following frames still need the usual confirmation to release.
func (d *StopDecider) Update(f *Frame) Result {
	stats := Analyze(f, d.cfg.FreeClass, d.cfg.RowWeightPower)
	top := TopClasses(f, d.cfg.TopK, d.cfg.IgnoreZero)

	free := 0.0
	if !f.Empty() {
		free = stats.WeightedFree
	}
	if !d.emaSeeded {
		d.emaFree = free
		d.emaSeeded = true
	} else {
		a := d.cfg.EMAAlpha
		d.emaFree = a*free + (1.0-a)*d.emaFree
	}

	res := Result{
		FrameSeq: f.Seq,
		At:       f.At,
		Stats:    stats,
		Top:      top,
		EMAFree:  d.emaFree,
	}

	if d.cfg.HardStopClass >= 0 {
		ratio := 0.0
		for _, cr := range top {
			if cr.ID == d.cfg.HardStopClass {
				ratio = cr.Ratio
				break
			}
		}
		if ratio >= d.cfg.HardStopRatio {
			d.isStopped = true
			d.stopStreak = d.cfg.MinStopFrames
			d.goStreak = 0
			res.IsStopped = true
			res.HardStop = true
			return res
		}
	}

	if d.isStopped {
		if d.emaFree >= d.cfg.GoThreshold && stats.ClosestNorm < d.cfg.ClosestGo {
			d.goStreak++
			if d.goStreak >= d.cfg.MinGoFrames {
				d.isStopped = false
				d.goStreak = 0
				d.stopStreak = 0
			}
		} else {
			d.goStreak = 0
		}
	} else {
		if d.emaFree < d.cfg.StopThreshold || stats.ClosestNorm >= d.cfg.ClosestStop {
			d.stopStreak++
			if d.stopStreak >= d.cfg.MinStopFrames {
				d.isStopped = true
				d.stopStreak = 0
				d.goStreak = 0
			}
		} else {
			d.stopStreak = 0
		}
	}

	res.IsStopped = d.isStopped
	return res
}
