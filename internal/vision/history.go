package vision

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/tidewater-robotics/rover/internal/config"
)

// HistoryEntry is one retained occupancy observation.
type HistoryEntry struct {
	At     time.Time
	Left   float64
	Center float64
	Right  float64
}

// ZoneEstimate is a time-weighted zone occupancy estimate derived from
// retained history.
type ZoneEstimate struct {
	Left   float64
	Center float64
	Right  float64
	Weight float64 // total decay weight behind the estimate
}

// HistoryConfig holds the history retention and decay tuning.
type HistoryConfig struct {
	Retention time.Duration // entries older than this are evicted
	Tau       time.Duration // exponential decay constant for estimate weights
	MinWeight float64       // estimates below this total weight are unusable
}

// HistoryConfigFromTuning builds a HistoryConfig from a loaded TuningConfig.
func HistoryConfigFromTuning(cfg *config.TuningConfig) HistoryConfig {
	return HistoryConfig{
		Retention: cfg.GetHistoryRetention(),
		Tau:       cfg.GetHistoryTau(),
		MinWeight: cfg.GetHistoryMinWeight(),
	}
}

// History is a time-bounded buffer of zone occupancy samples, oldest first.
// Eviction runs on every insert so the buffer cannot grow without bound.
// Single writer; not safe for concurrent use.
type History struct {
	cfg     HistoryConfig
	entries []HistoryEntry
}

// NewHistory creates an empty history.
func NewHistory(cfg HistoryConfig) *History {
	return &History{cfg: cfg}
}

// Append retains e and evicts entries older than the retention window
// relative to e.At.
func (h *History) Append(e HistoryEntry) {
	cutoff := e.At.Add(-h.cfg.Retention)
	i := 0
	for i < len(h.entries) && h.entries[i].At.Before(cutoff) {
		i++
	}
	h.entries = append(h.entries[i:], e)
}

// Len returns the number of retained entries.
func (h *History) Len() int { return len(h.entries) }

// Estimate returns the exponentially-decayed zone occupancy estimate at now.
// The second return is false when the retained history carries too little
// total weight to be trusted.
func (h *History) Estimate(now time.Time) (ZoneEstimate, bool) {
	if len(h.entries) == 0 {
		return ZoneEstimate{}, false
	}

	tau := h.cfg.Tau.Seconds()
	if tau <= 0 {
		return ZoneEstimate{}, false
	}

	weights := make([]float64, 0, len(h.entries))
	left := make([]float64, 0, len(h.entries))
	center := make([]float64, 0, len(h.entries))
	right := make([]float64, 0, len(h.entries))

	total := 0.0
	for _, e := range h.entries {
		age := now.Sub(e.At).Seconds()
		if age < 0 {
			age = 0
		}
		w := math.Exp(-age / tau)
		weights = append(weights, w)
		left = append(left, e.Left)
		center = append(center, e.Center)
		right = append(right, e.Right)
		total += w
	}

	if total < h.cfg.MinWeight {
		return ZoneEstimate{Weight: total}, false
	}

	return ZoneEstimate{
		Left:   stat.Mean(left, weights),
		Center: stat.Mean(center, weights),
		Right:  stat.Mean(right, weights),
		Weight: total,
	}, true
}
