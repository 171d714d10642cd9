package vision

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ClassRatio is one entry of a frame's class histogram.
type ClassRatio struct {
	ID    int
	Ratio float64
}

// TopClasses returns up to k (class, ratio) pairs over the frame, sorted by
// descending ratio. Negative class IDs are filtered out; class 0 is skipped
// when ignoreZero is set. Ratios are relative to the full pixel count, so
// they do not renormalise when zero is ignored.
func TopClasses(f *Frame, k int, ignoreZero bool) []ClassRatio {
	if f == nil || f.Empty() {
		return nil
	}

	counts := make(map[int]int)
	total := 0
	for _, c := range f.Classes {
		if c < 0 {
			continue
		}
		total++
		counts[c]++
	}
	if total == 0 {
		return nil
	}
	if ignoreZero {
		delete(counts, 0)
	}

	out := make([]ClassRatio, 0, len(counts))
	for id, n := range counts {
		out = append(out, ClassRatio{ID: id, Ratio: float64(n) / float64(total)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ratio != out[j].Ratio {
			return out[i].Ratio > out[j].Ratio
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// ProximityStats summarises one frame with rows near the vehicle weighted
// more heavily. Derived per frame, never persisted.
type ProximityStats struct {
	WeightedFree      float64
	WeightedOccupancy float64

	// ClosestNorm is the normalised row of the nearest obstacle in the
	// centre third, (row+1)/h scanning bottom-up, 0 when clear.
	ClosestNorm float64

	// ClosestAnyNorm ignores the left/right thirds split. Diagnostic only;
	// it feeds no decision.
	ClosestAnyNorm float64

	ZoneLeft   float64
	ZoneCenter float64
	ZoneRight  float64
}

// Analyze computes proximity statistics for a frame. freeClass is the class
// ID treated as free space; power shapes the row weight ((y+1)/h)^power so
// bottom rows dominate. An empty frame yields all-zero stats.
func Analyze(f *Frame, freeClass int, power float64) ProximityStats {
	if f == nil || f.Empty() {
		return ProximityStats{}
	}

	w, h := f.W, f.H
	third := w / 3

	weights := make([]float64, h)
	rowOcc := make([]float64, h)
	rowLeft := make([]float64, h)
	rowCenter := make([]float64, h)
	rowRight := make([]float64, h)

	for y := 0; y < h; y++ {
		weights[y] = math.Pow(float64(y+1)/float64(h), power)

		var occ, left, center, right int
		for x := 0; x < w; x++ {
			if f.Class(x, y) == freeClass {
				continue
			}
			occ++
			switch {
			case x < third:
				left++
			case x < w-third:
				center++
			default:
				right++
			}
		}
		rowOcc[y] = float64(occ) / float64(w)
		if third > 0 {
			rowLeft[y] = float64(left) / float64(third)
			rowRight[y] = float64(right) / float64(third)
		}
		if centerW := w - 2*third; centerW > 0 {
			rowCenter[y] = float64(center) / float64(centerW)
		}
	}

	occ := stat.Mean(rowOcc, weights)
	s := ProximityStats{
		WeightedOccupancy: occ,
		WeightedFree:      1.0 - occ,
		ZoneLeft:          stat.Mean(rowLeft, weights),
		ZoneCenter:        stat.Mean(rowCenter, weights),
		ZoneRight:         stat.Mean(rowRight, weights),
	}

	// Nearest obstacle rows, scanning bottom-up.
	for y := h - 1; y >= 0; y-- {
		if s.ClosestNorm == 0 {
			for x := third; x < w-third; x++ {
				if f.Class(x, y) != freeClass {
					s.ClosestNorm = float64(y+1) / float64(h)
					break
				}
			}
		}
		if s.ClosestAnyNorm == 0 && rowOcc[y] > 0 {
			s.ClosestAnyNorm = float64(y+1) / float64(h)
		}
		if s.ClosestNorm != 0 && s.ClosestAnyNorm != 0 {
			break
		}
	}

	return s
}
