// Package vision turns per-frame occupancy class maps from the segmentation
// collaborator into proximity statistics and a debounced stop/go verdict.
package vision

import "time"

// ROI is the region of interest within the full camera frame, in pixel
// coordinates. X1/Y1 are exclusive.
type ROI struct {
	X0, Y0, X1, Y1 int
}

// W returns the ROI width in pixels.
func (r ROI) W() int {
	if r.X1 <= r.X0 {
		return 0
	}
	return r.X1 - r.X0
}

// H returns the ROI height in pixels.
func (r ROI) H() int {
	if r.Y1 <= r.Y0 {
		return 0
	}
	return r.Y1 - r.Y0
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ComputeROI places the region of interest centred horizontally and anchored
// at the bottom of a width×height frame. widthFrac and bottomFrac are
// fractions of the frame dimensions. The result is always non-empty.
func ComputeROI(width, height int, widthFrac, bottomFrac float64) ROI {
	rw := int(float64(width) * widthFrac)
	rh := int(float64(height) * bottomFrac)

	cx := width / 2
	x0 := clampInt(cx-rw/2, 0, width-1)
	x1 := clampInt(cx+rw/2, 1, width)

	y1 := height
	y0 := clampInt(height-rh, 0, height-1)

	if x1 <= x0 {
		x1 = clampInt(x0+1, 1, width)
	}
	if y1 <= y0 {
		y1 = clampInt(y0+1, 1, height)
	}

	return ROI{X0: x0, Y0: y0, X1: x1, Y1: y1}
}

// Frame is one published occupancy frame: the per-pixel class-ID map over the
// ROI, row-major, top row first. Frames are immutable once published.
type Frame struct {
	ROI     ROI
	W, H    int
	Classes []int // len == W*H; class IDs, FreeClass means free space
	Seq     uint64
	At      time.Time
}

// Class returns the class at column x, row y. Rows count from the top.
func (f *Frame) Class(x, y int) int {
	return f.Classes[y*f.W+x]
}

// Empty reports whether the frame carries no pixels.
func (f *Frame) Empty() bool {
	return f.W <= 0 || f.H <= 0 || len(f.Classes) == 0
}
