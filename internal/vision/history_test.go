package vision

import (
	"math"
	"testing"
	"time"
)

func historyTestConfig() HistoryConfig {
	return HistoryConfig{
		Retention: 2 * time.Second,
		Tau:       700 * time.Millisecond,
		MinWeight: 0.5,
	}
}

func TestHistoryEvictsOnInsert(t *testing.T) {
	h := NewHistory(historyTestConfig())
	base := time.Unix(1000, 0)

	h.Append(HistoryEntry{At: base, Center: 0.1})
	h.Append(HistoryEntry{At: base.Add(500 * time.Millisecond), Center: 0.2})
	if h.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", h.Len())
	}

	// An entry 3s later pushes the first two past the retention window.
	h.Append(HistoryEntry{At: base.Add(3 * time.Second), Center: 0.3})
	if h.Len() != 1 {
		t.Errorf("Len() = %d after eviction, want 1", h.Len())
	}
}

func TestHistoryEstimateWeightsRecent(t *testing.T) {
	h := NewHistory(historyTestConfig())
	base := time.Unix(1000, 0)

	h.Append(HistoryEntry{At: base, Left: 1.0})
	h.Append(HistoryEntry{At: base.Add(time.Second), Left: 0.0})

	est, ok := h.Estimate(base.Add(time.Second))
	if !ok {
		t.Fatal("Estimate() unusable, want usable")
	}
	// The fresh zero-valued sample carries weight 1, the 1s-old sample
	// e^(-1/0.7) ≈ 0.24, so the estimate must sit well below the plain mean.
	if est.Left >= 0.5 {
		t.Errorf("Estimate().Left = %f, want < 0.5 (recent samples dominate)", est.Left)
	}
	wantLeft := math.Exp(-1.0/0.7) / (1 + math.Exp(-1.0/0.7))
	if math.Abs(est.Left-wantLeft) > 1e-9 {
		t.Errorf("Estimate().Left = %f, want %f", est.Left, wantLeft)
	}
}

func TestHistoryEstimateLowConfidence(t *testing.T) {
	h := NewHistory(HistoryConfig{
		Retention: 10 * time.Second,
		Tau:       200 * time.Millisecond,
		MinWeight: 0.5,
	})
	base := time.Unix(1000, 0)
	h.Append(HistoryEntry{At: base, Center: 0.9})

	// 2s later the single entry's weight e^(-10) is negligible.
	est, ok := h.Estimate(base.Add(2 * time.Second))
	if ok {
		t.Errorf("Estimate() usable with total weight %f, want unusable", est.Weight)
	}
}

func TestHistoryEstimateEmpty(t *testing.T) {
	h := NewHistory(historyTestConfig())
	if _, ok := h.Estimate(time.Unix(1000, 0)); ok {
		t.Error("Estimate() on empty history must be unusable")
	}
}

func TestHistoryEstimateAllZones(t *testing.T) {
	h := NewHistory(historyTestConfig())
	at := time.Unix(1000, 0)
	h.Append(HistoryEntry{At: at, Left: 0.2, Center: 0.4, Right: 0.6})

	est, ok := h.Estimate(at)
	if !ok {
		t.Fatal("Estimate() unusable, want usable")
	}
	if est.Left != 0.2 || est.Center != 0.4 || est.Right != 0.6 {
		t.Errorf("Estimate() = %+v, want zone values passed through", est)
	}
}
