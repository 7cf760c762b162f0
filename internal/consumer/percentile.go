package consumer

import "sort"

// LatencyWindow tracks the last W latency samples and reports
// percentiles via a full sort of the small window, as the spec allows
// ("a sorted array over a 1000-sample ring is acceptable").
type LatencyWindow struct {
	samples []int64
	cap     int
	head    int
	full    bool
}

// NewLatencyWindow builds a rolling window holding up to capacity
// samples.
func NewLatencyWindow(capacity int) *LatencyWindow {
	return &LatencyWindow{samples: make([]int64, capacity), cap: capacity}
}

// Add records one latency sample, evicting the oldest once full.
func (w *LatencyWindow) Add(v int64) {
	w.samples[w.head] = v
	w.head = (w.head + 1) % w.cap
	if w.head == 0 {
		w.full = true
	}
}

// Len returns the number of samples currently held.
func (w *LatencyWindow) Len() int {
	if w.full {
		return w.cap
	}
	return w.head
}

// Percentile returns the p-th percentile (0-100) of the current window,
// or 0 if empty.
func (w *LatencyWindow) Percentile(p float64) int64 {
	n := w.Len()
	if n == 0 {
		return 0
	}
	sorted := make([]int64, n)
	copy(sorted, w.samples[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(p / 100.0 * float64(n-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
