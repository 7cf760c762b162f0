package forensics

import "sort"

// LatencySpikeDetector implements D5: feed age samples into a rolling
// window, evaluate p99 every evalEvery events, and require
// consecutiveRequired back-to-back breaches of thresholdMs before
// reporting a sustained spike.
type LatencySpikeDetector struct {
	thresholdMs          int64
	evalEvery            int
	consecutiveRequired  int
	window               []int64
	cap                  int
	head                 int
	full                 bool
	sinceEval            int
	consecutiveSpikes    int
	lastP99              int64
}

// NewLatencySpikeDetector builds a D5 detector with the given rolling
// window capacity, p99 threshold, evaluation cadence (every K events),
// and consecutive-breach requirement.
func NewLatencySpikeDetector(windowCap int, thresholdMs int64, evalEvery, consecutiveRequired int) *LatencySpikeDetector {
	return &LatencySpikeDetector{
		thresholdMs:         thresholdMs,
		evalEvery:           evalEvery,
		consecutiveRequired: consecutiveRequired,
		window:              make([]int64, windowCap),
		cap:                 windowCap,
	}
}

// AddSample records one age sample (recv_ts_ms - ingest_ts_ms, clamped
// to >=0 for clock skew) and, every evalEvery samples, evaluates p99.
// It returns true exactly when the Nth consecutive breach occurs.
func (d *LatencySpikeDetector) AddSample(ageMs int64) bool {
	if ageMs < 0 {
		ageMs = 0
	}
	d.window[d.head] = ageMs
	d.head = (d.head + 1) % d.cap
	if d.head == 0 {
		d.full = true
	}

	d.sinceEval++
	if d.sinceEval < d.evalEvery || d.len() < 100 {
		return false
	}
	d.sinceEval = 0

	p99 := d.percentile(99)
	d.lastP99 = p99

	if p99 > d.thresholdMs {
		d.consecutiveSpikes++
		if d.consecutiveSpikes >= d.consecutiveRequired {
			d.consecutiveSpikes = 0
			return true
		}
	} else {
		d.consecutiveSpikes = 0
	}
	return false
}

// P99 returns the most recently evaluated p99.
func (d *LatencySpikeDetector) P99() int64 { return d.lastP99 }

func (d *LatencySpikeDetector) len() int {
	if d.full {
		return d.cap
	}
	return d.head
}

func (d *LatencySpikeDetector) percentile(p float64) int64 {
	n := d.len()
	if n == 0 {
		return 0
	}
	sorted := make([]int64, n)
	copy(sorted, d.window[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(n) * p / 100.0)
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
