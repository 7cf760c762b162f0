package forensics

import "testing"

// TestLatencySpikeDetectorTwoConsecutiveEvaluationsTrigger grounds
// spec.md §8 S4: 200 events at age=10ms, then 200 at age=500ms, with
// threshold=100ms and K=100. The first p99 evaluation in the hot
// regime crosses the threshold but does not trigger; the second
// consecutive evaluation does, and exactly once.
func TestLatencySpikeDetectorTwoConsecutiveEvaluationsTrigger(t *testing.T) {
	d := NewLatencySpikeDetector(1000, 100, 100, 2)

	triggers := 0
	triggerAt := -1
	for i := 0; i < 200; i++ {
		if d.AddSample(10) {
			triggers++
			triggerAt = i
		}
	}
	for i := 200; i < 400; i++ {
		if d.AddSample(500) {
			triggers++
			triggerAt = i
		}
	}

	if triggers != 1 {
		t.Fatalf("expected exactly one trigger, got %d", triggers)
	}
	if triggerAt != 399 {
		t.Fatalf("expected the trigger on the second consecutive hot-regime evaluation (event 400), got event %d", triggerAt+1)
	}
}

// TestLatencySpikeDetectorNonConsecutiveBreachResets uses a window
// capacity equal to the evaluation cadence so each evaluation sees
// only its own batch, isolating the consecutive-breach counter from
// any evaluation's absolute p99.
func TestLatencySpikeDetectorNonConsecutiveBreachResets(t *testing.T) {
	d := NewLatencySpikeDetector(100, 100, 100, 2)

	feed := func(ageMs int64) bool {
		triggered := false
		for i := 0; i < 100; i++ {
			if d.AddSample(ageMs) {
				triggered = true
			}
		}
		return triggered
	}

	if feed(10) {
		t.Fatalf("cold batch must not trigger")
	}
	if feed(500) {
		t.Fatalf("a single breaching batch must not trigger on its own")
	}
	if feed(10) {
		t.Fatalf("a cold batch between breaches must reset the streak, not trigger")
	}
	if feed(500) {
		t.Fatalf("first breaching batch after a reset must not trigger")
	}
	if !feed(500) {
		t.Fatalf("second consecutive breaching batch must trigger")
	}
}
