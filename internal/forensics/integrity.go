package forensics

// symbolState is the per-product_id tracking state for D2/D3/D4.
type symbolState struct {
	tradeIDs     *lruSet
	lastTimeMs   int64
	haveLastTime bool
	lastSequence int64
	haveLastSeq  bool
}

// IntegrityTracker runs the duplicate, out-of-order, and sequence-gap
// checks, one state machine per product_id.
type IntegrityTracker struct {
	lruMax int
	states map[string]*symbolState
}

// NewIntegrityTracker builds a tracker whose per-symbol duplicate LRU
// caps at lruMax entries.
func NewIntegrityTracker(lruMax int) *IntegrityTracker {
	return &IntegrityTracker{lruMax: lruMax, states: make(map[string]*symbolState)}
}

func (t *IntegrityTracker) stateFor(productID string) *symbolState {
	s, ok := t.states[productID]
	if !ok {
		s = &symbolState{tradeIDs: newLRUSet(t.lruMax)}
		t.states[productID] = s
	}
	return s
}

// CheckResult reports which of D2/D3/D4 fired, and the gap size when D4
// fires (current - last - 1, per the spec).
type CheckResult struct {
	Duplicate   bool
	OutOfOrder  bool
	Gap         bool
	GapSize     int64
}

// Check runs all three integrity detectors for one event and updates
// per-symbol state. timeMs is the exchange-assigned event time,
// millisecond resolution.
func (t *IntegrityTracker) Check(productID string, tradeID, sequence, timeMs int64) CheckResult {
	s := t.stateFor(productID)
	var res CheckResult

	if tradeID != 0 {
		if s.tradeIDs.Contains(tradeID) {
			res.Duplicate = true
		} else {
			s.tradeIDs.Add(tradeID)
		}
	}

	if timeMs != 0 {
		if s.haveLastTime && timeMs < s.lastTimeMs {
			res.OutOfOrder = true
		}
		if !s.haveLastTime || timeMs > s.lastTimeMs {
			s.lastTimeMs = timeMs
			s.haveLastTime = true
		}
	}

	if sequence != 0 {
		if s.haveLastSeq && sequence > s.lastSequence+1 {
			res.Gap = true
			res.GapSize = sequence - s.lastSequence - 1
		}
		s.lastSequence = sequence
		s.haveLastSeq = true
	}

	return res
}
