// Package flightrecorder implements the pre/post incident capture
// pipeline: a fixed-capacity ring buffer of recent events and a state
// machine that, once triggered, captures a further window of events
// and writes both as a self-contained bundle to disk.
package flightrecorder

import "github.com/tanayshah11/mercury-stream/internal/ticker"

// ring is a fixed-capacity circular buffer of the most recently pushed
// events, overwriting the oldest entry once full. Single-owner (the
// Forensics consumer), so no locking is required.
type ring struct {
	buf   []*ticker.Ticker
	cap   int
	head  int // index of the oldest element
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]*ticker.Ticker, capacity), cap: capacity}
}

// Push appends e, evicting the oldest element if the ring is full.
func (r *ring) Push(e *ticker.Ticker) {
	if r.cap == 0 {
		return
	}
	idx := (r.head + r.count) % r.cap
	if r.count == r.cap {
		r.head = (r.head + 1) % r.cap
	} else {
		r.count++
	}
	r.buf[idx] = e
}

// Snapshot returns a copy of the ring's contents in arrival order. A
// copy, not a view, so the pre-window capture is stable even though the
// spec pins this to a single task and races cannot occur in practice.
func (r *ring) Snapshot() []*ticker.Ticker {
	out := make([]*ticker.Ticker, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%r.cap]
	}
	return out
}

// Len returns the number of elements currently held.
func (r *ring) Len() int { return r.count }
