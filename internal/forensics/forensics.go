// Package forensics runs the five anomaly detectors against the live
// event stream and drives the flight recorder's incident captures.
package forensics

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tanayshah11/mercury-stream/internal/bus"
	"github.com/tanayshah11/mercury-stream/internal/flightrecorder"
	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

// Counters tracks the per-process anomaly tallies named in the spec.
// Lock-free atomic increments so Health or the metrics flush task can
// read them from another goroutine without contending with the
// forensics consumer.
type Counters struct {
	processed int64
	drift     int64
	dup       int64
	ooo       int64
	gaps      int64
	spikes    int64
	incidents int64
}

func (c *Counters) Snapshot() flightrecorder.Stats {
	return flightrecorder.Stats{
		Processed: atomic.LoadInt64(&c.processed),
		Drift:     atomic.LoadInt64(&c.drift),
		Dup:       atomic.LoadInt64(&c.dup),
		Ooo:       atomic.LoadInt64(&c.ooo),
		Gaps:      atomic.LoadInt64(&c.gaps),
		Spikes:    atomic.LoadInt64(&c.spikes),
		Incidents: atomic.LoadInt64(&c.incidents),
	}
}

// Config bounds the detectors and wires their output sinks.
type Config struct {
	DuplicateLRUMax          int
	LatencyWindow            int
	LatencySpikeThresholdMs  int64
	LatencyEvalEvery         int
	LatencyConsecutiveSpikes int
	LogIntervalEvents        int
	DriftSampleFile          string
	DriftRateLimit           time.Duration

	OnAnomaly  func(kind string)
	OnEvent    func(ageMs *int64)
}

// Forensics is the consumer that runs D1-D5 and owns the flight
// recorder. All state here belongs to a single goroutine; per the
// spec, no cross-detector locking is required.
type Forensics struct {
	log     *zap.SugaredLogger
	sub     *bus.Subscription
	cfg     Config
	counters Counters

	integrity    *IntegrityTracker
	latency      *LatencySpikeDetector
	driftWriter  *DriftSampleWriter
	flight       *flightrecorder.FlightRecorder

	eventsSeen int
}

// New builds a Forensics consumer bound to sub, wired to the given
// flight recorder.
func New(log *zap.SugaredLogger, sub *bus.Subscription, cfg Config, fr *flightrecorder.FlightRecorder) (*Forensics, error) {
	dw, err := NewDriftSampleWriter(cfg.DriftSampleFile, cfg.DriftRateLimit)
	if err != nil {
		return nil, err
	}

	return &Forensics{
		log:         log,
		sub:         sub,
		cfg:         cfg,
		integrity:   NewIntegrityTracker(cfg.DuplicateLRUMax),
		latency:     NewLatencySpikeDetector(cfg.LatencyWindow, cfg.LatencySpikeThresholdMs, cfg.LatencyEvalEvery, cfg.LatencyConsecutiveSpikes),
		driftWriter: dw,
		flight:      fr,
	}, nil
}

// Counters exposes the current anomaly tallies.
func (f *Forensics) Counters() *Counters { return &f.counters }

// Close releases the drift sample writer's file handle.
func (f *Forensics) Close() error { return f.driftWriter.Close() }

// Run drains the subscription until it's closed (process shutdown).
func (f *Forensics) Run() {
	for {
		e, ok := f.sub.Receive()
		if !ok {
			return
		}
		f.handle(e)
	}
}

func (f *Forensics) handle(e *ticker.Ticker) {
	atomic.AddInt64(&f.counters.processed, 1)
	f.eventsSeen++

	// The ring buffer is fed, and any in-flight capture advanced,
	// before detectors run, per the spec.
	f.flight.Record(e, f.counters.Snapshot())

	raw := rawOf(e)

	// D1: schema drift. Not an error, never triggers.
	drift := checkSchemaDrift(raw)
	if drift.IsDrift {
		atomic.AddInt64(&f.counters.drift, 1)
		f.driftWriter.Write(raw, drift)
		f.anomaly("drift")
	}

	timeMs := parseEventTimeMs(e.Time)
	res := f.integrity.Check(e.ProductID, e.TradeID, e.Sequence, timeMs)

	if res.Duplicate {
		atomic.AddInt64(&f.counters.dup, 1)
		f.anomaly("dup")
		if f.flight.Trigger("duplicate_detected", e) {
			atomic.AddInt64(&f.counters.incidents, 1)
		}
	}
	if res.OutOfOrder {
		// Counted only; does not trigger, per the spec.
		atomic.AddInt64(&f.counters.ooo, 1)
		f.anomaly("ooo")
	}
	if res.Gap {
		atomic.AddInt64(&f.counters.gaps, res.GapSize)
		f.anomaly("gaps")
		if f.flight.Trigger("sequence_gap", e) {
			atomic.AddInt64(&f.counters.incidents, 1)
		}
	}

	if e.IngestTsMs > 0 && e.RecvTsMs > 0 {
		age := e.RecvTsMs - e.IngestTsMs
		if f.cfg.OnEvent != nil {
			f.cfg.OnEvent(&age)
		}
		if f.latency.AddSample(age) {
			atomic.AddInt64(&f.counters.spikes, 1)
			f.anomaly("spikes")
			if f.flight.Trigger("latency_spike", e) {
				atomic.AddInt64(&f.counters.incidents, 1)
			}
		}
	} else if f.cfg.OnEvent != nil {
		f.cfg.OnEvent(nil)
	}

	if f.cfg.LogIntervalEvents > 0 && f.eventsSeen%f.cfg.LogIntervalEvents == 0 {
		f.logSummary()
	}
}

func (f *Forensics) anomaly(kind string) {
	if f.cfg.OnAnomaly != nil {
		f.cfg.OnAnomaly(kind)
	}
}

func (f *Forensics) logSummary() {
	s := f.counters.Snapshot()
	f.log.Infow("forensics summary",
		"processed", s.Processed,
		"drift", s.Drift,
		"dup", s.Dup,
		"ooo", s.Ooo,
		"gaps", s.Gaps,
		"spikes", s.Spikes,
		"incidents", s.Incidents,
	)
}

// rawOf recovers the originally decoded JSON map for schema checking.
// Ticker doesn't expose it directly, so we round-trip through its
// lossless marshaler.
func rawOf(e *ticker.Ticker) map[string]any {
	data, err := e.MarshalJSON()
	if err != nil {
		return map[string]any{}
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return map[string]any{}
	}
	return raw
}

func parseEventTimeMs(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return 0
		}
	}
	return t.UnixMilli()
}
