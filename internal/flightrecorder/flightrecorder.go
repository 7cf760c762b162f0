package flightrecorder

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

// State names the three states of the incident capture state machine.
type State int

const (
	Idle State = iota
	Capturing
	Cooldown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Cooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// Stats is the detector-counter snapshot embedded in meta.json.
type Stats struct {
	Processed int64 `json:"processed"`
	Drift     int64 `json:"drift"`
	Dup       int64 `json:"dup"`
	Ooo       int64 `json:"ooo"`
	Gaps      int64 `json:"gaps"`
	Spikes    int64 `json:"spikes"`
	Incidents int64 `json:"incidents"`
}

// Config bounds the ring buffer, post-trigger capture size, and the
// minimum interval between incidents.
type Config struct {
	IncidentsDir string
	PreEvents    int
	PostEvents   int
	Cooldown     time.Duration
}

// FlightRecorder owns the pre-window ring buffer and the incident
// capture state machine described in the spec's FlightRecorder state
// table. It is single-owner: only the Forensics consumer calls into it,
// so no internal locking is required.
type FlightRecorder struct {
	log *zap.SugaredLogger

	incidentsDir string
	preCap       int
	postCap      int
	cooldown     time.Duration

	ring  *ring
	state State

	incidentType  string
	triggerEvent  *ticker.Ticker
	preSnapshot   []*ticker.Ticker
	post          []*ticker.Ticker
	cooldownSince time.Time

	now func() time.Time

	breaker *gobreaker.CircuitBreaker

	onIncident       func()
	onCaptureFailure func()
}

// Option customizes a FlightRecorder at construction time.
type Option func(*FlightRecorder)

// WithClock overrides time.Now, used by tests to control cooldown
// timing deterministically.
func WithClock(now func() time.Time) Option {
	return func(f *FlightRecorder) { f.now = now }
}

// WithIncidentHook registers a callback invoked once per finalized
// incident bundle, used to update telemetry without this package
// depending on the telemetry package.
func WithIncidentHook(hook func()) Option {
	return func(f *FlightRecorder) { f.onIncident = hook }
}

// WithCaptureFailureHook registers a callback invoked once per
// abandoned bundle (filesystem error during finalize).
func WithCaptureFailureHook(hook func()) Option {
	return func(f *FlightRecorder) { f.onCaptureFailure = hook }
}

// New builds a FlightRecorder per cfg.
func New(log *zap.SugaredLogger, cfg Config, opts ...Option) *FlightRecorder {
	f := &FlightRecorder{
		log:          log,
		incidentsDir: cfg.IncidentsDir,
		preCap:       cfg.PreEvents,
		postCap:      cfg.PostEvents,
		cooldown:     cfg.Cooldown,
		ring:         newRing(cfg.PreEvents),
		state:        Idle,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}

	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "flightrecorder-writer",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if f.log != nil {
				f.log.Warnw("flight recorder writer circuit breaker state change", "from", from.String(), "to", to.String())
			}
		},
	})

	return f
}

// State returns the current FSM state, used by tests.
func (f *FlightRecorder) State() State { return f.state }

// Record feeds one event through the state machine: pushed to the ring
// in Idle/Cooldown, pushed to the ring and appended to the post-capture
// buffer in Capturing. Must be called for every event the Forensics
// consumer sees, before running detectors, per the spec.
func (f *FlightRecorder) Record(e *ticker.Ticker, stats Stats) {
	f.ring.Push(e)

	switch f.state {
	case Capturing:
		f.post = append(f.post, e)
		if len(f.post) >= f.postCap {
			f.finalize(stats)
		}
	case Cooldown:
		if f.now().Sub(f.cooldownSince) >= f.cooldown {
			f.state = Idle
		}
	}
}

// Trigger attempts to start an incident capture. It is ignored (returns
// false) unless the recorder is Idle: a trigger while Capturing or
// Cooldown is a no-op, per the spec's state table.
func (f *FlightRecorder) Trigger(incidentType string, triggerEvent *ticker.Ticker) bool {
	if f.state != Idle {
		return false
	}
	f.state = Capturing
	f.incidentType = incidentType
	f.triggerEvent = triggerEvent
	f.preSnapshot = f.ring.Snapshot()
	f.post = f.post[:0]
	if f.log != nil {
		f.log.Warnw("incident triggered", "type", incidentType, "symbol", triggerEvent.ProductID)
	}
	return true
}

// Shutdown finalizes any in-flight incident best-effort, with
// post_count reflecting whatever was actually captured, leaving the
// recorder in Cooldown; later Record calls are still processed. Called
// once from the processor's shutdown path in cmd/processor.
func (f *FlightRecorder) Shutdown(stats Stats) {
	if f.state == Capturing {
		f.finalize(stats)
	}
}

func (f *FlightRecorder) finalize(stats Stats) {
	pre := f.preSnapshot
	post := append([]*ticker.Ticker(nil), f.post...)
	incidentType := f.incidentType
	triggerEvent := f.triggerEvent
	symbol := ""
	if triggerEvent != nil {
		symbol = triggerEvent.ProductID
	}

	_, err := f.breaker.Execute(func() (any, error) {
		return nil, f.writeBundleWithRetry(incidentType, symbol, triggerEvent, pre, post, stats)
	})
	if err != nil {
		if f.log != nil {
			f.log.Warnw("incident bundle abandoned", "error", err, "type", incidentType)
		}
		if f.onCaptureFailure != nil {
			f.onCaptureFailure()
		}
	} else {
		if f.onIncident != nil {
			f.onIncident()
		}
	}

	f.state = Cooldown
	f.cooldownSince = f.now()
	f.post = nil
	f.preSnapshot = nil
	f.incidentType = ""
	f.triggerEvent = nil
}

func (f *FlightRecorder) writeBundleWithRetry(incidentType, symbol string, trigger *ticker.Ticker, pre, post []*ticker.Ticker, stats Stats) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second

	return backoff.Retry(func() error {
		return writeBundle(f.incidentsDir, incidentType, symbol, trigger, pre, post, stats, uuid.New)
	}, b)
}
