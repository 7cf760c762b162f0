package forensics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const driftQueueCapacity = 1000

// driftSample is one line written to the drift samples file.
type driftSample struct {
	TS             string            `json:"ts"`
	Reason         string            `json:"reason"`
	Raw            map[string]any    `json:"raw"`
	MissingKeys    []string          `json:"missing_keys,omitempty"`
	TypeMismatches map[string]string `json:"type_mismatches,omitempty"`
	UnexpectedKeys []string          `json:"unexpected_keys,omitempty"`
}

// DriftSampleWriter appends schema-drift samples to a single JSONL
// file from its own background goroutine, so a flood of malformed
// frames never blocks the forensics hot path. Write is non-blocking:
// it enqueues onto a bounded queue and drops the sample if that queue
// is full; the background goroutine additionally rate-limits actual
// disk writes to at most one per minGap.
type DriftSampleWriter struct {
	minGap time.Duration
	q      chan driftSample
	done   chan struct{}
}

// NewDriftSampleWriter opens (creating if necessary) the file at path
// for append and starts the background writer goroutine.
func NewDriftSampleWriter(path string, minGap time.Duration) (*DriftSampleWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	w := &DriftSampleWriter{
		minGap: minGap,
		q:      make(chan driftSample, driftQueueCapacity),
		done:   make(chan struct{}),
	}
	go w.run(f)
	return w, nil
}

// Write enqueues one sample for the background writer. The sample is
// dropped silently if the queue is full, per the spec's backpressure
// policy for this off-hot-path writer.
func (w *DriftSampleWriter) Write(raw map[string]any, result DriftResult) {
	sample := driftSample{
		TS:             time.Now().UTC().Format(time.RFC3339Nano),
		Reason:         "schema_drift",
		Raw:            raw,
		MissingKeys:    result.MissingKeys,
		TypeMismatches: result.TypeMismatches,
		UnexpectedKeys: result.UnexpectedKeys,
	}
	select {
	case w.q <- sample:
	default:
	}
}

// Close stops accepting new samples and waits for the writer goroutine
// to drain the queue and close the file.
func (w *DriftSampleWriter) Close() error {
	close(w.q)
	<-w.done
	return nil
}

func (w *DriftSampleWriter) run(f *os.File) {
	defer close(w.done)
	defer f.Close()

	var lastWrite time.Time
	for sample := range w.q {
		now := time.Now()
		if !lastWrite.IsZero() && now.Sub(lastWrite) < w.minGap {
			continue
		}
		lastWrite = now

		line, err := json.Marshal(sample)
		if err != nil {
			continue
		}
		line = append(line, '\n')
		_, _ = f.Write(line)
	}
}
