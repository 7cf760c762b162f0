// Package recorder writes every decoded event to disk verbatim, for
// offline replay and debugging. Optional; off unless RECORD is enabled.
package recorder

import (
	"bufio"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

const queueCapacity = 10_000

// Recorder appends events to a JSONL file from a single background
// goroutine, so the socket-reading hot path never blocks on disk I/O.
// Record is non-blocking: a full queue drops the event rather than
// backing up the caller.
type Recorder struct {
	log  *zap.SugaredLogger
	path string
	q    chan *ticker.Ticker
	done chan struct{}
}

// New creates a Recorder that will write to path once Start is called.
func New(log *zap.SugaredLogger, path string) *Recorder {
	return &Recorder{
		log:  log,
		path: path,
		q:    make(chan *ticker.Ticker, queueCapacity),
		done: make(chan struct{}),
	}
}

// Start creates the file's parent directory and launches the writer
// goroutine. Call once.
func (r *Recorder) Start() error {
	dir := filepath.Dir(r.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	go r.run(f)
	if r.log != nil {
		r.log.Debugw("recorder started", "path", r.path)
	}
	return nil
}

// Record enqueues one event for writing. If the queue is full the event
// is dropped, with a warning logged for each drop when a logger is set.
func (r *Recorder) Record(e *ticker.Ticker) {
	select {
	case r.q <- e:
	default:
		if r.log != nil {
			r.log.Warnw("recorder queue full, dropping event")
		}
	}
}

// Close stops accepting new events and waits for the writer goroutine
// to flush and close the file.
func (r *Recorder) Close() {
	close(r.q)
	<-r.done
}

func (r *Recorder) run(f *os.File) {
	defer close(r.done)
	defer f.Close()

	w := bufio.NewWriterSize(f, 1024*1024)
	defer w.Flush()

	flushTick := time.NewTicker(time.Second)
	defer flushTick.Stop()

	pending := 0
	for {
		select {
		case e, ok := <-r.q:
			if !ok {
				return
			}
			line, err := e.MarshalJSON()
			if err != nil {
				continue
			}
			w.Write(line)
			w.WriteByte('\n')
			pending++
			if pending >= 200 {
				w.Flush()
				pending = 0
			}
		case <-flushTick.C:
			if pending > 0 {
				w.Flush()
				pending = 0
			}
		}
	}
}
