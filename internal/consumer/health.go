package consumer

import (
	"time"

	"go.uber.org/zap"

	"github.com/tanayshah11/mercury-stream/internal/bus"
	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

// BusStats is the subset of Bus methods Health reports on, kept as an
// interface so tests can supply a fake.
type BusStats interface {
	DropsTotal() uint64
	SubscriberCount() int
	QueueDepths() map[string]int
}

// Health monitors events-per-second throughput, per-subscriber queue
// depth, and total drops across the bus.
type Health struct {
	log       *zap.SugaredLogger
	sub       *bus.Subscription
	bus       BusStats
	logEvery  time.Duration
	count     int
	lastPrice string
	lastLog   time.Time
	now       func() time.Time

	onStats func(eventsPerSec float64)
}

// NewHealth builds a Health consumer that logs a summary every logEvery
// wall-clock interval. onStats, if set, is invoked alongside each
// summary with the just-computed events-per-second figure so the
// caller can push it to telemetry without this package depending on
// the telemetry package.
func NewHealth(log *zap.SugaredLogger, sub *bus.Subscription, b BusStats, logEvery time.Duration, onStats func(eventsPerSec float64)) *Health {
	return &Health{log: log, sub: sub, bus: b, logEvery: logEvery, lastLog: time.Now(), now: time.Now, onStats: onStats}
}

func (h *Health) Run() {
	for {
		e, ok := h.sub.Receive()
		if !ok {
			return
		}
		h.handle(e)
	}
}

func (h *Health) handle(e *ticker.Ticker) {
	h.count++
	if !e.Price.IsZero() {
		h.lastPrice = e.Price.String()
	}

	now := h.now()
	if dt := now.Sub(h.lastLog); dt >= h.logEvery {
		eps := float64(h.count) / dt.Seconds()
		h.log.Infow("health summary",
			"events_per_sec", eps,
			"last_price", h.lastPrice,
			"drops_total", h.bus.DropsTotal(),
			"subscribers", h.bus.SubscriberCount(),
			"queue_depths", h.bus.QueueDepths(),
		)
		h.count = 0
		h.lastLog = now

		if h.onStats != nil {
			h.onStats(eps)
		}
	}
}
