// Package opsfeed exposes a read-only websocket tail of the live event
// stream for operator dashboards. It is reframed from the teacher's
// outbound exchange-facing dialer into an inbound server: this
// component only ever pushes data out to a connected operator, it
// never dials anywhere itself.
package opsfeed

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tanayshah11/mercury-stream/internal/bus"
	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

const (
	writeTimeout  = 5 * time.Second
	pingInterval  = 10 * time.Second
	subQueueDepth = 256
)

var upgrader = websocket.Upgrader{
	// Operator tooling only, same trust boundary as /metrics: any
	// origin on the operator network may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// incidentEvent is pushed to a connected feed whenever NotifyIncident is
// called (the processor calls it once per captured incident bundle),
// alongside the regular tick stream.
type incidentEvent struct {
	Kind string `json:"kind"`
	Type string `json:"type"`
}

// Feed fans the Bus out to any number of connected operator websockets.
type Feed struct {
	log *zap.SugaredLogger
	b   *bus.Bus

	notify chan incidentEvent
}

// New builds a Feed reading ticks from b.
func New(log *zap.SugaredLogger, b *bus.Bus) *Feed {
	return &Feed{
		log:    log,
		b:      b,
		notify: make(chan incidentEvent, subQueueDepth),
	}
}

// NotifyIncident queues an incident notification on the feed's single
// shared queue. Each notification is delivered to one connected
// dashboard, whichever handler reads it first; it is not copied to
// every connection. Non-blocking: a full notify queue drops the
// notification rather than stalling the caller (the forensics
// consumer, via a hook, never the operator feed).
func (f *Feed) NotifyIncident(kind, incidentType string) {
	select {
	case f.notify <- incidentEvent{Kind: kind, Type: incidentType}:
	default:
	}
}

// Handler upgrades to a websocket and streams ticks (and incident
// notifications) until the client disconnects or the server shuts down.
func (f *Feed) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			if f.log != nil {
				f.log.Warnw("opsfeed upgrade failed", "error", err)
			}
			return
		}
		defer conn.Close()

		sub := f.b.SubscribeWithCapacity("opsfeed", subQueueDepth)
		defer f.b.Unsubscribe(sub)

		ticks := make(chan *ticker.Ticker)
		go func() {
			defer close(ticks)
			for {
				e, ok := sub.Receive()
				if !ok {
					return
				}
				ticks <- e
			}
		}()

		ping := time.NewTicker(pingInterval)
		defer ping.Stop()

		for {
			select {
			case e, ok := <-ticks:
				if !ok {
					return
				}
				if err := f.writeJSON(conn, e); err != nil {
					return
				}
			case n := <-f.notify:
				if err := f.writeJSON(conn, n); err != nil {
					return
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}

func (f *Feed) writeJSON(conn *websocket.Conn, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return nil // drop, don't kill the connection over one bad marshal
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, line)
}
