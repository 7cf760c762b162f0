// Package server runs the TCP accept loop that terminates the wire
// protocol: one goroutine per connection decodes frames, parses the
// JSON payload, stamps the receive timestamp, and publishes onto the
// Bus. Adapted from the teacher's outbound-websocket accept/dispatch
// shape in main.go into an inbound TCP listener.
package server

import (
	"context"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tanayshah11/mercury-stream/internal/bus"
	"github.com/tanayshah11/mercury-stream/internal/frame"
	"github.com/tanayshah11/mercury-stream/internal/recorder"
	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

// Config bounds the listener and shutdown behavior.
type Config struct {
	Addr         string
	DrainTimeout time.Duration
}

// Server accepts connections and publishes decoded ticks onto a Bus.
type Server struct {
	log      *zap.SugaredLogger
	cfg      Config
	b        *bus.Bus
	recorder *recorder.Recorder // optional, nil when RECORD=false

	ln net.Listener

	wg sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// New builds a Server publishing decoded events onto b. rec may be nil.
func New(log *zap.SugaredLogger, cfg Config, b *bus.Bus, rec *recorder.Recorder) *Server {
	return &Server{
		log:      log,
		cfg:      cfg,
		b:        b,
		recorder: rec,
		conns:    make(map[net.Conn]struct{}),
	}
}

// ListenAndServe binds cfg.Addr and accepts connections until ctx is
// canceled. It returns nil on a clean shutdown, or the bind or accept
// error.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.shutdown()
				return nil
			default:
				if s.log != nil {
					s.log.Warnw("accept failed", "error", err)
				}
				return err
			}
		}
		s.trackConn(conn)
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// shutdown closes every currently-tracked connection so blocked reads
// unblock, then waits up to DrainTimeout for in-flight handlers to
// finish publishing whatever frame they already read.
func (s *Server) shutdown() {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.DrainTimeout):
		if s.log != nil {
			s.log.Warnw("drain timeout exceeded, exiting with connections still in flight")
		}
	}
}

// handleConn owns one connection's read loop: decode frame, parse JSON,
// stamp, publish. A frame error is logged and closes the connection; a
// JSON parse error is logged and drops only that frame, and reading
// continues. Neither affects other connections.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrackConn(conn)
	defer conn.Close()
	defer s.recoverPanic(conn)

	dec := frame.NewDecoder(conn, frame.MaxFrame)
	for {
		payload, err := dec.Next()
		if err != nil {
			if err != io.EOF && s.log != nil {
				s.log.Debugw("frame decode error, closing connection", "error", err, "remote", conn.RemoteAddr())
			}
			return
		}

		e, err := ticker.Decode(payload)
		if err != nil {
			if s.log != nil {
				s.log.Debugw("malformed json payload, dropping frame", "error", err, "remote", conn.RemoteAddr())
			}
			continue
		}
		e.StampRecv(time.Now())

		s.b.Publish(e)
		if s.recorder != nil {
			s.recorder.Record(e)
		}
	}
}

func (s *Server) recoverPanic(conn net.Conn) {
	if r := recover(); r != nil {
		if s.log != nil {
			s.log.Errorw("panic in connection handler, closing connection",
				"error", r, "remote", conn.RemoteAddr(), "stack", string(debug.Stack()))
		}
	}
}

