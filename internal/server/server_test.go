package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tanayshah11/mercury-stream/internal/bus"
	"github.com/tanayshah11/mercury-stream/internal/frame"
)

func startServer(t *testing.T) (*Server, *bus.Subscription, string, context.CancelFunc) {
	b := bus.New(100)
	sub := b.Subscribe("test")

	s := New(nil, Config{Addr: "127.0.0.1:0", DrainTimeout: time.Second}, b, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	s.cfg.Addr = addr

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = s.ListenAndServe(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	return s, sub, addr, cancel
}

func TestServerPublishesDecodedFrames(t *testing.T) {
	_, sub, addr, cancel := startServer(t)
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	enc := frame.NewEncoder(conn)
	require.NoError(t, enc.Write([]byte(`{"trade_id":1,"product_id":"BTC-USD","price":"100"}`)))

	e, ok := sub.Receive()
	require.True(t, ok)
	require.Equal(t, "BTC-USD", e.ProductID)
	require.True(t, e.RecvTsMs > 0)
}

func TestServerClosesConnectionOnFrameError(t *testing.T) {
	_, _, addr, cancel := startServer(t)
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	// Oversize length header: server must close this connection without
	// affecting the listener itself.
	big := make([]byte, 4)
	big[0] = 0xFF
	_, err = conn.Write(big)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err) // connection closed by server
}

func TestServerContinuesAcceptingAfterOneConnectionErrors(t *testing.T) {
	_, sub, addr, cancel := startServer(t)
	defer cancel()

	bad, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	bad.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	bad.Close()

	good, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer good.Close()

	enc := frame.NewEncoder(good)
	require.NoError(t, enc.Write([]byte(`{"trade_id":2,"product_id":"ETH-USD"}`)))

	e, ok := sub.Receive()
	require.True(t, ok)
	require.Equal(t, "ETH-USD", e.ProductID)
}

func TestShutdownStopsAccepting(t *testing.T) {
	s, sub, addr, cancel := startServer(t)
	_ = s

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	cancel()
	time.Sleep(200 * time.Millisecond)

	// Accept loop has stopped; dialing again should fail.
	_, err = net.Dial("tcp", addr)
	require.Error(t, err)
	_ = sub
}
