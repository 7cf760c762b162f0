package recorder

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

func TestRecordAndFlushOnClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "events.jsonl")

	r := New(nil, path)
	require.NoError(t, r.Start())

	for i := 0; i < 10; i++ {
		tk, err := ticker.Decode([]byte(`{"trade_id":` + strconv.Itoa(i) + `,"product_id":"BTC-USD"}`))
		require.NoError(t, err)
		r.Record(tk)
	}
	r.Close()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	sc := bufio.NewScanner(f)
	lines := 0
	for sc.Scan() {
		lines++
	}
	require.Equal(t, 10, lines)
}

func TestRecordDropsWhenQueueFull(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	r := New(nil, path)
	r.q = make(chan *ticker.Ticker) // unbuffered, no Start(), nothing draining

	tk, _ := ticker.Decode([]byte(`{"trade_id":1}`))
	done := make(chan struct{})
	go func() {
		r.Record(tk) // must not block despite nothing reading r.q
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full/undrained queue")
	}
}
