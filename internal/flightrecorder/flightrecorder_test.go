package flightrecorder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

func newTestRecorder(t *testing.T, pre, post int, cooldown time.Duration, clock func() time.Time) (*FlightRecorder, string) {
	dir := t.TempDir()
	fr := New(nil, Config{
		IncidentsDir: dir,
		PreEvents:    pre,
		PostEvents:   post,
		Cooldown:     cooldown,
	}, WithClock(clock))
	return fr, dir
}

func tick(id int64, symbol string) *ticker.Ticker {
	return &ticker.Ticker{TradeID: id, ProductID: symbol}
}

func TestPreAndPostSizes(t *testing.T) {
	fr, dir := newTestRecorder(t, 5, 3, time.Minute, time.Now)

	for i := int64(1); i <= 10; i++ {
		fr.Record(tick(i, "BTC-USD"), Stats{})
	}
	triggered := fr.Trigger("duplicate_detected", tick(11, "BTC-USD"))
	require.True(t, triggered)

	for i := int64(12); i <= 14; i++ {
		fr.Record(tick(i, "BTC-USD"), Stats{})
	}

	require.Equal(t, Cooldown, fr.State())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	meta := readMeta(t, filepath.Join(dir, entries[0].Name()))
	require.LessOrEqual(t, meta.PreCount, 5)
	require.LessOrEqual(t, meta.PostCount, 3)
	require.Equal(t, 5, meta.PreCount)
	require.Equal(t, 3, meta.PostCount)
	require.Equal(t, "duplicate_detected", meta.Type)
}

func TestAtomicBundleNoTmpSuffixSurvives(t *testing.T) {
	fr, dir := newTestRecorder(t, 2, 2, time.Minute, time.Now)

	fr.Record(tick(1, "BTC-USD"), Stats{})
	fr.Trigger("sequence_gap", tick(2, "BTC-USD"))
	fr.Record(tick(3, "BTC-USD"), Stats{})
	fr.Record(tick(4, "BTC-USD"), Stats{})

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".tmp")
		require.FileExists(t, filepath.Join(dir, e.Name(), "events.jsonl"))
		require.FileExists(t, filepath.Join(dir, e.Name(), "meta.json"))
	}
}

func TestCooldownSuppressesTrigger(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	fr, dir := newTestRecorder(t, 2, 1, time.Minute, clock)

	fr.Trigger("duplicate_detected", tick(1, "BTC-USD"))
	fr.Record(tick(2, "BTC-USD"), Stats{}) // completes post=1, -> Cooldown

	require.Equal(t, Cooldown, fr.State())
	triggered := fr.Trigger("duplicate_detected", tick(3, "BTC-USD"))
	require.False(t, triggered)

	// Still within cooldown: Record should not flip state back to Idle.
	fr.Record(tick(4, "BTC-USD"), Stats{})
	require.Equal(t, Cooldown, fr.State())

	entries, _ := os.ReadDir(dir)
	require.Len(t, entries, 1)
}

func TestCooldownExpiresAllowsSecondIncident(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	fr, dir := newTestRecorder(t, 2, 1, time.Minute, clock)

	fr.Trigger("duplicate_detected", tick(1, "BTC-USD"))
	fr.Record(tick(2, "BTC-USD"), Stats{}) // -> Cooldown

	now = now.Add(90 * time.Second) // past cooldown
	fr.Record(tick(3, "BTC-USD"), Stats{}) // -> Idle
	require.Equal(t, Idle, fr.State())

	triggered := fr.Trigger("duplicate_detected", tick(4, "BTC-USD"))
	require.True(t, triggered)
	fr.Record(tick(5, "BTC-USD"), Stats{}) // -> Cooldown again

	entries, _ := os.ReadDir(dir)
	require.Len(t, entries, 2)
}

func TestShutdownFinalizesPartialCapture(t *testing.T) {
	fr, dir := newTestRecorder(t, 2, 100, time.Minute, time.Now)

	fr.Trigger("latency_spike", tick(1, "BTC-USD"))
	fr.Record(tick(2, "BTC-USD"), Stats{})
	fr.Record(tick(3, "BTC-USD"), Stats{})
	require.Equal(t, Capturing, fr.State())

	fr.Shutdown(Stats{})
	require.Equal(t, Cooldown, fr.State())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	m := readMeta(t, filepath.Join(dir, entries[0].Name()))
	require.Equal(t, 2, m.PostCount) // partial: wanted 100, only got 2
}

func readMeta(t *testing.T, dir string) meta {
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	require.NoError(t, err)
	var m meta
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}
