package flightrecorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

// meta is the on-disk shape of meta.json.
type meta struct {
	Type         string `json:"type"`
	TriggeredAt  string `json:"triggered_at"`
	TriggerEvent any    `json:"trigger_event"`
	PreCount     int    `json:"pre_count"`
	PostCount    int    `json:"post_count"`
	Symbol       string `json:"symbol"`
	Stats        Stats  `json:"stats"`
}

// writeBundle atomically writes one incident bundle: it builds the
// directory under a ".tmp" suffix, writes events.jsonl then meta.json,
// and renames into place last. No partial bundle is ever observable
// under the final (non-.tmp) name.
func writeBundle(incidentsDir, incidentType, symbol string, trigger *ticker.Ticker, pre, post []*ticker.Ticker, stats Stats, newUUID func() uuid.UUID) error {
	now := time.Now().UTC()
	id := now.Format("20060102_150405") + "_" + newUUID().String()[:8]

	finalDir := filepath.Join(incidentsDir, id)
	tmpDir := finalDir + ".tmp"

	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return fmt.Errorf("mkdir incident dir: %w", err)
	}

	if err := writeEvents(filepath.Join(tmpDir, "events.jsonl"), pre, post); err != nil {
		_ = os.RemoveAll(tmpDir)
		return fmt.Errorf("write events.jsonl: %w", err)
	}

	m := meta{
		Type:         incidentType,
		TriggeredAt:  now.Format(time.RFC3339Nano),
		TriggerEvent: trigger,
		PreCount:     len(pre),
		PostCount:    len(post),
		Symbol:       symbol,
		Stats:        stats,
	}
	if err := writeMeta(filepath.Join(tmpDir, "meta.json"), m); err != nil {
		_ = os.RemoveAll(tmpDir)
		return fmt.Errorf("write meta.json: %w", err)
	}

	if err := os.Rename(tmpDir, finalDir); err != nil {
		_ = os.RemoveAll(tmpDir)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func writeEvents(path string, pre, post []*ticker.Ticker) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, e := range pre {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	for _, e := range post {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func writeMeta(path string, m meta) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
