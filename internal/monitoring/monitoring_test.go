package monitoring_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlens/tokenlens/internal/monitoring"
)

// ===== METRICS TESTS =====

func TestMetricsCollector(t *testing.T) {
	mc := monitoring.NewMetricsCollector()

	mc.RecordScanStart()
	mc.RecordScanStart()
	mc.RecordScanOutcome("completed", time.Second)
	mc.RecordScanOutcome("failed", time.Second)
	mc.RecordCacheServe()
	mc.RecordFetch(1024)
	mc.RecordFetch(2048)
	mc.RecordDedupHit()
	mc.RecordDedupMiss()
	mc.RecordInvalidDeclarations(3)
	mc.RecordEnrich(nil)
	mc.RecordEnrich(errors.New("provider down"))
	mc.RecordSweep(5)
	mc.RecordEventDropped()

	stats := mc.Stats()
	assert.Equal(t, int64(2), stats["scans_started"])
	assert.Equal(t, int64(1), stats["scans_completed"])
	assert.Equal(t, int64(1), stats["scans_failed"])
	assert.Equal(t, int64(1), stats["scans_cached"])
	assert.Equal(t, int64(2), stats["fetch_requests"])
	assert.Equal(t, int64(3072), stats["fetch_bytes"])
	assert.Equal(t, int64(1), stats["dedup_hits"])
	assert.Equal(t, int64(3), stats["invalid_declarations"])
	assert.Equal(t, int64(2), stats["enrich_calls"])
	assert.Equal(t, int64(1), stats["enrich_failures"])
	assert.Equal(t, int64(5), stats["sweep_deleted"])
	assert.Equal(t, int64(1), stats["events_dropped"])
}

// ===== TELEMETRY TESTS =====

func TestTrackerWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scans.jsonl")

	tracker, err := monitoring.NewTracker(monitoring.TelemetryConfig{
		Enabled: true,
		LogPath: path,
	})
	require.NoError(t, err)

	tracker.RecordScan(&monitoring.ScanEvent{
		ScanID:        "scan-1",
		Domain:        "example.test",
		Status:        "completed",
		TokensEmitted: 12,
		TotalMs:       850,
	})
	tracker.RecordSweep(&monitoring.SweepEvent{Deleted: 2, Scanned: 10})
	require.NoError(t, tracker.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := splitLines(data)
	require.Len(t, lines, 2)

	var ev monitoring.ScanEvent
	require.NoError(t, json.Unmarshal(lines[0], &ev))
	assert.Equal(t, "scan-1", ev.ScanID)
	assert.Equal(t, "example.test", ev.Domain)
	assert.Equal(t, 12, ev.TokensEmitted)
}

func TestTrackerDisabledWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scans.jsonl")

	tracker, err := monitoring.NewTracker(monitoring.TelemetryConfig{Enabled: false, LogPath: path})
	require.NoError(t, err)

	tracker.RecordScan(&monitoring.ScanEvent{ScanID: "scan-1"})

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
