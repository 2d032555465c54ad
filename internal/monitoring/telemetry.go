// Package monitoring - telemetry.go records scan events to JSONL files.
//
// DESIGN: Tracker writes structured events as JSONL (one JSON object per line):
//   - ScanEvent:  every scan run with phase timings and diff counts
//   - SweepEvent: every CSS store GC pass
//
// Events are appended immediately after each event for real-time tailing.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Tracker handles telemetry event recording to file and stdout.
type Tracker struct {
	config    TelemetryConfig
	logPath   string
	scanCount int
	mu        sync.Mutex
}

// NewTracker creates a new telemetry tracker.
func NewTracker(cfg TelemetryConfig) (*Tracker, error) {
	t := &Tracker{config: cfg}

	if !cfg.Enabled {
		return t, nil
	}

	if cfg.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0750); err != nil {
			return nil, err
		}
		t.logPath = cfg.LogPath
		if _, err := os.Stat(cfg.LogPath); os.IsNotExist(err) {
			if f, err := os.Create(cfg.LogPath); err == nil {
				f.Close()
			}
		}
	}

	return t, nil
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

// RecordScan records a finished scan.
func (t *Tracker) RecordScan(event *ScanEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.config.LogToStdout {
		scanID := event.ScanID
		if len(scanID) > 8 {
			scanID = scanID[:8]
		}
		log.Info().
			Str("scan_id", scanID).
			Str("domain", event.Domain).
			Str("status", event.Status).
			Int("tokens", event.TokensEmitted).
			Int64("total_ms", event.TotalMs).
			Msg("telemetry")
	}

	if t.logPath != "" {
		if err := appendJSONL(t.logPath, event); err != nil {
			log.Error().Err(err).Str("path", t.logPath).Msg("telemetry: failed to write scan event")
		} else {
			t.scanCount++
		}
	}
}

// RecordSweep records a CSS store GC pass.
func (t *Tracker) RecordSweep(event *SweepEvent) {
	if !t.config.Enabled || t.logPath == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := appendJSONL(t.logPath, event); err != nil {
		log.Error().Err(err).Str("path", t.logPath).Msg("telemetry: failed to write sweep event")
	}
}

// Close is kept for interface compatibility.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.logPath != "" && t.scanCount > 0 {
		log.Info().
			Str("path", t.logPath).
			Int("events", t.scanCount).
			Msg("telemetry: session complete")
	}

	return nil
}
