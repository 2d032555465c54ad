// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by the orchestrator, API, and monitoring
// packages. Defined here ONCE to avoid duplication and circular imports.
package monitoring

import "time"

// LoggerConfig configures the zerolog wrapper.
type LoggerConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// TelemetryConfig configures JSONL scan-event recording.
type TelemetryConfig struct {
	Enabled     bool
	LogPath     string // Scan events JSONL file
	LogToStdout bool   // Also log event summaries to stdout
}

// ScanEvent captures one scan run end to end.
type ScanEvent struct {
	ScanID    string    `json:"scan_id"`
	Domain    string    `json:"domain"`
	Method    string    `json:"method"` // static, computed
	Quality   string    `json:"quality"`
	Timestamp time.Time `json:"timestamp"`

	Status    string `json:"status"` // completed, failed, canceled
	FaultKind string `json:"fault_kind,omitempty"`
	Error     string `json:"error,omitempty"`

	SourceCount int   `json:"source_count"`
	CSSBytes    int64 `json:"css_bytes"`
	DedupHits   int   `json:"dedup_hits"`

	Observations        int   `json:"observations"`
	InvalidDeclarations int64 `json:"invalid_declarations"`
	TokensEmitted       int   `json:"tokens_emitted"`

	VersionNumber int     `json:"version_number,omitempty"`
	Added         int     `json:"added"`
	Removed       int     `json:"removed"`
	Modified      int     `json:"modified"`
	Consensus     float64 `json:"consensus"`

	Warnings []string `json:"warnings,omitempty"`

	FetchMs   int64 `json:"fetch_ms"`
	ParseMs   int64 `json:"parse_ms"`
	AnalyzeMs int64 `json:"analyze_ms"`
	DiffMs    int64 `json:"diff_ms"`
	TotalMs   int64 `json:"total_ms"`
}

// SweepEvent captures one CSS store GC pass.
type SweepEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Deleted   int64     `json:"deleted"`
	Scanned   int64     `json:"scanned"`
	Duration  int64     `json:"duration_ms"`
}
