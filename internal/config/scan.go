// Scan configuration - orchestrator limits, CSS store TTL, analyzer thresholds.
package config

import (
	"fmt"
	"time"
)

// CSSStoreConfig contains content-addressed store settings.
type CSSStoreConfig struct {
	TTLDays       int           `yaml:"ttl_days"`       // Body retention after last reference (CSS_TTL_DAYS)
	SweepInterval time.Duration `yaml:"sweep_interval"` // Background GC cadence
}

// Validate checks store configuration.
func (s *CSSStoreConfig) Validate() error {
	if s.TTLDays <= 0 {
		return fmt.Errorf("css_store.ttl_days must be positive")
	}
	if s.SweepInterval <= 0 {
		return fmt.Errorf("css_store.sweep_interval is required")
	}
	return nil
}

// RetryConfig controls in-phase retries for transient failures.
// Delays follow base, 4x base, 16x base (250ms -> 1s -> 4s at the default).
type RetryConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// Delay returns the backoff before the given attempt (1-based).
func (r RetryConfig) Delay(attempt int) time.Duration {
	d := r.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 4
	}
	return d
}

// ScanConfig contains orchestrator settings.
type ScanConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"` // Scan slots (MAX_CONCURRENT_SCANS)
	QueueDepth    int `yaml:"queue_depth"`    // Buffered submissions before Submit blocks

	RevalidateAfterMS int64 `yaml:"revalidate_after_ms"` // Serve cached result inside this window
	HardExpiryMS      int64 `yaml:"hard_expiry_ms"`      // Force a fresh scan beyond this window

	ParseTimeout           time.Duration `yaml:"parse_timeout"`
	AnalyzeTimeout         time.Duration `yaml:"analyze_timeout"`
	DiffTimeout            time.Duration `yaml:"diff_timeout"`
	OverallTimeoutStatic   time.Duration `yaml:"overall_timeout_static"`
	OverallTimeoutComputed time.Duration `yaml:"overall_timeout_computed"`

	MemoryCeilingMB int `yaml:"memory_ceiling_mb"` // Decompressed CSS ceiling per scan

	Retry RetryConfig `yaml:"retry"`

	ReplayRetention time.Duration `yaml:"replay_retention"` // Progress buffer kept after terminal event
}

// RevalidateAfter returns the revalidation window as a duration.
func (s ScanConfig) RevalidateAfter() time.Duration {
	return time.Duration(s.RevalidateAfterMS) * time.Millisecond
}

// HardExpiry returns the hard-expiry window as a duration.
func (s ScanConfig) HardExpiry() time.Duration {
	return time.Duration(s.HardExpiryMS) * time.Millisecond
}

// Validate checks orchestrator configuration.
func (s *ScanConfig) Validate() error {
	if s.MaxConcurrent < 1 {
		return fmt.Errorf("scan.max_concurrent must be at least 1")
	}
	if s.QueueDepth < 1 {
		return fmt.Errorf("scan.queue_depth must be at least 1")
	}
	if s.RevalidateAfterMS < 0 || s.HardExpiryMS < 0 {
		return fmt.Errorf("scan windows must be non-negative")
	}
	if s.HardExpiryMS < s.RevalidateAfterMS {
		return fmt.Errorf("scan.hard_expiry_ms (%d) must not be shorter than scan.revalidate_after_ms (%d)",
			s.HardExpiryMS, s.RevalidateAfterMS)
	}
	if s.ParseTimeout <= 0 || s.AnalyzeTimeout <= 0 || s.DiffTimeout <= 0 {
		return fmt.Errorf("scan phase timeouts are required")
	}
	if s.OverallTimeoutStatic <= 0 || s.OverallTimeoutComputed <= 0 {
		return fmt.Errorf("scan overall timeouts are required")
	}
	if s.MemoryCeilingMB < 1 {
		return fmt.Errorf("scan.memory_ceiling_mb must be at least 1")
	}
	if s.Retry.MaxAttempts < 1 || s.Retry.MaxAttempts > 10 {
		return fmt.Errorf("scan.retry.max_attempts must be 1-10, got %d", s.Retry.MaxAttempts)
	}
	if s.Retry.BaseDelay <= 0 {
		return fmt.Errorf("scan.retry.base_delay is required")
	}
	if s.ReplayRetention <= 0 {
		return fmt.Errorf("scan.replay_retention is required")
	}
	return nil
}

// AnalyzerConfig contains consensus thresholds. The defaults encode the
// clustering contract; they are configurable for tuning, not for semantics.
type AnalyzerConfig struct {
	ColorClusterDeltaE  float64 `yaml:"color_cluster_delta_e"`  // CIEDE2000 join threshold
	ColorCohesionDeltaE float64 `yaml:"color_cohesion_delta_e"` // Within-cluster cohesion window
	FrequencyFloor      float64 `yaml:"frequency_floor"`        // Min share of category usage
	MergeRelative       float64 `yaml:"merge_relative"`         // Relative distance merge window
	MaxObservations     int     `yaml:"max_observations"`       // Per-category parser cap
}

// Validate checks analyzer thresholds.
func (a *AnalyzerConfig) Validate() error {
	if a.ColorClusterDeltaE <= 0 {
		return fmt.Errorf("analyzer.color_cluster_delta_e must be positive")
	}
	if a.ColorCohesionDeltaE <= 0 || a.ColorCohesionDeltaE > a.ColorClusterDeltaE {
		return fmt.Errorf("analyzer.color_cohesion_delta_e must be in (0, color_cluster_delta_e]")
	}
	if a.FrequencyFloor < 0 || a.FrequencyFloor >= 1 {
		return fmt.Errorf("analyzer.frequency_floor must be in [0, 1)")
	}
	if a.MergeRelative < 0 || a.MergeRelative >= 1 {
		return fmt.Errorf("analyzer.merge_relative must be in [0, 1)")
	}
	if a.MaxObservations < 1 {
		return fmt.Errorf("analyzer.max_observations must be at least 1")
	}
	return nil
}
