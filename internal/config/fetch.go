// Fetcher configuration - CSS discovery limits and headless-browser settings.
package config

import (
	"fmt"
	"time"
)

// FetchConfig contains CSS discovery and retrieval settings.
type FetchConfig struct {
	UserAgent string `yaml:"user_agent"` // Required; sent on every request (FETCH_USER_AGENT)

	PerFetchTimeout      time.Duration `yaml:"per_fetch_timeout"`      // Wall clock per URL
	PhaseTimeoutStatic   time.Duration `yaml:"phase_timeout_static"`   // Whole fetch phase, static mode
	PhaseTimeoutComputed time.Duration `yaml:"phase_timeout_computed"` // Whole fetch phase, computed mode

	MaxHTMLBytes       int64 `yaml:"max_html_bytes"`       // Per-document cap
	MaxStylesheetBytes int64 `yaml:"max_stylesheet_bytes"` // Per-stylesheet cap
	MaxTotalBytes      int64 `yaml:"max_total_bytes"`      // Per-scan aggregate cap

	MaxRedirects   int           `yaml:"max_redirects"`    // Redirect chain length
	ImportDepth    int           `yaml:"import_depth"`     // @import resolution depth
	FanOut         int           `yaml:"fan_out"`          // Concurrent stylesheet fetches per scan
	GlobalSlots    int64         `yaml:"global_slots"`     // Concurrent fetches across all scans
	RobotsCacheTTL time.Duration `yaml:"robots_cache_ttl"` // Per-host robots decision cache

	Browser BrowserConfig `yaml:"browser"` // Computed-mode render settings
}

// BrowserConfig contains headless render settings for computed mode.
type BrowserConfig struct {
	Headless      bool          `yaml:"headless"`       // Run without a window
	BinPath       string        `yaml:"bin_path"`       // Optional explicit browser binary
	ElementSample int           `yaml:"element_sample"` // Max elements walked for computed styles
	StableWait    time.Duration `yaml:"stable_wait"`    // DOM-stable window before extraction
	PageTimeout   time.Duration `yaml:"page_timeout"`   // Navigation + extraction budget
}

// Validate checks fetcher configuration.
func (f *FetchConfig) Validate() error {
	if f.UserAgent == "" {
		return fmt.Errorf("fetch.user_agent is required (set FETCH_USER_AGENT)")
	}
	if f.PerFetchTimeout <= 0 {
		return fmt.Errorf("fetch.per_fetch_timeout is required")
	}
	if f.PhaseTimeoutStatic <= 0 || f.PhaseTimeoutComputed <= 0 {
		return fmt.Errorf("fetch phase timeouts are required")
	}
	if f.MaxHTMLBytes <= 0 || f.MaxStylesheetBytes <= 0 || f.MaxTotalBytes <= 0 {
		return fmt.Errorf("fetch size caps must be positive")
	}
	if f.MaxTotalBytes < f.MaxStylesheetBytes {
		return fmt.Errorf("fetch.max_total_bytes (%d) must cover fetch.max_stylesheet_bytes (%d)",
			f.MaxTotalBytes, f.MaxStylesheetBytes)
	}
	if f.MaxRedirects < 0 {
		return fmt.Errorf("fetch.max_redirects must be non-negative")
	}
	if f.ImportDepth < 0 {
		return fmt.Errorf("fetch.import_depth must be non-negative")
	}
	if f.FanOut < 1 {
		return fmt.Errorf("fetch.fan_out must be at least 1")
	}
	if f.GlobalSlots < 1 {
		return fmt.Errorf("fetch.global_slots must be at least 1")
	}
	return nil
}
