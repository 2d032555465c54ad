// Enrichment configuration - optional post-analysis token-set refinement.
//
// STATUS: "noop" is the default strategy; "llm" calls an external provider
// to refine semantic labels. Enrichment is advisory and can never fail a scan.
package config

import (
	"fmt"
	"time"
)

// Enrichment strategies.
const (
	EnrichNoop = "noop" // Pass the token set through unchanged
	EnrichLLM  = "llm"  // Refine semantic labels via an external provider
)

// EnrichConfig contains enrichment plugin settings.
type EnrichConfig struct {
	Strategy string `yaml:"strategy"` // "noop" or "llm"

	Provider string `yaml:"provider"` // anthropic, openai, gemini, bedrock
	Endpoint string `yaml:"endpoint"` // Provider API endpoint
	APIKey   string `yaml:"api_key"`  // ${ENRICH_API_KEY:-}
	Model    string `yaml:"model"`    // Provider model identifier

	MaxTokens    int           `yaml:"max_tokens"`    // Response cap per call
	BudgetTokens int           `yaml:"budget_tokens"` // Hard prompt budget per scan
	Timeout      time.Duration `yaml:"timeout"`       // Per-call wall clock
}

// Enabled reports whether enrichment performs external calls.
func (e *EnrichConfig) Enabled() bool {
	return e.Strategy == EnrichLLM
}

// Validate checks enrichment configuration.
func (e *EnrichConfig) Validate() error {
	switch e.Strategy {
	case "", EnrichNoop:
		return nil
	case EnrichLLM:
	default:
		return fmt.Errorf("enrich.strategy must be %q or %q, got %q", EnrichNoop, EnrichLLM, e.Strategy)
	}

	if e.Provider == "" {
		return fmt.Errorf("enrich.provider is required for the llm strategy")
	}
	switch e.Provider {
	case "anthropic", "openai", "gemini", "bedrock":
	default:
		return fmt.Errorf("unknown enrich.provider: %q", e.Provider)
	}
	if e.Model == "" {
		return fmt.Errorf("enrich.model is required for the llm strategy")
	}
	// Bedrock authenticates through SigV4, not an API key.
	if e.APIKey == "" && e.Provider != "bedrock" {
		return fmt.Errorf("enrich.api_key is required for provider %q", e.Provider)
	}
	if e.MaxTokens <= 0 {
		return fmt.Errorf("enrich.max_tokens must be positive")
	}
	if e.BudgetTokens <= 0 {
		return fmt.Errorf("enrich.budget_tokens must be positive")
	}
	if e.Timeout <= 0 {
		return fmt.Errorf("enrich.timeout is required")
	}
	return nil
}
