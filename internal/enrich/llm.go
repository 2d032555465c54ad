package enrich

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/tokenlens/tokenlens/external"
	"github.com/tokenlens/tokenlens/internal/config"
	"github.com/tokenlens/tokenlens/internal/monitoring"
	"github.com/tokenlens/tokenlens/internal/tokens"
)

const systemPrompt = `You label design tokens extracted from a website's CSS.
For each token you receive its path, resolved value, and current semantic role.
Reply with a single JSON object mapping token paths to improved semantic role
labels (short lowercase identifiers like "brand", "surface", "cta"). Only
include paths whose label you would change. No prose, JSON only.`

// maxSemanticLen caps a single label; anything longer is provider noise.
const maxSemanticLen = 32

// LLM refines semantic labels through an external provider. Every failure
// path returns the original set with a nil error: enrichment is advisory.
type LLM struct {
	cfg     config.EnrichConfig
	client  *http.Client
	encoder *tiktoken.Tiktoken
	metrics *monitoring.MetricsCollector
	log     zerolog.Logger
}

// NewLLM builds the provider-backed enricher. Bedrock gets a SigV4 signing
// transport; credential failures surface here, at startup.
func NewLLM(cfg config.EnrichConfig, metrics *monitoring.MetricsCollector) (*LLM, error) {
	l := &LLM{
		cfg:     cfg,
		metrics: metrics,
		log:     monitoring.Component("enrich"),
	}
	if cfg.Provider == "bedrock" {
		transport, err := external.NewBedrockTransport("", nil)
		if err != nil {
			return nil, fmt.Errorf("bedrock enrichment unavailable: %w", err)
		}
		l.client = &http.Client{Transport: transport}
	}
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		l.encoder = enc
	} else {
		// Budget enforcement falls back to a bytes/4 estimate.
		l.log.Warn().Err(err).Msg("Token encoder unavailable, estimating prompt budget")
	}
	return l, nil
}

func (l *LLM) Name() string { return "llm:" + l.cfg.Provider }

// Enrich asks the provider for better semantic labels and applies them.
// The scan never sees an error: failures log, bump enrich_failures, and
// return the set unchanged.
func (l *LLM) Enrich(ctx context.Context, set *tokens.Set) (*tokens.Set, error) {
	if set == nil || set.Len() == 0 {
		return set, nil
	}

	prompt := buildPrompt(set)
	if cost := l.countTokens(systemPrompt + prompt); cost > l.cfg.BudgetTokens {
		l.log.Info().Int("prompt_tokens", cost).Int("budget", l.cfg.BudgetTokens).
			Msg("Prompt over enrichment budget, skipping")
		if l.metrics != nil {
			l.metrics.RecordEnrichSkip()
		}
		return set, nil
	}

	err := l.refine(ctx, set, prompt)
	if l.metrics != nil {
		l.metrics.RecordEnrich(err)
	}
	if err != nil {
		l.log.Warn().Err(err).Msg("Enrichment failed, keeping analyzer labels")
	}
	return set, nil
}

func (l *LLM) refine(ctx context.Context, set *tokens.Set, prompt string) error {
	res, err := external.CallLLM(ctx, external.CallLLMParams{
		Provider:     l.cfg.Provider,
		Endpoint:     l.cfg.Endpoint,
		APIKey:       l.cfg.APIKey,
		Model:        l.cfg.Model,
		SystemPrompt: systemPrompt,
		UserPrompt:   prompt,
		MaxTokens:    l.cfg.MaxTokens,
		Timeout:      l.cfg.Timeout,
		HTTPClient:   l.client,
	})
	if err != nil {
		return err
	}

	labels := gjson.Parse(extractJSON(res.Content))
	if !labels.IsObject() {
		return fmt.Errorf("provider returned non-JSON enrichment: %.80s", res.Content)
	}

	applied := 0
	for i := range set.Tokens {
		label := labels.Get(gjsonPath(set.Tokens[i].Path))
		if !label.Exists() {
			continue
		}
		semantic := sanitizeLabel(label.String())
		if semantic == "" || semantic == set.Tokens[i].Semantic {
			continue
		}
		set.Tokens[i].Semantic = semantic
		applied++
	}
	l.log.Debug().Int("applied", applied).Int("input_tokens", res.InputTokens).
		Int("output_tokens", res.OutputTokens).Msg("Enrichment applied")
	return nil
}

// buildPrompt renders one compact line per token.
func buildPrompt(set *tokens.Set) string {
	var b strings.Builder
	for _, t := range set.Tokens {
		b.WriteString(t.Path)
		b.WriteString(" = ")
		b.WriteString(t.Value.CSS())
		if t.Semantic != "" {
			b.WriteString(" (")
			b.WriteString(t.Semantic)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (l *LLM) countTokens(text string) int {
	if l.encoder != nil {
		return len(l.encoder.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// extractJSON tolerates providers that wrap the object in a code fence.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			return content[start : end+1]
		}
	}
	return content
}

// gjsonPath escapes the dots in a token path so it addresses one flat key.
func gjsonPath(path string) string {
	return strings.ReplaceAll(path, ".", `\.`)
}

func sanitizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || len(s) > maxSemanticLen {
		return ""
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' && r != '_' {
			return ""
		}
	}
	return s
}
