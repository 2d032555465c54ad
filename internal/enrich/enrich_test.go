package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlens/tokenlens/internal/config"
	"github.com/tokenlens/tokenlens/internal/monitoring"
	"github.com/tokenlens/tokenlens/internal/tokens"
)

func testSet() *tokens.Set {
	s := &tokens.Set{}
	s.Add(tokens.Token{Path: "color.primary", Value: tokens.ColorValue{Raw: "#635bff"}, Usage: 42, Confidence: 0.8, Semantic: "brand"})
	s.Add(tokens.Token{Path: "dimension.space-1", Value: tokens.DimensionValue{Value: 8, Unit: "px"}, Usage: 12, Confidence: 0.7})
	return s
}

// testLLM builds the enricher without touching the tokenizer download path.
func testLLM(cfg config.EnrichConfig) *LLM {
	return &LLM{cfg: cfg, metrics: monitoring.NewMetricsCollector(), log: monitoring.Component("enrich")}
}

func TestNoopPassesSetThrough(t *testing.T) {
	set := testSet()
	out, err := Noop{}.Enrich(context.Background(), set)
	require.NoError(t, err)
	assert.Same(t, set, out)
}

func TestNewDefaultsToNoop(t *testing.T) {
	e, err := New(config.EnrichConfig{Strategy: config.EnrichNoop}, nil)
	require.NoError(t, err)
	assert.Equal(t, "noop", e.Name())
}

func TestLLMAppliesSemanticLabels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant",
			"content":"{\"color.primary\":\"cta\"}"}}],"usage":{"prompt_tokens":40,"completion_tokens":8}}`)
	}))
	defer srv.Close()

	l := testLLM(config.EnrichConfig{
		Strategy: config.EnrichLLM, Provider: "openai", Endpoint: srv.URL,
		APIKey: "k", Model: "m", MaxTokens: 256, BudgetTokens: 10000, Timeout: 5 * time.Second,
	})

	set := testSet()
	out, err := l.Enrich(context.Background(), set)
	require.NoError(t, err)
	assert.Equal(t, "cta", out.Tokens[0].Semantic)
	assert.Empty(t, out.Tokens[1].Semantic, "unmentioned tokens keep their labels")
}

func TestLLMFailureNeverFailsTheScan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	l := testLLM(config.EnrichConfig{
		Strategy: config.EnrichLLM, Provider: "openai", Endpoint: srv.URL,
		APIKey: "k", Model: "m", MaxTokens: 256, BudgetTokens: 10000, Timeout: 5 * time.Second,
	})

	set := testSet()
	out, err := l.Enrich(context.Background(), set)
	require.NoError(t, err, "provider failure is swallowed")
	assert.Equal(t, "brand", out.Tokens[0].Semantic)
	assert.Equal(t, int64(1), l.metrics.Stats()["enrich_failures"])
}

func TestLLMSkipsOverBudgetPrompts(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	l := testLLM(config.EnrichConfig{
		Strategy: config.EnrichLLM, Provider: "openai", Endpoint: srv.URL,
		APIKey: "k", Model: "m", MaxTokens: 256, BudgetTokens: 1, Timeout: 5 * time.Second,
	})

	_, err := l.Enrich(context.Background(), testSet())
	require.NoError(t, err)
	assert.False(t, called, "over budget means no provider call")
	assert.Equal(t, int64(1), l.metrics.Stats()["enrich_skips"])
}

func TestSanitizeLabel(t *testing.T) {
	assert.Equal(t, "brand", sanitizeLabel("  Brand "))
	assert.Equal(t, "surface-2", sanitizeLabel("surface-2"))
	assert.Empty(t, sanitizeLabel("drop table tokens"))
	assert.Empty(t, sanitizeLabel(""))
}

func TestExtractJSONUnwrapsCodeFences(t *testing.T) {
	fenced := "```json\n{\"a\":\"b\"}\n```"
	assert.Equal(t, `{"a":"b"}`, extractJSON(fenced))
}
