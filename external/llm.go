// Package external holds the provider-facing LLM client used by token
// enrichment. CallLLM speaks the Anthropic Messages, OpenAI Chat
// Completions, and Gemini generateContent wire formats; Bedrock rides the
// Anthropic format behind the SigV4 transport. Adding a provider means a
// codec entry here plus wire types in types.go.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds one provider call when the config leaves it unset.
	DefaultTimeout = 60 * time.Second

	anthropicVersion        = "2023-06-01"
	bedrockAnthropicVersion = "bedrock-2023-05-31"

	// Responses larger than this are cut off; a label map never comes close.
	maxResponseSize = 10 << 20
	maxErrorBodyLen = 500
)

// CallLLMParams describes one enrichment request.
type CallLLMParams struct {
	// Provider picks the wire format: anthropic, openai, gemini, or
	// bedrock. Empty means detect from the endpoint URL.
	Provider string

	Endpoint     string
	APIKey       string
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Timeout      time.Duration

	// HTTPClient overrides the default client. Bedrock requires one
	// wrapping a BedrockTransport; nil otherwise uses a plain client with
	// the timeout carried by the request context.
	HTTPClient *http.Client
}

// CallLLMResult is the provider-neutral view of a completed call.
type CallLLMResult struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Provider     string
}

// providerCodec binds one provider's auth scheme and wire format.
type providerCodec struct {
	auth   func(req *http.Request, apiKey string)
	encode func(p CallLLMParams) ([]byte, error)
	decode func(body []byte) (*CallLLMResult, error)
}

var codecs = map[string]providerCodec{
	"anthropic": {
		auth: func(req *http.Request, apiKey string) {
			req.Header.Set("x-api-key", apiKey)
			req.Header.Set("anthropic-version", anthropicVersion)
		},
		encode: func(p CallLLMParams) ([]byte, error) { return encodeAnthropic(p, "") },
		decode: decodeAnthropic,
	},
	"bedrock": {
		// Auth is SigV4 on the transport, never a header.
		auth:   func(*http.Request, string) {},
		encode: func(p CallLLMParams) ([]byte, error) { return encodeAnthropic(p, bedrockAnthropicVersion) },
		decode: decodeAnthropic,
	},
	"gemini": {
		auth: func(req *http.Request, apiKey string) {
			req.Header.Set("x-goog-api-key", apiKey)
		},
		encode: encodeGemini,
		decode: decodeGemini,
	},
	"openai": {
		auth: func(req *http.Request, apiKey string) {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		},
		encode: encodeOpenAI,
		decode: decodeOpenAI,
	},
}

// CallLLM performs one blocking completion call against the configured
// provider and normalizes the response.
func CallLLM(ctx context.Context, params CallLLMParams) (*CallLLMResult, error) {
	provider := params.Provider
	if provider == "" {
		provider = DetectProvider(params.Endpoint)
	}
	codec, ok := codecs[provider]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
	if err := params.check(provider); err != nil {
		return nil, err
	}

	body, err := codec.encode(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", provider, err)
	}

	timeout := params.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, params.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	codec.auth(req, params.APIKey)

	client := params.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s call: %w", provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", provider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d: %s", provider, resp.StatusCode, truncate(string(raw)))
	}

	result, err := codec.decode(raw)
	if err != nil {
		return nil, err
	}
	result.Provider = provider
	return result, nil
}

func (p CallLLMParams) check(provider string) error {
	if p.Endpoint == "" {
		return fmt.Errorf("llm endpoint required")
	}
	if p.Model == "" {
		return fmt.Errorf("llm model required")
	}
	if p.APIKey == "" && provider != "bedrock" {
		return fmt.Errorf("llm api key required for %s", provider)
	}
	return nil
}

// DetectProvider infers the wire format from an endpoint URL. Proxy
// endpoints that hide the provider should set Provider explicitly.
func DetectProvider(endpoint string) string {
	switch {
	case strings.Contains(endpoint, "bedrock"):
		return "bedrock"
	case strings.Contains(endpoint, "anthropic"):
		return "anthropic"
	case strings.Contains(endpoint, "generativelanguage.googleapis.com"):
		return "gemini"
	default:
		return "openai"
	}
}

// Temperature is pinned to 0 everywhere a provider accepts it: label
// refinement should be reproducible across rescans of an unchanged site.

func encodeAnthropic(p CallLLMParams, version string) ([]byte, error) {
	return json.Marshal(&AnthropicRequest{
		Model:            p.Model,
		MaxTokens:        p.MaxTokens,
		System:           p.SystemPrompt,
		Messages:         []AnthropicMessage{{Role: "user", Content: p.UserPrompt}},
		Temperature:      0,
		AnthropicVersion: version,
	})
}

func decodeAnthropic(body []byte) (*CallLLMResult, error) {
	var resp AnthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse anthropic response: %w", err)
	}
	content, err := ExtractAnthropicResponse(&resp)
	if err != nil {
		return nil, err
	}
	return &CallLLMResult{
		Content:      content,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

func encodeGemini(p CallLLMParams) ([]byte, error) {
	return json.Marshal(&GeminiRequest{
		SystemInstruction: &GeminiContent{Parts: []GeminiPart{{Text: p.SystemPrompt}}},
		Contents:          []GeminiContent{{Role: "user", Parts: []GeminiPart{{Text: p.UserPrompt}}}},
		GenerationConfig:  &GeminiGenerationConfig{MaxOutputTokens: p.MaxTokens, Temperature: 0},
	})
}

func decodeGemini(body []byte) (*CallLLMResult, error) {
	var resp GeminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}
	content, err := ExtractGeminiResponse(&resp)
	if err != nil {
		return nil, err
	}
	return &CallLLMResult{
		Content:      content,
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
	}, nil
}

// encodeOpenAI omits temperature entirely; the o-series models reject the
// field even at its default.
func encodeOpenAI(p CallLLMParams) ([]byte, error) {
	return json.Marshal(&OpenAIChatRequest{
		Model: p.Model,
		Messages: []OpenAIMessage{
			{Role: "system", Content: p.SystemPrompt},
			{Role: "user", Content: p.UserPrompt},
		},
		MaxCompletionTokens: p.MaxTokens,
	})
}

func decodeOpenAI(body []byte) (*CallLLMResult, error) {
	var resp OpenAIChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse openai response: %w", err)
	}
	content, err := ExtractOpenAIResponse(&resp)
	if err != nil {
		return nil, err
	}
	return &CallLLMResult{
		Content:      content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func truncate(s string) string {
	if len(s) > maxErrorBodyLen {
		return s[:maxErrorBodyLen] + "... (truncated)"
	}
	return s
}
