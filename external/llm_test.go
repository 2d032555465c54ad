package external_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlens/tokenlens/external"
)

func TestDetectProvider(t *testing.T) {
	cases := map[string]string{
		"https://api.anthropic.com/v1/messages":                              "anthropic",
		"https://bedrock-runtime.us-east-1.amazonaws.com/model/x/invoke":     "bedrock",
		"https://generativelanguage.googleapis.com/v1beta/models/g:generate": "gemini",
		"https://api.openai.com/v1/chat/completions":                         "openai",
		"https://my-proxy.internal/v1/chat/completions":                      "openai",
	}
	for endpoint, want := range cases {
		assert.Equal(t, want, external.DetectProvider(endpoint), endpoint)
	}
}

func TestCallLLMAnthropicRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))

		var req external.AnthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-x", req.Model)
		require.Len(t, req.Messages, 1)

		fmt.Fprint(w, `{"content":[{"type":"text","text":"{\"color.primary\":\"brand\"}"}],
			"usage":{"input_tokens":10,"output_tokens":5}}`)
	}))
	defer srv.Close()

	res, err := external.CallLLM(context.Background(), external.CallLLMParams{
		Provider:   "anthropic",
		Endpoint:   srv.URL,
		APIKey:     "test-key",
		Model:      "claude-x",
		UserPrompt: "label these tokens",
		MaxTokens:  256,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "color.primary")
	assert.Equal(t, 10, res.InputTokens)
	assert.Equal(t, 5, res.OutputTokens)
}

func TestCallLLMSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	_, err := external.CallLLM(context.Background(), external.CallLLMParams{
		Provider: "anthropic",
		Endpoint: srv.URL,
		APIKey:   "k",
		Model:    "m",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestCallLLMValidatesParams(t *testing.T) {
	_, err := external.CallLLM(context.Background(), external.CallLLMParams{Endpoint: "https://x"})
	require.Error(t, err, "api key and model are required")
}

func TestExtractOpenAIResponse(t *testing.T) {
	var resp external.OpenAIChatResponse
	require.NoError(t, json.Unmarshal([]byte(
		`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`), &resp))
	content, err := external.ExtractOpenAIResponse(&resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", content)

	_, err = external.ExtractOpenAIResponse(&external.OpenAIChatResponse{})
	assert.Error(t, err)
}
