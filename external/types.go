// Wire types for the supported LLM providers.
//
// Each provider block carries the request/response structs plus an
// Extract*Response helper that pulls the text content out and surfaces
// provider-reported errors. Bedrock reuses the Anthropic Messages format.
package external

import "fmt"

// ===== ANTHROPIC (and Bedrock) =====

// AnthropicRequest is the Messages API request body.
type AnthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []AnthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`

	// AnthropicVersion is only set for Bedrock, which moves the version
	// from a header into the body.
	AnthropicVersion string `json:"anthropic_version,omitempty"`
}

// AnthropicMessage is one conversation turn.
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicResponse is the Messages API response body.
type AnthropicResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ExtractAnthropicResponse returns the concatenated text blocks.
func ExtractAnthropicResponse(resp *AnthropicResponse) (string, error) {
	if resp.Error != nil {
		return "", fmt.Errorf("anthropic API error (%s): %s", resp.Error.Type, resp.Error.Message)
	}
	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("anthropic response contained no text content")
	}
	return text, nil
}

// ===== GEMINI =====

// GeminiRequest is the generateContent request body.
type GeminiRequest struct {
	SystemInstruction *GeminiContent          `json:"systemInstruction,omitempty"`
	Contents          []GeminiContent         `json:"contents"`
	GenerationConfig  *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

// GeminiContent is one message with its parts.
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart is one text fragment.
type GeminiPart struct {
	Text string `json:"text"`
}

// GeminiGenerationConfig bounds the generation.
type GeminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

// GeminiResponse is the generateContent response body.
type GeminiResponse struct {
	Candidates []struct {
		Content      GeminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// ExtractGeminiResponse returns the first candidate's concatenated parts.
func ExtractGeminiResponse(resp *GeminiResponse) (string, error) {
	if resp.Error != nil {
		return "", fmt.Errorf("gemini API error (%s): %s", resp.Error.Status, resp.Error.Message)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini response contained no candidates")
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		text += part.Text
	}
	if text == "" {
		return "", fmt.Errorf("gemini response contained no text content")
	}
	return text, nil
}

// ===== OPENAI =====

// OpenAIChatRequest is the Chat Completions request body.
type OpenAIChatRequest struct {
	Model    string          `json:"model"`
	Messages []OpenAIMessage `json:"messages"`

	// MaxCompletionTokens replaces the deprecated max_tokens field.
	MaxCompletionTokens int `json:"max_completion_tokens,omitempty"`
}

// OpenAIMessage is one chat turn.
type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIChatResponse is the Chat Completions response body.
type OpenAIChatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message      OpenAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ExtractOpenAIResponse returns the first choice's message content.
func ExtractOpenAIResponse(resp *OpenAIChatResponse) (string, error) {
	if resp.Error != nil {
		return "", fmt.Errorf("openai API error (%s): %s", resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai response contained no choices")
	}
	if resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai response contained no text content")
	}
	return resp.Choices[0].Message.Content, nil
}
