// Package openai provides a Completer implementation for the OpenAI Chat Completions API.
package openai

import (
	"context"
	"fmt"

	"github.com/datakiln/refinery/pkg/llm"
	"github.com/datakiln/refinery/pkg/llm/usage"
)

const completionsPath = "/v1/chat/completions"

var _ llm.Completer = (*Adapter)(nil)

// Adapter implements llm.Completer for the OpenAI Chat Completions API.
type Adapter struct {
	llm.Adapter
}

// New creates an Adapter configured for the OpenAI API.
// The baseURL should be "https://api.openai.com" (no trailing slash).
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{}
	a.BaseURL = baseURL
	a.Auth = llm.Auth{Key: apiKey}
	a.Name = model
	a.MaxOutputTokens = 4096

	return a
}

// Complete sends the request to the OpenAI Chat Completions API and returns
// the assistant's reply text.
func (a *Adapter) Complete(ctx context.Context, r llm.Request) (string, error) {
	req := apiRequest{
		Model:     a.Name,
		MaxTokens: a.MaxOutputTokens,
		Messages: []apiMessage{
			{Role: "system", Content: r.System},
			{Role: "user", Content: r.User},
		},
	}

	if a.Temperature != 0 {
		t := a.Temperature
		req.Temperature = &t
	}

	if r.ForceJSON {
		req.ResponseFormat = &apiResponseFormat{Type: "json_object"}
	}

	var resp apiResponse
	if err := a.PostJSON(ctx, completionsPath, req, &resp); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}

	a.Usage.Add(usage.TokenCount{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	})

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}

	return resp.Choices[0].Message.Content, nil
}

// --- request types ---

type apiRequest struct {
	Model          string             `json:"model"`
	Messages       []apiMessage       `json:"messages"`
	MaxTokens      int                `json:"max_tokens,omitempty"`
	Temperature    *float64           `json:"temperature,omitempty"`
	ResponseFormat *apiResponseFormat `json:"response_format,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponseFormat struct {
	Type string `json:"type"`
}

// --- response types ---

type apiResponse struct {
	Choices []apiChoice `json:"choices"`
	Usage   apiUsage    `json:"usage"`
}

type apiChoice struct {
	Message      apiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
