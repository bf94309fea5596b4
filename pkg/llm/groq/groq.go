// Package groq implements the llm.Completer interface for Groq-hosted models
// using the OpenAI-compatible chat completions API.
package groq

import (
	"context"
	"fmt"
	"net/http"

	"github.com/datakiln/refinery/pkg/llm"
	"github.com/datakiln/refinery/pkg/llm/usage"
)

// DefaultBaseURL is the base URL for the Groq API.
const DefaultBaseURL = "https://api.groq.com/openai"

var _ llm.Completer = (*Adapter)(nil)

// Adapter sends chat completions to the Groq API.
type Adapter struct {
	llm.Adapter
}

// New creates an Adapter with the given API key and HTTP client.
// A nil client falls back to the shared default client.
func New(apiKey string, client *http.Client) *Adapter {
	a := &Adapter{}
	a.BaseURL = DefaultBaseURL
	a.Auth = llm.Auth{Key: apiKey}
	a.Client = client
	a.MaxOutputTokens = 4096

	return a
}

// Complete sends the request to the Groq chat completions endpoint and
// returns the assistant's reply text.
func (g *Adapter) Complete(ctx context.Context, r llm.Request) (string, error) {
	req := chatRequest{
		Model:       g.Name,
		Temperature: g.Temperature,
		MaxTokens:   g.MaxOutputTokens,
		Messages: []apiMessage{
			{Role: "system", Content: r.System},
			{Role: "user", Content: r.User},
		},
	}

	if r.ForceJSON {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var resp chatResponse
	if err := g.PostJSON(ctx, "/v1/chat/completions", req, &resp); err != nil {
		return "", fmt.Errorf("groq: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("groq: empty response")
	}

	g.Usage.Add(usage.TokenCount{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	})

	return resp.Choices[0].Message.Content, nil
}

// API request/response types.

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []apiMessage    `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message      apiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}
