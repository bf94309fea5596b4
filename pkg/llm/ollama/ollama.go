// Package ollama provides a Completer implementation for a local Ollama
// server's /api/generate endpoint. No authentication is involved; the model
// is addressed by its local path or tag.
package ollama

import (
	"context"
	"fmt"

	"github.com/datakiln/refinery/pkg/llm"
	"github.com/datakiln/refinery/pkg/llm/usage"
)

// DefaultBaseURL is the default local Ollama API address.
const DefaultBaseURL = "http://localhost:11434"

var _ llm.Completer = (*Adapter)(nil)

// Adapter implements llm.Completer for the Ollama HTTP API.
type Adapter struct {
	llm.Adapter
}

// New creates an Adapter for the Ollama server at baseURL. An empty baseURL
// falls back to DefaultBaseURL. The model is the local model path or tag.
func New(baseURL, model string) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	a := &Adapter{}
	a.BaseURL = baseURL
	a.Name = model
	a.MaxOutputTokens = 4096

	return a
}

// Complete sends the request to /api/generate and returns the reply text.
// The request is non-streaming; Ollama returns the full response in one body.
func (a *Adapter) Complete(ctx context.Context, r llm.Request) (string, error) {
	req := apiRequest{
		Model:  a.Name,
		System: r.System,
		Prompt: r.User,
		Stream: false,
		Options: apiOptions{
			Temperature: a.Temperature,
			NumPredict:  a.MaxOutputTokens,
		},
	}

	if r.ForceJSON {
		req.Format = "json"
	}

	var resp apiResponse
	if err := a.PostJSON(ctx, "/api/generate", req, &resp); err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}

	if resp.Response == "" {
		return "", fmt.Errorf("ollama: empty response")
	}

	a.Usage.Add(usage.TokenCount{
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	})

	return resp.Response, nil
}

// API request/response types.

type apiRequest struct {
	Model   string     `json:"model"`
	System  string     `json:"system,omitempty"`
	Prompt  string     `json:"prompt"`
	Stream  bool       `json:"stream"`
	Format  string     `json:"format,omitempty"`
	Options apiOptions `json:"options"`
}

type apiOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type apiResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}
