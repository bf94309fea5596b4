// Package gemini provides a Completer implementation for the Google Gemini API.
package gemini

import (
	"context"
	"fmt"

	"github.com/datakiln/refinery/pkg/llm"
	"github.com/datakiln/refinery/pkg/llm/usage"
)

var _ llm.Completer = (*Adapter)(nil)

// Adapter implements llm.Completer for the Google Gemini API.
type Adapter struct {
	llm.Adapter

	TopP float64 // Nucleus sampling mass; 0 means provider default.
	TopK int     // Top-k cutoff; 0 means provider default.
}

// New creates an Adapter configured for the Gemini API.
// The baseURL should be "https://generativelanguage.googleapis.com" (no trailing slash).
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{}
	a.BaseURL = baseURL
	a.Auth = llm.Auth{
		Key:    apiKey,
		Header: "x-goog-api-key",
	}
	a.Name = model
	a.MaxOutputTokens = 8192

	return a
}

// Complete sends the request to the Gemini API and returns the reply text.
// The system instructions ride in systemInstruction; with ForceJSON the
// response is constrained to a JSON MIME type.
func (a *Adapter) Complete(ctx context.Context, r llm.Request) (string, error) {
	req := apiRequest{
		Contents: []apiContent{
			{Role: "user", Parts: []apiPart{{Text: r.User}}},
		},
		GenerationConfig: generationConfig{
			MaxOutputTokens: a.MaxOutputTokens,
		},
	}

	if r.System != "" {
		req.SystemInstruction = &apiContent{Parts: []apiPart{{Text: r.System}}}
	}
	if a.Temperature != 0 {
		t := a.Temperature
		req.GenerationConfig.Temperature = &t
	}
	if a.TopP != 0 {
		p := a.TopP
		req.GenerationConfig.TopP = &p
	}
	if a.TopK != 0 {
		req.GenerationConfig.TopK = a.TopK
	}
	if r.ForceJSON {
		req.GenerationConfig.ResponseMimeType = "application/json"
	}

	path := fmt.Sprintf("/v1beta/models/%s:generateContent", a.Name)

	var resp apiResponse
	if err := a.PostJSON(ctx, path, req, &resp); err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini: empty candidates in response")
	}

	a.Usage.Add(usage.TokenCount{
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
	})

	var text string
	for _, p := range resp.Candidates[0].Content.Parts {
		text += p.Text
	}
	if text == "" {
		return "", fmt.Errorf("gemini: candidate carries no text parts")
	}

	return text, nil
}

// --- request types ---

type apiRequest struct {
	Contents          []apiContent     `json:"contents"`
	SystemInstruction *apiContent      `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type apiContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []apiPart `json:"parts"`
}

type apiPart struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	TopK             int      `json:"topK,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

// --- response types ---

type apiResponse struct {
	Candidates    []apiCandidate `json:"candidates"`
	UsageMetadata apiUsageMeta   `json:"usageMetadata"`
}

type apiCandidate struct {
	Content      apiContent `json:"content"`
	FinishReason string     `json:"finishReason"`
}

type apiUsageMeta struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}
