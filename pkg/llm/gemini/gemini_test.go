package gemini_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/datakiln/refinery/pkg/llm"
	"github.com/datakiln/refinery/pkg/llm/gemini"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *gemini.Adapter {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a := gemini.New(srv.URL, "AIza-test", "gemini-1.5-flash")
	a.Temperature = 1.0
	a.TopP = 0.95
	a.TopK = 64

	return a
}

func TestComplete(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "AIza-test", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))

		gc, ok := req["generationConfig"].(map[string]any)
		require.True(t, ok)
		assert.InDelta(t, 0.95, gc["topP"], 1e-9)
		assert.InDelta(t, 64, gc["topK"], 1e-9)
		assert.Equal(t, "application/json", gc["responseMimeType"])

		si, ok := req["systemInstruction"].(map[string]any)
		require.True(t, ok)
		parts, _ := si["parts"].([]any)
		require.Len(t, parts, 1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "{\"record_id\":\"1\"}"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 20, "candidatesTokenCount": 10, "totalTokenCount": 30}
		}`))
	})

	reply, err := adapter.Complete(context.Background(), llm.Request{
		System:    "clean the record",
		User:      "payload",
		ForceJSON: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"record_id":"1"}`, reply)

	last, ok := adapter.Usage.Last()
	require.True(t, ok)
	assert.Equal(t, 20, last.InputTokens)
	assert.Equal(t, 10, last.OutputTokens)
}

func TestComplete_MultiPartText(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"parts": [{"text": "first "}, {"text": "second"}]}}]
		}`))
	})

	reply, err := adapter.Complete(context.Background(), llm.Request{User: "u"})
	require.NoError(t, err)
	assert.Equal(t, "first second", reply)
}

func TestComplete_EmptyCandidates(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": []}`))
	})

	_, err := adapter.Complete(context.Background(), llm.Request{User: "u"})
	assert.ErrorContains(t, err, "empty candidates")
}

func TestComplete_NoTextParts(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": [{"content": {"parts": []}}]}`))
	})

	_, err := adapter.Complete(context.Background(), llm.Request{User: "u"})
	assert.ErrorContains(t, err, "no text parts")
}
