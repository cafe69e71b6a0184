package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func newTestClient(t *testing.T, h http.HandlerFunc) Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c, err := NewClient(context.Background(), Options{APIKey: "test-key", BaseURL: ts.URL})
	require.NoError(t, err)
	return c
}

func TestGenerate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "gemini-2.0-flash:generateContent")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gen, _ := body["generationConfig"].(map[string]any)
		assert.Equal(t, "application/json", gen["responseMimeType"])
		assert.NotNil(t, body["systemInstruction"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": `{"gross_margin": 0.41}`}},
				},
				"finishReason": "STOP",
			}},
			"usageMetadata": map[string]any{
				"promptTokenCount":     210,
				"candidatesTokenCount": 60,
			},
			"modelVersion": "gemini-2.0-flash-001",
		})
	})

	resp, err := c.Generate(context.Background(), GenerateRequest{
		Model:       "gemini-2.0-flash",
		System:      "You compute ratios.",
		Prompt:      "{}",
		Temperature: genai.Ptr(float32(0.1)),
		JSON:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"gross_margin": 0.41}`, resp.Text)
	assert.Equal(t, "gemini-2.0-flash-001", resp.Model)
	assert.Equal(t, int32(210), resp.Usage.PromptTokens)
	assert.Equal(t, int32(60), resp.Usage.CandidateTokens)
}

func TestGenerate_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"error": map[string]any{
				"code":    429,
				"message": "Resource has been exhausted",
				"status":  "RESOURCE_EXHAUSTED",
			},
		})
	})

	_, err := c.Generate(context.Background(), GenerateRequest{Model: "gemini-2.0-flash", Prompt: "{}"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini: generate content")
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(err))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 503, StatusCode(genai.APIError{Code: 503}))
	assert.Equal(t, 0, StatusCode(errors.New("no route to host")))
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		TokenUsage{PromptTokens: 10}.LogCost("gemini-2.0-flash", "ACME")
	})
}
