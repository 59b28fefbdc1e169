package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compass-investigate/compass/internal/querygen"
)

func TestEstimateCostUsesKnownModelRates(t *testing.T) {
	cost := estimateCost("claude-sonnet-4-5-20250929", 1_000_000, 1_000_000)
	assert.InDelta(t, 18.00, cost, 0.0001)
}

func TestEstimateCostFallsBackForUnknownModel(t *testing.T) {
	cost := estimateCost("some-future-model", 1_000_000, 0)
	assert.InDelta(t, 3.00, cost, 0.0001)
}

func TestParseGenerationResultAcceptsPlainJSON(t *testing.T) {
	result, err := parseGenerationResult(`{"query": "up", "explanation": "checks liveness"}`)
	require.NoError(t, err)
	assert.Equal(t, "up", result.Query)
	assert.Equal(t, "checks liveness", result.Explanation)
}

func TestParseGenerationResultStripsCodeFence(t *testing.T) {
	result, err := parseGenerationResult("```json\n{\"query\": \"up\", \"explanation\": \"x\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "up", result.Query)
}

func TestParseGenerationResultRejectsMissingQuery(t *testing.T) {
	_, err := parseGenerationResult(`{"explanation": "no query field"}`)
	assert.Error(t, err)
}

func TestParseGenerationResultRejectsInvalidJSON(t *testing.T) {
	_, err := parseGenerationResult("not json at all")
	assert.Error(t, err)
}

func TestAnthropicClientGenerateParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		resp := map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-sonnet-4-5-20250929",
			"stop_reason": "end_turn",
			"content": []map[string]any{
				{"type": "text", "text": `{"query": "rate(http_requests_total[5m])", "explanation": "request rate"}`},
			},
			"usage": map[string]any{"input_tokens": 120, "output_tokens": 40},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := &AnthropicClient{
		config: Config{Model: "claude-sonnet-4-5-20250929", MaxTokens: 256},
	}
	c.client = newTestClient(srv.URL)

	result, err := c.Generate(context.Background(), querygen.PromQL, "request rate for checkout", map[string]any{"service": "checkout"})
	require.NoError(t, err)
	assert.Equal(t, "rate(http_requests_total[5m])", result.Query)
	assert.Equal(t, "request rate", result.Explanation)
	assert.Equal(t, 160, result.TokensUsed)
	assert.Greater(t, result.Cost, 0.0)
}

func TestAnthropicClientGenerateReturnsErrorOnMalformedModelOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"id": "msg_1", "type": "message", "role": "assistant",
			"model": "claude-sonnet-4-5-20250929", "stop_reason": "end_turn",
			"content": []map[string]any{{"type": "text", "text": "not json"}},
			"usage":   map[string]any{"input_tokens": 10, "output_tokens": 5},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := &AnthropicClient{config: Config{Model: "claude-sonnet-4-5-20250929", MaxTokens: 256}}
	c.client = newTestClient(srv.URL)

	_, err := c.Generate(context.Background(), querygen.LogQL, "find errors", nil)
	assert.Error(t, err)
}

func TestAnthropicClientGenerateWrapsTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`)
	}))
	defer srv.Close()

	c := &AnthropicClient{config: Config{Model: "claude-sonnet-4-5-20250929", MaxTokens: 256}}
	c.client = newTestClient(srv.URL)

	_, err := c.Generate(context.Background(), querygen.TraceQL, "slow traces", nil)
	assert.Error(t, err)
}

func newTestClient(baseURL string) anthropic.Client {
	return anthropic.NewClient(option.WithAPIKey("test-key"), option.WithBaseURL(baseURL))
}
