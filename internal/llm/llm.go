// Package llm implements the §6 LLM port used for free-form query
// generation when neither a template nor a cache entry covers a
// worker's intent.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/compass-investigate/compass/internal/cerrors"
	"github.com/compass-investigate/compass/internal/logging"
	"github.com/compass-investigate/compass/internal/querygen"
)

var log = logging.GetLogger("llm")

// Config holds the tunables for an AnthropicClient.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// DefaultConfig mirrors the model COMPASS validates against in
// production: fast, cheap, and good enough for short query-generation
// completions.
func DefaultConfig() Config {
	return Config{
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   1024,
		Temperature: 0.0,
	}
}

// perMillionTokenRates holds USD-per-million-token input/output pricing
// for the models COMPASS is known to run against. Anthropic doesn't
// return cost in the API response, so it's computed from usage here.
var perMillionTokenRates = map[string][2]float64{
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
	"claude-3-5-sonnet-20241022": {3.00, 15.00},
	"claude-3-5-haiku-20241022":  {0.80, 4.00},
	"claude-3-opus-20240229":     {15.00, 75.00},
	"claude-3-haiku-20240307":    {0.25, 1.25},
}

func estimateCost(model string, inputTokens, outputTokens int64) float64 {
	rates, ok := perMillionTokenRates[model]
	if !ok {
		rates = perMillionTokenRates["claude-sonnet-4-5-20250929"]
	}
	return float64(inputTokens)/1e6*rates[0] + float64(outputTokens)/1e6*rates[1]
}

// AnthropicClient implements querygen.LLM against the Anthropic
// Messages API, asking the model for a single observability query plus
// a short explanation as a JSON object.
type AnthropicClient struct {
	client anthropic.Client
	config Config
}

// NewAnthropicClient builds a client. The API key is read from the
// ANTHROPIC_API_KEY environment variable by the underlying SDK.
func NewAnthropicClient(cfg Config) *AnthropicClient {
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	return &AnthropicClient{client: anthropic.NewClient(), config: cfg}
}

// NewAnthropicClientWithKey builds a client with an explicit API key,
// bypassing the environment variable lookup.
func NewAnthropicClientWithKey(apiKey string, cfg Config) *AnthropicClient {
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	return &AnthropicClient{client: anthropic.NewClient(option.WithAPIKey(apiKey)), config: cfg}
}

type generationResult struct {
	Query       string `json:"query"`
	Explanation string `json:"explanation"`
}

// Generate implements querygen.LLM.
func (c *AnthropicClient) Generate(ctx context.Context, queryType querygen.QueryType, intent string, queryCtx map[string]any) (querygen.LLMResult, error) {
	prompt, err := buildPrompt(queryType, intent, queryCtx)
	if err != nil {
		return querygen.LLMResult{}, cerrors.Wrap(cerrors.KindValidation, err, "llm: build prompt")
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		MaxTokens: int64(c.config.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: systemPrompt(queryType)}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
	})
	if err != nil {
		return querygen.LLMResult{}, cerrors.Wrap(cerrors.KindTransport, err, "llm: anthropic request failed")
	}

	var text strings.Builder
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			text.WriteString(resp.Content[i].Text)
		}
	}

	parsed, err := parseGenerationResult(text.String())
	if err != nil {
		return querygen.LLMResult{}, cerrors.Wrap(cerrors.KindValidation, err, "llm: parse model response")
	}

	tokensUsed := int(resp.Usage.InputTokens + resp.Usage.OutputTokens)
	cost := estimateCost(c.config.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	log.DebugWithFields("llm query generation completed",
		logging.Field("query_type", string(queryType)),
		logging.Field("tokens_used", tokensUsed),
		logging.Field("cost", cost))

	return querygen.LLMResult{
		Query:       parsed.Query,
		Explanation: parsed.Explanation,
		TokensUsed:  tokensUsed,
		Cost:        cost,
	}, nil
}

func systemPrompt(queryType querygen.QueryType) string {
	return fmt.Sprintf(
		"You are an observability query generator for an automated incident investigation system. "+
			"Given an intent and context, respond with a single JSON object of the form "+
			`{"query": "<%s query text>", "explanation": "<one sentence>"}. `+
			"Respond with nothing but that JSON object.", strings.ToUpper(string(queryType)))
}

func buildPrompt(queryType querygen.QueryType, intent string, queryCtx map[string]any) (string, error) {
	ctxJSON, err := json.Marshal(queryCtx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("query_type: %s\nintent: %s\ncontext: %s", queryType, intent, string(ctxJSON)), nil
}

// parseGenerationResult tolerates the model wrapping its JSON object in
// a fenced code block, which Claude does occasionally despite
// instructions not to.
func parseGenerationResult(raw string) (generationResult, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var result generationResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return generationResult{}, fmt.Errorf("unmarshal model response %q: %w", raw, err)
	}
	if result.Query == "" {
		return generationResult{}, fmt.Errorf("model response missing query field")
	}
	return result, nil
}
