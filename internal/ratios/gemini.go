package ratios

import (
	"context"

	"github.com/sells-group/ratio-cli/pkg/gemini"
)

// GeminiCalculator asks a Gemini model to compute the ratios.
type GeminiCalculator struct {
	client      gemini.Client
	model       string
	maxTokens   int32
	temperature float32
}

// NewGeminiCalculator creates a calculator using client and model.
func NewGeminiCalculator(client gemini.Client, model string, maxTokens int32, temperature float32) *GeminiCalculator {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &GeminiCalculator{client: client, model: model, maxTokens: maxTokens, temperature: temperature}
}

// Name implements Calculator.
func (*GeminiCalculator) Name() string { return "gemini" }

// Calculate implements Calculator. The response text is returned as-is.
func (c *GeminiCalculator) Calculate(ctx context.Context, in Input) ([]byte, error) {
	temp := c.temperature
	resp, err := c.client.Generate(ctx, gemini.GenerateRequest{
		Model:           c.model,
		System:          SystemText(),
		Prompt:          BuildPrompt(in),
		Temperature:     &temp,
		MaxOutputTokens: c.maxTokens,
		JSON:            true,
	})
	if err != nil {
		return nil, classifyStatus(err, gemini.StatusCode(err))
	}
	resp.Usage.LogCost(resp.Model, in.Ticker)
	return []byte(resp.Text), nil
}
