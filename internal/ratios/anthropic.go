package ratios

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ratio-cli/internal/resilience"
	"github.com/sells-group/ratio-cli/pkg/anthropic"
)

// AnthropicCalculator asks a Claude model to compute the ratios.
type AnthropicCalculator struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropicCalculator creates a calculator using client and model.
func NewAnthropicCalculator(client anthropic.Client, model string, maxTokens int64, temperature float64) *AnthropicCalculator {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &AnthropicCalculator{client: client, model: model, maxTokens: maxTokens, temperature: temperature}
}

// Name implements Calculator.
func (*AnthropicCalculator) Name() string { return "anthropic" }

// Calculate implements Calculator. The response text is returned as-is.
func (c *AnthropicCalculator) Calculate(ctx context.Context, in Input) ([]byte, error) {
	temp := c.temperature
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.SystemBlock{
			{Text: SystemPrompt},
			{Text: formulaGuide, CacheControl: &anthropic.CacheControl{}},
		},
		Messages:    []anthropic.Message{{Role: "user", Content: BuildPrompt(in)}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, classifyStatus(err, anthropic.StatusCode(err))
	}
	resp.Usage.LogCost(c.model, in.Ticker)
	return []byte(resp.Text()), nil
}

// classifyStatus marks retryable HTTP failures as transient.
func classifyStatus(err error, status int) error {
	if status != 0 && resilience.IsTransientHTTPStatus(status) {
		return resilience.NewTransientError(err, status)
	}
	if status != 0 {
		return eris.Wrapf(err, "ratios: calculator rejected request (status %d)", status)
	}
	return err
}
