package enrich

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/surgeon-pipeline/internal/config"
	"github.com/sells-group/surgeon-pipeline/pkg/anthropic"
)

// Oracle returns a free-text completion for a prompt.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// AnthropicOracle answers prompts with a Claude model.
type AnthropicOracle struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropicOracle creates an Oracle backed by client.
func NewAnthropicOracle(client anthropic.Client, cfg config.AnthropicConfig) *AnthropicOracle {
	return &AnthropicOracle{
		client:      client,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (o *AnthropicOracle) Complete(ctx context.Context, prompt string) (string, error) {
	temp := o.temperature
	resp, err := o.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       o.model,
		MaxTokens:   o.maxTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return "", eris.Wrap(err, "enrich: oracle request")
	}
	resp.Usage.LogCost(o.model, "enrich")
	return resp.Text(), nil
}
