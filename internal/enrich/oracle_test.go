package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/surgeon-pipeline/internal/config"
	"github.com/sells-group/surgeon-pipeline/pkg/anthropic"
)

type fakeClient struct {
	req  anthropic.MessageRequest
	resp *anthropic.MessageResponse
	err  error
}

func (f *fakeClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestAnthropicOracle_Complete(t *testing.T) {
	client := &fakeClient{resp: &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: validResponse}},
		Usage:   anthropic.TokenUsage{InputTokens: 120, OutputTokens: 40},
	}}
	o := NewAnthropicOracle(client, config.AnthropicConfig{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   512,
		Temperature: 0.3,
	})

	got, err := o.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, validResponse, got)

	assert.Equal(t, "claude-haiku-4-5-20251001", client.req.Model)
	assert.Equal(t, int64(512), client.req.MaxTokens)
	require.NotNil(t, client.req.Temperature)
	assert.InDelta(t, 0.3, *client.req.Temperature, 0.0001)
	require.Len(t, client.req.Messages, 1)
	assert.Equal(t, "user", client.req.Messages[0].Role)
	assert.Equal(t, "prompt", client.req.Messages[0].Content)
}

func TestAnthropicOracle_ErrorKeepsStatus(t *testing.T) {
	apiErr := &anthropic.APIError{StatusCode: 503, Err: errors.New("unavailable")}
	o := NewAnthropicOracle(&fakeClient{err: apiErr}, config.AnthropicConfig{Model: "m"})

	_, err := o.Complete(context.Background(), "prompt")
	require.Error(t, err)

	var got *anthropic.APIError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, 503, got.HTTPStatus())
}
