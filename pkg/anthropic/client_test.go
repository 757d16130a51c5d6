package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "```json\n"},
		{Type: "tool_use", Text: "ignored"},
		{Type: "text", Text: "{}\n```"},
	}}
	assert.Equal(t, "```json\n{}\n```", resp.Text())
}

func TestToSDKMessages_Roles(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "system", Content: "c"},
	})
	assert.Len(t, msgs, 3)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	assert.Equal(t, "user", string(msgs[2].Role))
}

func TestEstimateCost_Haiku(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 6.00, u.EstimateCost("claude-haiku-4-5-20251001"), 0.001)
}

func TestEstimateCost_Sonnet(t *testing.T) {
	u := TokenUsage{InputTokens: 200, OutputTokens: 100}
	assert.InDelta(t, 0.0021, u.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	u := TokenUsage{InputTokens: 1000, OutputTokens: 1000}
	assert.Zero(t, u.EstimateCost("unknown-model"))
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	u := TokenUsage{InputTokens: 100, OutputTokens: 50}
	assert.NotPanics(t, func() {
		u.LogCost("claude-haiku-4-5-20251001", "enrich", zap.Int64("surgeon_id", 1))
	})
}

func TestAPIError(t *testing.T) {
	err := &APIError{StatusCode: 503, Err: assert.AnError}
	assert.Equal(t, 503, err.HTTPStatus())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, assert.AnError.Error(), err.Error())
}
