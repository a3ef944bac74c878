package providers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/models"
)

func anthropicDeployment() *models.Deployment {
	return &models.Deployment{
		ID:              "anthropic/claude-3-5-sonnet",
		ModelID:         "claude-3-5-sonnet-20241022",
		Provider:        models.ProviderAnthropic,
		ProviderModelID: "claude-3-5-sonnet-20241022",
		Endpoint: models.EndpointConfig{
			BaseURL: "https://api.anthropic.com",
			Timeout: 30 * time.Second,
			Auth:    models.AuthConfig{Type: models.AuthAPIKey, APIKey: "test-key"},
		},
	}
}

func TestAnthropicTranslateRequest(t *testing.T) {
	p := NewAnthropicProvider()
	req := &UnifiedRequest{
		Model: "claude-3-5-sonnet-20241022",
		Messages: []Message{
			{Role: "system", Content: "Be helpful."},
			{Role: "user", Content: "hi"},
		},
		MaxTokens: 256,
	}

	providerReq, err := p.TranslateRequest(context.Background(), req, anthropicDeployment())
	require.NoError(t, err)

	assert.Equal(t, "https://api.anthropic.com/v1/messages", providerReq.URL)
	assert.Equal(t, "test-key", providerReq.Headers["x-api-key"])
	assert.Equal(t, anthropicVersion, providerReq.Headers["anthropic-version"])

	body := providerReq.Body.(map[string]interface{})
	// System prompt is hoisted out of the messages array
	assert.Equal(t, "Be helpful.", body["system"])
	msgs := body["messages"].([]map[string]string)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0]["role"])
	assert.Equal(t, 256, body["max_tokens"])
}

func TestAnthropicTranslateRequestDefaultsMaxTokens(t *testing.T) {
	p := NewAnthropicProvider()
	req := &UnifiedRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}

	providerReq, err := p.TranslateRequest(context.Background(), req, anthropicDeployment())
	require.NoError(t, err)

	body := providerReq.Body.(map[string]interface{})
	assert.Equal(t, 4096, body["max_tokens"])
}

func TestAnthropicTranslateResponse(t *testing.T) {
	p := NewAnthropicProvider()
	raw := `{
		"id": "msg_123",
		"type": "message",
		"role": "assistant",
		"model": "claude-3-5-sonnet-20241022",
		"content": [{"type": "text", "text": "Hello!"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 10, "output_tokens": 3}
	}`

	resp, err := p.TranslateResponse(context.Background(), &ProviderResponse{
		StatusCode: 200,
		Body:       json.RawMessage(raw),
	}, anthropicDeployment())
	require.NoError(t, err)

	assert.Equal(t, "msg_123", resp.ID)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hello!", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 13, resp.Usage.TotalTokens)
}

func TestMapAnthropicStopReason(t *testing.T) {
	assert.Equal(t, "stop", mapAnthropicStopReason("end_turn"))
	assert.Equal(t, "stop", mapAnthropicStopReason("stop_sequence"))
	assert.Equal(t, "length", mapAnthropicStopReason("max_tokens"))
	assert.Equal(t, "tool_calls", mapAnthropicStopReason("tool_use"))
}
