package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/models"
)

func openAIDeployment(baseURL string) *models.Deployment {
	return &models.Deployment{
		ID:              "openai/gpt-3.5-turbo",
		ModelID:         "gpt-3.5-turbo",
		Provider:        models.ProviderOpenAI,
		ProviderModelID: "gpt-3.5-turbo",
		Endpoint: models.EndpointConfig{
			BaseURL: baseURL,
			Timeout: 30 * time.Second,
			Auth:    models.AuthConfig{Type: models.AuthAPIKey, APIKey: "test-key"},
		},
	}
}

func TestOpenAITranslateRequest(t *testing.T) {
	p := NewOpenAIProvider()
	req := &UnifiedRequest{
		Model:       "gpt-3.5-turbo",
		Messages:    []Message{{Role: "user", Content: "hi"}},
		Temperature: 0.7,
		MaxTokens:   100,
	}

	providerReq, err := p.TranslateRequest(context.Background(), req, openAIDeployment("https://api.openai.com/v1"))
	require.NoError(t, err)

	assert.Equal(t, "https://api.openai.com/v1/chat/completions", providerReq.URL)
	assert.Equal(t, "POST", providerReq.Method)
	assert.Equal(t, "Bearer test-key", providerReq.Headers["Authorization"])

	body := providerReq.Body.(map[string]interface{})
	assert.Equal(t, "gpt-3.5-turbo", body["model"])
	assert.Equal(t, 100, body["max_tokens"])
}

func TestOpenAIExecuteAndTranslate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-3.5-turbo",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hi!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`)
	}))
	defer server.Close()

	p := NewOpenAIProvider()
	d := openAIDeployment(server.URL)
	req := &UnifiedRequest{
		Model:    "gpt-3.5-turbo",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}

	providerReq, err := p.TranslateRequest(context.Background(), req, d)
	require.NoError(t, err)

	providerResp, err := p.Execute(context.Background(), providerReq)
	require.NoError(t, err)

	resp, err := p.TranslateResponse(context.Background(), providerResp, d)
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hi!", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
	assert.Equal(t, "openai", resp.Metadata["provider"])
}

func TestOpenAIExecuteUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "bad key"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewOpenAIProvider()
	d := openAIDeployment(server.URL)
	providerReq, err := p.TranslateRequest(context.Background(), &UnifiedRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, d)
	require.NoError(t, err)

	_, err = p.Execute(context.Background(), providerReq)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestOpenAIStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		chunks := []string{
			`{"id":"c1","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"id":"c1","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
			`{"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	p := NewOpenAIProvider()
	d := openAIDeployment(server.URL)
	providerReq, err := p.TranslateRequest(context.Background(), &UnifiedRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
		Stream:   true,
	}, d)
	require.NoError(t, err)

	stream := make(chan StreamChunk, 16)
	go p.Stream(context.Background(), providerReq, stream)

	var content string
	var done StreamChunk
	for chunk := range stream {
		require.NoError(t, chunk.Error)
		content += chunk.Data
		if chunk.Done {
			done = chunk
		}
	}

	assert.Equal(t, "Hello", content)
	assert.True(t, done.Done)
	assert.Equal(t, "stop", done.FinishReason)
	require.NotNil(t, done.Usage)
	assert.Equal(t, 7, done.Usage.TotalTokens)
}

func TestOpenRouterTranslateRequestAddsAttribution(t *testing.T) {
	p := NewOpenRouterProvider("https://example.com", "myapp")
	d := &models.Deployment{
		ID:              "openrouter/meta-llama/llama-3.1-70b-instruct",
		Provider:        models.ProviderOpenRouter,
		ProviderModelID: "meta-llama/llama-3.1-70b-instruct",
		Endpoint: models.EndpointConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Auth:    models.AuthConfig{Type: models.AuthAPIKey, APIKey: "or-key"},
		},
	}

	providerReq, err := p.TranslateRequest(context.Background(), &UnifiedRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, d)
	require.NoError(t, err)

	assert.Equal(t, "https://openrouter.ai/api/v1/chat/completions", providerReq.URL)
	assert.Equal(t, "https://example.com", providerReq.Headers["HTTP-Referer"])
	assert.Equal(t, "myapp", providerReq.Headers["X-Title"])
	assert.Equal(t, "Bearer or-key", providerReq.Headers["Authorization"])
}
