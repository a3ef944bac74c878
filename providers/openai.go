package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatrelay/models"
)

// OpenAIProvider handles OpenAI and OpenAI-compatible chat completion APIs.
// The deployment BaseURL is the API root (e.g. https://api.openai.com/v1);
// the chat completions path is appended here.
type OpenAIProvider struct {
	client *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider() *OpenAIProvider {
	return &OpenAIProvider{
		client: newHTTPClient(),
	}
}

// TranslateRequest converts unified request to OpenAI format
func (p *OpenAIProvider) TranslateRequest(ctx context.Context, req *UnifiedRequest, deployment *models.Deployment) (*ProviderRequest, error) {
	body := map[string]interface{}{
		"model":    deployment.ProviderModelID,
		"messages": req.Messages,
		"stream":   req.Stream,
	}

	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.TopP > 0 {
		body["top_p"] = req.TopP
	}
	if req.FrequencyPenalty != 0 {
		body["frequency_penalty"] = req.FrequencyPenalty
	}
	if req.PresencePenalty != 0 {
		body["presence_penalty"] = req.PresencePenalty
	}
	if len(req.Stop) > 0 {
		body["stop"] = req.Stop
	}
	if req.User != "" {
		body["user"] = req.User
	}

	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if deployment.Endpoint.Auth.Type == models.AuthAPIKey && deployment.Endpoint.Auth.APIKey != "" {
		headers["Authorization"] = "Bearer " + deployment.Endpoint.Auth.APIKey
	}
	for k, v := range deployment.Endpoint.CustomHeaders {
		headers[k] = v
	}

	timeout := deployment.Endpoint.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &ProviderRequest{
		URL:     strings.TrimSuffix(deployment.Endpoint.BaseURL, "/") + "/chat/completions",
		Method:  "POST",
		Headers: headers,
		Body:    body,
		Timeout: timeout,
	}, nil
}

// Execute sends the request to the API
func (p *OpenAIProvider) Execute(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error) {
	jsonBody, err := json.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	headers := make(map[string]string)
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return &ProviderResponse{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       json.RawMessage(body),
	}, nil
}

// TranslateResponse converts API response to unified format
func (p *OpenAIProvider) TranslateResponse(ctx context.Context, resp *ProviderResponse, deployment *models.Deployment) (*UnifiedResponse, error) {
	// OpenAI responses already match the unified shape
	var unifiedResp UnifiedResponse
	if err := json.Unmarshal(resp.Body, &unifiedResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if unifiedResp.Metadata == nil {
		unifiedResp.Metadata = make(map[string]interface{})
	}
	unifiedResp.Metadata["deployment_id"] = deployment.ID
	unifiedResp.Metadata["provider"] = string(deployment.Provider)
	unifiedResp.Metadata["provider_model"] = deployment.ProviderModelID

	return &unifiedResp, nil
}

// Stream handles streaming responses
func (p *OpenAIProvider) Stream(ctx context.Context, req *ProviderRequest, stream chan<- StreamChunk) error {
	defer close(stream)

	if body, ok := req.Body.(map[string]interface{}); ok {
		body["stream"] = true
	}

	jsonBody, err := json.Marshal(req.Body)
	if err != nil {
		stream <- StreamChunk{Error: err}
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewBuffer(jsonBody))
	if err != nil {
		stream <- StreamChunk{Error: err}
		return err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		stream <- StreamChunk{Error: err}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
		stream <- StreamChunk{Error: err}
		return err
	}

	finishReason := ""
	var usage *Usage

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if data == "[DONE]" {
			stream <- StreamChunk{Done: true, FinishReason: finishReason, Usage: usage}
			return nil
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed JSON
			continue
		}

		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
		if choice.Delta.Content != "" {
			stream <- StreamChunk{Data: choice.Delta.Content}
		}
	}

	if err := scanner.Err(); err != nil {
		stream <- StreamChunk{Error: err}
		return err
	}

	// Upstream closed without [DONE]; report what we have
	stream <- StreamChunk{Done: true, FinishReason: finishReason, Usage: usage}
	return nil
}

// openAIStreamChunk is the wire shape of a chat.completion.chunk event
type openAIStreamChunk struct {
	ID      string `json:"id"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

// ValidateConfig validates deployment configuration
func (p *OpenAIProvider) ValidateConfig(deployment *models.Deployment) error {
	if deployment.Endpoint.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if deployment.ProviderModelID == "" {
		return fmt.Errorf("provider model ID is required")
	}
	if deployment.Endpoint.Auth.Type == models.AuthAPIKey && deployment.Endpoint.Auth.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	return nil
}

// HealthCheck performs a health check
func (p *OpenAIProvider) HealthCheck(ctx context.Context, deployment *models.Deployment) error {
	req := &UnifiedRequest{
		Model: deployment.ProviderModelID,
		Messages: []Message{
			{Role: "user", Content: "Hi"},
		},
		MaxTokens: 10,
	}

	providerReq, err := p.TranslateRequest(ctx, req, deployment)
	if err != nil {
		return fmt.Errorf("health check translation failed: %w", err)
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := p.Execute(healthCtx, providerReq)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GetInfo returns provider information
func (p *OpenAIProvider) GetInfo() ProviderInfo {
	return ProviderInfo{
		Name:           "OpenAI",
		Version:        "1.0",
		SupportsStream: true,
		RequiresAuth:   true,
		MaxRequestSize: 4 * 1024 * 1024, // 4MB
		RateLimits: map[string]int{
			"requests_per_minute": 500,
			"tokens_per_minute":   200000,
		},
	}
}
