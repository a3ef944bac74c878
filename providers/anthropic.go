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

const anthropicVersion = "2023-06-01"

// AnthropicProvider handles the Anthropic Messages API. System messages are
// hoisted into the top-level system field, auth is via x-api-key, and
// max_tokens is mandatory on the wire.
type AnthropicProvider struct {
	client *http.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider() *AnthropicProvider {
	return &AnthropicProvider{
		client: newHTTPClient(),
	}
}

// TranslateRequest converts unified request to Anthropic format
func (p *AnthropicProvider) TranslateRequest(ctx context.Context, req *UnifiedRequest, deployment *models.Deployment) (*ProviderRequest, error) {
	var systemParts []string
	apiMessages := make([]map[string]string, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		apiMessages = append(apiMessages, map[string]string{
			"role":    msg.Role,
			"content": msg.Content,
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	body := map[string]interface{}{
		"model":      deployment.ProviderModelID,
		"messages":   apiMessages,
		"max_tokens": maxTokens,
		"stream":     req.Stream,
	}
	if len(systemParts) > 0 {
		body["system"] = strings.Join(systemParts, "\n")
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.TopP > 0 {
		body["top_p"] = req.TopP
	}
	if len(req.Stop) > 0 {
		body["stop_sequences"] = req.Stop
	}

	headers := map[string]string{
		"Content-Type":      "application/json",
		"anthropic-version": anthropicVersion,
	}
	if deployment.Endpoint.Auth.APIKey != "" {
		headers["x-api-key"] = deployment.Endpoint.Auth.APIKey
	}
	for k, v := range deployment.Endpoint.CustomHeaders {
		headers[k] = v
	}

	timeout := deployment.Endpoint.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &ProviderRequest{
		URL:     strings.TrimSuffix(deployment.Endpoint.BaseURL, "/") + "/v1/messages",
		Method:  "POST",
		Headers: headers,
		Body:    body,
		Timeout: timeout,
	}, nil
}

// Execute sends the request to the API
func (p *AnthropicProvider) Execute(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error) {
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

// anthropicResponse is the wire shape of a Messages API response
type anthropicResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func mapAnthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

// TranslateResponse converts Anthropic response to unified format
func (p *AnthropicProvider) TranslateResponse(ctx context.Context, resp *ProviderResponse, deployment *models.Deployment) (*UnifiedResponse, error) {
	var anthResp anthropicResponse
	if err := json.Unmarshal(resp.Body, &anthResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	var text strings.Builder
	for _, block := range anthResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &UnifiedResponse{
		ID:      anthResp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   anthResp.Model,
		Choices: []Choice{
			{
				Index: 0,
				Message: Message{
					Role:    "assistant",
					Content: text.String(),
				},
				FinishReason: mapAnthropicStopReason(anthResp.StopReason),
			},
		},
		Usage: Usage{
			PromptTokens:     anthResp.Usage.InputTokens,
			CompletionTokens: anthResp.Usage.OutputTokens,
			TotalTokens:      anthResp.Usage.InputTokens + anthResp.Usage.OutputTokens,
		},
		Metadata: map[string]interface{}{
			"deployment_id":  deployment.ID,
			"provider":       string(deployment.Provider),
			"provider_model": deployment.ProviderModelID,
		},
	}, nil
}

// anthropicStreamEvent covers the subset of SSE event payloads we consume
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Message *struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

// Stream handles streaming responses
func (p *AnthropicProvider) Stream(ctx context.Context, req *ProviderRequest, stream chan<- StreamChunk) error {
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
	usage := &Usage{}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				usage.PromptTokens = event.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if event.Delta.Text != "" {
				stream <- StreamChunk{Data: event.Delta.Text}
			}
		case "message_delta":
			if event.Delta.StopReason != "" {
				finishReason = mapAnthropicStopReason(event.Delta.StopReason)
			}
			if event.Usage != nil {
				usage.CompletionTokens = event.Usage.OutputTokens
			}
		case "message_stop":
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			stream <- StreamChunk{Done: true, FinishReason: finishReason, Usage: usage}
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		stream <- StreamChunk{Error: err}
		return err
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	stream <- StreamChunk{Done: true, FinishReason: finishReason, Usage: usage}
	return nil
}

// ValidateConfig validates deployment configuration
func (p *AnthropicProvider) ValidateConfig(deployment *models.Deployment) error {
	if deployment.Endpoint.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if deployment.ProviderModelID == "" {
		return fmt.Errorf("provider model ID is required")
	}
	if deployment.Endpoint.Auth.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	return nil
}

// HealthCheck performs a health check
func (p *AnthropicProvider) HealthCheck(ctx context.Context, deployment *models.Deployment) error {
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
func (p *AnthropicProvider) GetInfo() ProviderInfo {
	return ProviderInfo{
		Name:           "Anthropic",
		Version:        anthropicVersion,
		SupportsStream: true,
		RequiresAuth:   true,
		MaxRequestSize: 4 * 1024 * 1024,
		RateLimits: map[string]int{
			"requests_per_minute": 50,
		},
	}
}
