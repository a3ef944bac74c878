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

// GeminiProvider handles Google's Generative Language API.
// Gemini differs from the unified shape in three ways: the assistant role is
// called "model", system prompts are folded into the first user turn, and
// authentication uses a query-string key instead of a header.
type GeminiProvider struct {
	client *http.Client
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider() *GeminiProvider {
	return &GeminiProvider{
		client: newHTTPClient(),
	}
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

func defaultSafetySettings() []geminiSafetySetting {
	categories := []string{
		"HARM_CATEGORY_HARASSMENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
	}
	settings := make([]geminiSafetySetting, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, geminiSafetySetting{
			Category:  c,
			Threshold: "BLOCK_MEDIUM_AND_ABOVE",
		})
	}
	return settings
}

// convertMessages maps unified messages to Gemini contents. System messages
// are collected and prepended to the first user turn because the v1beta API
// has no system role.
func convertMessages(messages []Message) []geminiContent {
	var systemParts []string
	var contents []geminiContent

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			systemParts = append(systemParts, msg.Content)
		case "assistant":
			contents = append(contents, geminiContent{
				Role:  "model",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		default:
			text := msg.Content
			if len(systemParts) > 0 && len(contents) == 0 {
				text = strings.Join(systemParts, "\n") + "\n\n" + text
				systemParts = nil
			}
			contents = append(contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: text}},
			})
		}
	}

	// System prompt with no user turn to attach to
	if len(systemParts) > 0 {
		contents = append([]geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: strings.Join(systemParts, "\n")}},
		}}, contents...)
	}

	return contents
}

// TranslateRequest converts unified request to Gemini format
func (p *GeminiProvider) TranslateRequest(ctx context.Context, req *UnifiedRequest, deployment *models.Deployment) (*ProviderRequest, error) {
	generationConfig := map[string]interface{}{}
	if req.Temperature > 0 {
		generationConfig["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		generationConfig["maxOutputTokens"] = req.MaxTokens
	}
	if req.TopP > 0 {
		generationConfig["topP"] = req.TopP
	}
	if len(req.Stop) > 0 {
		generationConfig["stopSequences"] = req.Stop
	}

	body := map[string]interface{}{
		"contents":       convertMessages(req.Messages),
		"safetySettings": defaultSafetySettings(),
	}
	if len(generationConfig) > 0 {
		body["generationConfig"] = generationConfig
	}

	method := "generateContent"
	query := ""
	if req.Stream {
		method = "streamGenerateContent"
		query = "?alt=sse"
	}

	base := strings.TrimSuffix(deployment.Endpoint.BaseURL, "/")
	modelID := strings.TrimPrefix(deployment.ProviderModelID, "models/")
	url := fmt.Sprintf("%s/models/%s:%s%s", base, modelID, method, query)

	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if deployment.Endpoint.Auth.APIKey != "" {
		headers["x-goog-api-key"] = deployment.Endpoint.Auth.APIKey
	}
	for k, v := range deployment.Endpoint.CustomHeaders {
		headers[k] = v
	}

	timeout := deployment.Endpoint.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &ProviderRequest{
		URL:     url,
		Method:  "POST",
		Headers: headers,
		Body:    body,
		Timeout: timeout,
	}, nil
}

// Execute sends the request to the API
func (p *GeminiProvider) Execute(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error) {
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

// geminiResponse is the wire shape of a generateContent response
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
			Role  string       `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
		Index        int    `json:"index"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func mapGeminiFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return strings.ToLower(reason)
	}
}

// TranslateResponse converts Gemini response to unified format
func (p *GeminiProvider) TranslateResponse(ctx context.Context, resp *ProviderResponse, deployment *models.Deployment) (*UnifiedResponse, error) {
	var geminiResp geminiResponse
	if err := json.Unmarshal(resp.Body, &geminiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(geminiResp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}

	unifiedResp := &UnifiedResponse{
		ID:      fmt.Sprintf("gemini-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   deployment.ProviderModelID,
		Metadata: map[string]interface{}{
			"deployment_id":  deployment.ID,
			"provider":       string(deployment.Provider),
			"provider_model": deployment.ProviderModelID,
		},
	}

	for i, candidate := range geminiResp.Candidates {
		var text strings.Builder
		for _, part := range candidate.Content.Parts {
			text.WriteString(part.Text)
		}
		unifiedResp.Choices = append(unifiedResp.Choices, Choice{
			Index: i,
			Message: Message{
				Role:    "assistant",
				Content: text.String(),
			},
			FinishReason: mapGeminiFinishReason(candidate.FinishReason),
		})
	}

	if geminiResp.UsageMetadata != nil {
		unifiedResp.Usage = Usage{
			PromptTokens:     geminiResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      geminiResp.UsageMetadata.TotalTokenCount,
		}
	}

	return unifiedResp, nil
}

// Stream handles streaming responses via the alt=sse endpoint
func (p *GeminiProvider) Stream(ctx context.Context, req *ProviderRequest, stream chan<- StreamChunk) error {
	defer close(stream)

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

		var chunk geminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if chunk.UsageMetadata != nil {
			usage = &Usage{
				PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
				CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
			}
		}
		for _, candidate := range chunk.Candidates {
			if candidate.FinishReason != "" {
				finishReason = mapGeminiFinishReason(candidate.FinishReason)
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					stream <- StreamChunk{Data: part.Text}
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		stream <- StreamChunk{Error: err}
		return err
	}

	stream <- StreamChunk{Done: true, FinishReason: finishReason, Usage: usage}
	return nil
}

// ValidateConfig validates deployment configuration
func (p *GeminiProvider) ValidateConfig(deployment *models.Deployment) error {
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
func (p *GeminiProvider) HealthCheck(ctx context.Context, deployment *models.Deployment) error {
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
func (p *GeminiProvider) GetInfo() ProviderInfo {
	return ProviderInfo{
		Name:           "Gemini",
		Version:        "v1beta",
		SupportsStream: true,
		RequiresAuth:   true,
		MaxRequestSize: 4 * 1024 * 1024,
		RateLimits: map[string]int{
			"requests_per_minute": 60,
		},
	}
}
