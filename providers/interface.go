package providers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"chatrelay/models"
)

// newHTTPClient builds the client shared by the provider implementations.
// No overall client timeout: request deadlines come from the caller's
// context, so long-lived SSE bodies are not cut off mid-stream. Connection
// setup and the wait for response headers stay bounded on the transport.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

// Provider interface for all upstream LLM providers
type Provider interface {
	// Translate request to provider format
	TranslateRequest(ctx context.Context, req *UnifiedRequest, deployment *models.Deployment) (*ProviderRequest, error)

	// Execute request
	Execute(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error)

	// Translate response to unified format
	TranslateResponse(ctx context.Context, resp *ProviderResponse, deployment *models.Deployment) (*UnifiedResponse, error)

	// Stream response
	Stream(ctx context.Context, req *ProviderRequest, stream chan<- StreamChunk) error

	// Validate deployment configuration
	ValidateConfig(deployment *models.Deployment) error

	// Health check
	HealthCheck(ctx context.Context, deployment *models.Deployment) error

	// Get provider info
	GetInfo() ProviderInfo
}

// UnifiedRequest is the standard request format
type UnifiedRequest struct {
	Model            string                 `json:"model"`
	Messages         []Message              `json:"messages"`
	Temperature      float64                `json:"temperature,omitempty"`
	MaxTokens        int                    `json:"max_tokens,omitempty"`
	TopP             float64                `json:"top_p,omitempty"`
	FrequencyPenalty float64                `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64                `json:"presence_penalty,omitempty"`
	Stream           bool                   `json:"stream,omitempty"`
	Stop             []string               `json:"stop,omitempty"`
	Tools            []Tool                 `json:"tools,omitempty"`
	User             string                 `json:"user,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Tool represents a function the model may call
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// UnifiedResponse is the standard response format
type UnifiedResponse struct {
	ID       string                 `json:"id"`
	Object   string                 `json:"object"`
	Created  int64                  `json:"created"`
	Model    string                 `json:"model"`
	Choices  []Choice               `json:"choices"`
	Usage    Usage                  `json:"usage"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Choice represents a response choice
type Choice struct {
	Index        int      `json:"index"`
	Message      Message  `json:"message"`
	FinishReason string   `json:"finish_reason"`
	Delta        *Message `json:"delta,omitempty"` // For streaming
}

// Usage tracks token usage
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderRequest is the request to send to the provider
type ProviderRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    interface{}
	Timeout time.Duration
}

// ProviderResponse is the response from the provider
type ProviderResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       json.RawMessage
}

// StreamChunk represents a streaming response chunk.
// Data carries incremental text; a chunk with Done set terminates the
// stream and may carry the final usage and finish reason.
type StreamChunk struct {
	Data         string
	Error        error
	Done         bool
	FinishReason string
	Usage        *Usage
}

// ProviderInfo contains provider metadata
type ProviderInfo struct {
	Name           string
	Version        string
	SupportsStream bool
	RequiresAuth   bool
	MaxRequestSize int
	RateLimits     map[string]int
}
