package providers

import (
	"context"

	"chatrelay/models"
)

// OpenRouterProvider speaks the OpenAI chat completions dialect against
// openrouter.ai. The wire format is identical, so the OpenAI provider is
// embedded and only the attribution headers are added.
type OpenRouterProvider struct {
	*OpenAIProvider
	referer string
	title   string
}

// NewOpenRouterProvider creates a new OpenRouter provider
func NewOpenRouterProvider(referer, title string) *OpenRouterProvider {
	if referer == "" {
		referer = "http://localhost"
	}
	if title == "" {
		title = "chatrelay"
	}
	return &OpenRouterProvider{
		OpenAIProvider: NewOpenAIProvider(),
		referer:        referer,
		title:          title,
	}
}

// TranslateRequest converts unified request to OpenRouter format
func (p *OpenRouterProvider) TranslateRequest(ctx context.Context, req *UnifiedRequest, deployment *models.Deployment) (*ProviderRequest, error) {
	providerReq, err := p.OpenAIProvider.TranslateRequest(ctx, req, deployment)
	if err != nil {
		return nil, err
	}

	// Attribution headers used by OpenRouter's ranking dashboard
	if _, ok := providerReq.Headers["HTTP-Referer"]; !ok {
		providerReq.Headers["HTTP-Referer"] = p.referer
	}
	if _, ok := providerReq.Headers["X-Title"]; !ok {
		providerReq.Headers["X-Title"] = p.title
	}

	return providerReq, nil
}

// GetInfo returns provider information
func (p *OpenRouterProvider) GetInfo() ProviderInfo {
	return ProviderInfo{
		Name:           "OpenRouter",
		Version:        "1.0",
		SupportsStream: true,
		RequiresAuth:   true,
		MaxRequestSize: 4 * 1024 * 1024,
		RateLimits: map[string]int{
			"requests_per_minute": 200,
		},
	}
}
