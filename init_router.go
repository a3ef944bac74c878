package main

import (
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"chatrelay/config"
	"chatrelay/models"
	"chatrelay/providers"
	"chatrelay/routing"
)

const defaultModel = "gpt-3.5-turbo"

var (
	modelRouter        *routing.Router
	modelRegistry      *models.ModelRegistry
	deploymentRegistry *models.DeploymentRegistry

	dynamicMu sync.Mutex
)

// providerDefaults maps each provider to its API root and key variable
var providerDefaults = map[models.ProviderType]struct {
	BaseURLEnv string
	BaseURL    string
	KeyEnv     string
}{
	models.ProviderOpenAI:     {"OPENAI_BASE_URL", "https://api.openai.com/v1", "OPENAI_API_KEY"},
	models.ProviderGemini:     {"GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta", "GOOGLE_AI_API_KEY"},
	models.ProviderAnthropic:  {"ANTHROPIC_BASE_URL", "https://api.anthropic.com", "ANTHROPIC_API_KEY"},
	models.ProviderOpenRouter: {"OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1", "OPENROUTER_API_KEY"},
}

// detectProvider maps a model name to its provider. The mapping is total:
// gemini-prefixed names go to Gemini, claude to Anthropic, vendor-slash
// names (meta-llama/..., mistralai/...) to OpenRouter, everything else to
// OpenAI.
func detectProvider(model string) models.ProviderType {
	name := strings.TrimPrefix(model, "models/")
	switch {
	case strings.HasPrefix(name, "gemini"):
		return models.ProviderGemini
	case strings.HasPrefix(name, "claude"):
		return models.ProviderAnthropic
	case strings.Contains(name, "/"):
		return models.ProviderOpenRouter
	default:
		return models.ProviderOpenAI
	}
}

// providerConfigured reports whether the provider's API key is present
func providerConfigured(pt models.ProviderType) bool {
	defaults, ok := providerDefaults[pt]
	if !ok {
		return false
	}
	return os.Getenv(defaults.KeyEnv) != ""
}

// providerBaseURL returns the provider's API root, honoring env overrides
func providerBaseURL(pt models.ProviderType) string {
	defaults := providerDefaults[pt]
	if url := os.Getenv(defaults.BaseURLEnv); url != "" {
		return url
	}
	return defaults.BaseURL
}

// InitializeModelRouter builds the routing system. A YAML config directory
// takes precedence; otherwise deployments are synthesized on demand from
// provider env keys.
func InitializeModelRouter() error {
	configDir := settings.ConfigDir
	if _, err := os.Stat(configDir); err == nil {
		cfg, err := config.LoadConfig(configDir)
		if err != nil {
			log.Printf("[Router] failed to load config from %s: %v", configDir, err)
		} else {
			router, modelReg, deploymentReg, err := config.BuildRouter(cfg)
			if err != nil {
				return err
			}
			modelRouter = router
			modelRegistry = modelReg
			deploymentRegistry = deploymentReg
			log.Printf("[Router] loaded %d models, %d deployments from %s",
				len(modelRegistry.List()), len(deploymentRegistry.List()), configDir)
		}
	}

	if modelRouter == nil {
		modelRouter = routing.NewRouter(routing.StrategyPriority)
		modelRegistry = models.NewModelRegistry()
		deploymentRegistry = models.NewDeploymentRegistry()
		log.Println("[Router] no YAML topology, synthesizing deployments from env keys")
	}

	registerProviders(modelRouter)
	return nil
}

func registerProviders(router *routing.Router) {
	router.RegisterProvider(models.ProviderOpenAI, providers.NewOpenAIProvider())
	router.RegisterProvider(models.ProviderGemini, providers.NewGeminiProvider())
	router.RegisterProvider(models.ProviderAnthropic, providers.NewAnthropicProvider())
	router.RegisterProvider(models.ProviderOpenRouter, providers.NewOpenRouterProvider(settings.AppReferer, settings.AppTitle))
}

// ensureDeployment registers a model and deployment for a requested model
// name when none exists yet. Clients send arbitrary model names, so the
// topology grows on demand; the provider must be configured.
func ensureDeployment(model string) {
	dynamicMu.Lock()
	defer dynamicMu.Unlock()

	if _, exists := modelRegistry.Get(model); exists {
		return
	}

	pt := detectProvider(model)
	if !providerConfigured(pt) {
		return
	}

	providerModelID := strings.TrimPrefix(model, "models/")

	m := &models.Model{
		ID:     model,
		Name:   model,
		Family: string(pt),
		Capabilities: models.ModelCapabilities{
			SupportsStreaming: true,
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	modelRegistry.Register(m)
	modelRouter.RegisterModel(m)

	d := &models.Deployment{
		ID:              string(pt) + "/" + providerModelID,
		ModelID:         model,
		Provider:        pt,
		ProviderModelID: providerModelID,
		Priority:        1,
		Weight:          100,
		Endpoint: models.EndpointConfig{
			BaseURL: providerBaseURL(pt),
			Timeout: 60 * time.Second,
			Auth: models.AuthConfig{
				Type:   models.AuthAPIKey,
				APIKey: os.Getenv(providerDefaults[pt].KeyEnv),
			},
		},
		Status: models.DeploymentStatus{
			Available: true,
			Healthy:   true,
		},
		CreatedAt: time.Now(),
	}
	deploymentRegistry.Register(d)
	modelRouter.RegisterDeployment(d)

	log.Printf("[Router] synthesized deployment %s for model %s", d.ID, model)
}
