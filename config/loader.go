package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chatrelay/models"
	"chatrelay/routing"
)

// Config represents the complete routing configuration
type Config struct {
	Models      map[string]ModelConfig      `yaml:"models"`
	Deployments map[string]DeploymentConfig `yaml:"deployments"`
	Routing     RoutingConfig               `yaml:"routing"`
}

// ModelConfig from YAML
type ModelConfig struct {
	Name         string                   `yaml:"name"`
	Family       string                   `yaml:"family"`
	Version      string                   `yaml:"version"`
	Capabilities models.ModelCapabilities `yaml:"capabilities"`
	Deployments  []string                 `yaml:"deployments"`
	Tags         map[string]string        `yaml:"tags"`
}

// DeploymentConfig from YAML
type DeploymentConfig struct {
	ModelID         string            `yaml:"model_id"`
	Provider        string            `yaml:"provider"`
	ProviderModelID string            `yaml:"provider_model_id"`
	Priority        int               `yaml:"priority"`
	Weight          int               `yaml:"weight"`
	Endpoint        EndpointConfig    `yaml:"endpoint"`
	Tags            map[string]string `yaml:"tags"`
}

// EndpointConfig from YAML
type EndpointConfig struct {
	BaseURL       string            `yaml:"base_url"`
	Timeout       string            `yaml:"timeout"`
	MaxRetries    int               `yaml:"max_retries"`
	APIVersion    string            `yaml:"api_version,omitempty"`
	Auth          AuthConfig        `yaml:"auth"`
	CustomHeaders map[string]string `yaml:"custom_headers,omitempty"`
}

// AuthConfig from YAML
type AuthConfig struct {
	Type   string `yaml:"type"`
	KeyEnv string `yaml:"key_env,omitempty"`
}

// RoutingConfig from YAML
type RoutingConfig struct {
	Strategy    string            `yaml:"strategy"`
	HealthCheck HealthCheckConfig `yaml:"health_check"`
	Fallback    FallbackConfig    `yaml:"fallback"`
}

// HealthCheckConfig from YAML
type HealthCheckConfig struct {
	Enabled             bool   `yaml:"enabled"`
	Interval            string `yaml:"interval"`
	Timeout             string `yaml:"timeout"`
	MaxConsecutiveFails int    `yaml:"max_consecutive_fails"`
	CheckOnStartup      bool   `yaml:"check_on_startup"`
}

// FallbackConfig from YAML
type FallbackConfig struct {
	Enabled      bool `yaml:"enabled"`
	MaxFallbacks int  `yaml:"max_fallbacks"`
}

// LoadConfig loads configuration from YAML files in configDir
func LoadConfig(configDir string) (*Config, error) {
	config := &Config{
		Models:      make(map[string]ModelConfig),
		Deployments: make(map[string]DeploymentConfig),
	}

	modelsPath := filepath.Join(configDir, "models.yaml")
	if err := loadYAMLFile(modelsPath, &struct {
		Models map[string]ModelConfig `yaml:"models"`
	}{Models: config.Models}); err != nil {
		return nil, fmt.Errorf("failed to load models.yaml: %w", err)
	}

	deploymentsPath := filepath.Join(configDir, "deployments.yaml")
	if err := loadYAMLFile(deploymentsPath, &struct {
		Deployments map[string]DeploymentConfig `yaml:"deployments"`
	}{Deployments: config.Deployments}); err != nil {
		return nil, fmt.Errorf("failed to load deployments.yaml: %w", err)
	}

	routingPath := filepath.Join(configDir, "routing.yaml")
	var routingWrapper struct {
		Routing RoutingConfig `yaml:"routing"`
	}
	if err := loadYAMLFile(routingPath, &routingWrapper); err != nil {
		return nil, fmt.Errorf("failed to load routing.yaml: %w", err)
	}
	config.Routing = routingWrapper.Routing

	expandEnvVars(config)

	return config, nil
}

func loadYAMLFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, v)
}

// expandEnvVars expands environment references in configuration values
func expandEnvVars(config *Config) {
	for id, deployment := range config.Deployments {
		deployment.Endpoint.BaseURL = expandEnv(deployment.Endpoint.BaseURL)
		config.Deployments[id] = deployment
	}
}

// expandEnv expands ${VAR} and ${VAR:-default} references in a string
func expandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(key string) string {
		parts := strings.SplitN(key, ":-", 2)
		value := os.Getenv(parts[0])
		if value == "" && len(parts) > 1 {
			return parts[1]
		}
		return value
	})
}

// apiKeyFor resolves the API key for a deployment. An explicit key_env in
// the YAML wins; otherwise the provider's conventional variable is used.
func apiKeyFor(dc DeploymentConfig) string {
	if dc.Endpoint.Auth.KeyEnv != "" {
		return os.Getenv(dc.Endpoint.Auth.KeyEnv)
	}

	switch models.ProviderType(dc.Provider) {
	case models.ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case models.ProviderGemini:
		return os.Getenv("GOOGLE_AI_API_KEY")
	case models.ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case models.ProviderOpenRouter:
		return os.Getenv("OPENROUTER_API_KEY")
	}
	return ""
}

// BuildRouter creates a router and registries from configuration
func BuildRouter(config *Config) (*routing.Router, *models.ModelRegistry, *models.DeploymentRegistry, error) {
	var strategy routing.RoutingStrategy
	switch config.Routing.Strategy {
	case "round_robin":
		strategy = routing.StrategyRoundRobin
	case "weighted":
		strategy = routing.StrategyWeighted
	case "least_latency":
		strategy = routing.StrategyLeastLatency
	case "priority":
		strategy = routing.StrategyPriority
	default:
		strategy = routing.StrategyPriority
	}

	router := routing.NewRouter(strategy)
	modelRegistry := models.NewModelRegistry()
	deploymentRegistry := models.NewDeploymentRegistry()

	for id, modelConfig := range config.Models {
		model := &models.Model{
			ID:           id,
			Name:         modelConfig.Name,
			Family:       modelConfig.Family,
			Version:      modelConfig.Version,
			Capabilities: modelConfig.Capabilities,
			Tags:         modelConfig.Tags,
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}
		modelRegistry.Register(model)
		router.RegisterModel(model)
	}

	for id, deploymentConfig := range config.Deployments {
		timeout, _ := time.ParseDuration(deploymentConfig.Endpoint.Timeout)
		if timeout == 0 {
			timeout = 60 * time.Second
		}

		authType := models.AuthAPIKey
		switch deploymentConfig.Endpoint.Auth.Type {
		case "none":
			authType = models.AuthNone
		case "query_key":
			authType = models.AuthQueryKey
		}

		apiKey := ""
		if authType != models.AuthNone {
			apiKey = apiKeyFor(deploymentConfig)
		}

		deployment := &models.Deployment{
			ID:              id,
			ModelID:         deploymentConfig.ModelID,
			Provider:        models.ProviderType(deploymentConfig.Provider),
			ProviderModelID: deploymentConfig.ProviderModelID,
			Priority:        deploymentConfig.Priority,
			Weight:          deploymentConfig.Weight,
			Endpoint: models.EndpointConfig{
				BaseURL:    deploymentConfig.Endpoint.BaseURL,
				Timeout:    timeout,
				MaxRetries: deploymentConfig.Endpoint.MaxRetries,
				APIVersion: deploymentConfig.Endpoint.APIVersion,
				Auth: models.AuthConfig{
					Type:   authType,
					APIKey: apiKey,
				},
				CustomHeaders: deploymentConfig.Endpoint.CustomHeaders,
			},
			Status: models.DeploymentStatus{
				Available: true,
				Healthy:   true,
			},
			Tags:      deploymentConfig.Tags,
			CreatedAt: time.Now(),
		}

		deploymentRegistry.Register(deployment)
		router.RegisterDeployment(deployment)
	}

	if config.Routing.HealthCheck.Enabled {
		interval, _ := time.ParseDuration(config.Routing.HealthCheck.Interval)
		timeout, _ := time.ParseDuration(config.Routing.HealthCheck.Timeout)
		if interval == 0 {
			interval = 30 * time.Second
		}
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		router.StartHealthChecks(interval, timeout, config.Routing.HealthCheck.CheckOnStartup)
	}

	return router, modelRegistry, deploymentRegistry, nil
}
