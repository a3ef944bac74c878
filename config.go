package main

import (
	"fmt"
	"log"

	"github.com/caarlos0/env/v9"
)

// Settings holds process-level configuration loaded from the environment
type Settings struct {
	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`

	// Storage paths
	DatabasePath string `env:"DATABASE_PATH" envDefault:"chatrelay.db"`
	AuditDBPath  string `env:"AUDIT_DB_PATH" envDefault:"llm_audit.db"`

	// Routing config directory (models.yaml, deployments.yaml, routing.yaml)
	ConfigDir string `env:"LLM_CONFIG_DIR" envDefault:"./config"`

	// Rate limiting
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`

	// OpenRouter attribution headers
	AppReferer string `env:"APP_REFERER" envDefault:"http://localhost"`
	AppTitle   string `env:"APP_TITLE" envDefault:"chatrelay"`

	// MCP server config file, empty disables MCP
	MCPConfigPath string `env:"MCP_CONFIG_PATH" envDefault:"mcp_servers.json"`
}

var settings Settings

// LoadSettings parses environment configuration into the global settings
func LoadSettings() error {
	if err := env.Parse(&settings); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	log.Printf("[Config] HTTP port=%d, config dir=%s, db=%s",
		settings.HTTPPort, settings.ConfigDir, settings.DatabasePath)
	return nil
}
