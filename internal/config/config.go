// Package config loads process-level configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all process configuration. Per-project Slack integration
// settings live in the project store, not here.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// ListenAddr serves the Slack webhook endpoints.
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`

	// MetricsAddr serves Prometheus metrics and health probes.
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// ProjectsFile is the YAML file holding per-project integration config.
	ProjectsFile string `envconfig:"PROJECTS_FILE" default:"projects.yaml"`

	// EngineURL is the base URL of the assistant engine (REST + SSE).
	EngineURL    string `envconfig:"ENGINE_URL" default:"http://localhost:4000"`
	EngineAPIKey string `envconfig:"ENGINE_API_KEY"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}
