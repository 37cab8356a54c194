// Package config loads service configuration from an optional YAML file and
// applies environment overrides. Secrets are env-only in production; the
// file exists for everything else.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/triagebot/triage/internal/pipeline"
	"github.com/triagebot/triage/internal/types"
)

const (
	webhookSecretEnv = "GITHUB_WEBHOOK_SECRET"
	githubTokenEnv   = "GITHUB_TOKEN"
	anthropicKeyEnv  = "ANTHROPIC_API_KEY"
	listenAddrEnv    = "TRIAGE_ADDR"
	indexPathEnv     = "TRIAGE_INDEX_PATH"
	logLevelEnv      = "TRIAGE_LOG_LEVEL"
)

// Config holds every setting the service needs at startup.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	GitHub   GitHubConfig   `yaml:"github"`
	AI       AIConfig       `yaml:"ai"`
	Index    IndexConfig    `yaml:"index"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	LogLevel string         `yaml:"logLevel"`
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// GitHubConfig wires webhook verification and the issues API.
type GitHubConfig struct {
	WebhookSecret string `yaml:"webhookSecret"`
	Token         string `yaml:"token"`
}

// AIConfig describes the model backend.
type AIConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

// IndexConfig locates the documentation index.
type IndexConfig struct {
	Path string `yaml:"path"`
}

// PipelineConfig tunes the triage engine.
type PipelineConfig struct {
	StageTimeoutSeconds int      `yaml:"stageTimeoutSeconds"`
	RetrieveLimit       int      `yaml:"retrieveLimit"`
	MaxConcurrentRuns   int      `yaml:"maxConcurrentRuns"`
	RoutingPolicy       string   `yaml:"routingPolicy"`
	SkipRetrievalFor    []string `yaml:"skipRetrievalFor"`
}

// StageTimeout returns the configured per-stage deadline.
func (p PipelineConfig) StageTimeout() time.Duration {
	return time.Duration(p.StageTimeoutSeconds) * time.Second
}

// Routing resolves the configured policy name. Unknown names are an error
// rather than a silent default; a typo here changes triage behavior.
func (p PipelineConfig) Routing() (pipeline.RoutingPolicy, error) {
	switch p.RoutingPolicy {
	case "", "always_retrieve":
		return pipeline.AlwaysRetrieve{}, nil
	case "skip_retrieval_for":
		classes := make([]types.Classification, 0, len(p.SkipRetrievalFor))
		for _, raw := range p.SkipRetrievalFor {
			classes = append(classes, types.ParseClassification(raw))
		}
		return pipeline.NewSkipRetrievalFor(classes...), nil
	default:
		return nil, fmt.Errorf("unknown routing policy %q", p.RoutingPolicy)
	}
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{Addr: ":8000"},
		Index:  IndexConfig{Path: "triage-index.db"},
		Pipeline: PipelineConfig{
			StageTimeoutSeconds: 60,
			RetrieveLimit:       10,
			MaxConcurrentRuns:   8,
			RoutingPolicy:       "always_retrieve",
		},
		LogLevel: "info",
	}
}

// Load reads YAML configuration from path (if non-empty) and applies
// environment overrides on top.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(webhookSecretEnv); v != "" {
		c.GitHub.WebhookSecret = v
	}
	if v := os.Getenv(githubTokenEnv); v != "" {
		c.GitHub.Token = v
	}
	if v := os.Getenv(anthropicKeyEnv); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv(listenAddrEnv); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(indexPathEnv); v != "" {
		c.Index.Path = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.LogLevel = v
	}
}

// Validate reports settings the server cannot start without.
func (c Config) Validate() error {
	if c.GitHub.WebhookSecret == "" {
		return fmt.Errorf("github webhook secret is required (set %s)", webhookSecretEnv)
	}
	if _, err := c.Pipeline.Routing(); err != nil {
		return err
	}
	return nil
}
