// Package config loads fundusmesh configuration from YAML files with
// ${ENV_VAR} expansion and duration parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the environment variable consulted by LoadDefault.
const EnvConfigFile = "FUNDUS_CONFIG_FILE"

// Config represents the complete fundusmesh configuration.
type Config struct {
	Session   SessionConfig   `yaml:"session"`
	Assistant AssistantConfig `yaml:"assistant"`
	Providers ProvidersConfig `yaml:"providers"`
	Database  DatabaseConfig  `yaml:"database"`
	ML        MLConfig        `yaml:"ml"`
	Images    ImagesConfig    `yaml:"images"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SessionConfig bounds the in-memory session stores.
type SessionConfig struct {
	TTL         time.Duration `yaml:"-"`
	MaxSessions int           `yaml:"max_sessions"`
	MaxExpired  int           `yaml:"max_expired"`
	// SweepSchedule is a cron expression for the background eviction job. Empty
	// disables it; expiry then happens lazily on access.
	SweepSchedule string `yaml:"sweep_schedule"`

	TTLRaw string `yaml:"ttl"`
}

// AssistantConfig holds model selection and loop bounds.
type AssistantConfig struct {
	DefaultModel    string   `yaml:"default_model"`
	AvailableModels []string `yaml:"available_models"`
	MaxRounds       int      `yaml:"max_rounds"`
	MaxForwards     int      `yaml:"max_forwards"`
	Temperature     float64  `yaml:"temperature"`
	MaxTokens       int64    `yaml:"max_tokens"`
}

// ProvidersConfig holds credentials and endpoints of the model providers.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	Google    ProviderConfig `yaml:"google"`
}

// ProviderConfig is one provider endpoint.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// DatabaseConfig points at the collection database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MLConfig configures the embedding service client.
type MLConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// ImagesConfig configures the user image store.
type ImagesConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`  // json, text, console
	Backend string `yaml:"backend"` // zerolog or slog
}

// Default returns a configuration populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			TTL:           time.Hour,
			MaxSessions:   100,
			MaxExpired:    1000,
			SweepSchedule: "@every 1m",
		},
		Assistant: AssistantConfig{
			DefaultModel: "gpt-4o-mini",
			AvailableModels: []string{
				"gpt-4o-mini",
				"gpt-4o",
				"google/gemini-2.0-flash",
				"google/gemini-1.5-flash",
				"google/gemini-1.5-pro",
			},
			MaxRounds:   16,
			MaxForwards: 8,
			Temperature: 1.0,
			MaxTokens:   8192,
		},
		Providers: ProvidersConfig{
			Google: ProviderConfig{BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai/"},
		},
		Database: DatabaseConfig{Path: "fundus.db"},
		ML:       MLConfig{URL: "http://localhost:8000", Timeout: 30 * time.Second},
		Images:   ImagesConfig{Dir: "user_images"},
		Logging:  LoggingConfig{Level: "info", Format: "json", Backend: "zerolog"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Values missing from the file keep their defaults. Environment variables in the
// format ${VAR_NAME} are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// LoadDefault loads the file named by FUNDUS_CONFIG_FILE, falling back to
// Default() when the variable is unset.
func LoadDefault() (*Config, error) {
	path := os.Getenv(EnvConfigFile)
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	return Load(path)
}

// Parse decodes YAML content on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
func (c *Config) Validate() error {
	if c.Session.TTL <= 0 {
		return errors.New("session.ttl must be positive")
	}
	if c.Session.MaxSessions <= 0 {
		return errors.New("session.max_sessions must be positive")
	}
	if c.Session.MaxExpired < 0 {
		return errors.New("session.max_expired must not be negative")
	}
	if c.Session.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.Session.SweepSchedule); err != nil {
			return fmt.Errorf("session.sweep_schedule %q: %w", c.Session.SweepSchedule, err)
		}
	}
	if c.Assistant.MaxRounds < 0 || c.Assistant.MaxForwards < 0 {
		return errors.New("assistant.max_rounds and assistant.max_forwards must not be negative")
	}
	if c.Assistant.DefaultModel == "" {
		return errors.New("assistant.default_model is required")
	}
	if len(c.Assistant.AvailableModels) > 0 && !c.IsModelAllowed(c.Assistant.DefaultModel) {
		return fmt.Errorf("assistant.default_model %q is not listed in assistant.available_models", c.Assistant.DefaultModel)
	}
	return nil
}

// IsModelAllowed reports whether name is in the configured model allow list.
// An empty list allows every model.
func (c *Config) IsModelAllowed(name string) bool {
	if len(c.Assistant.AvailableModels) == 0 {
		return true
	}
	for _, m := range c.Assistant.AvailableModels {
		if m == name {
			return true
		}
	}
	return false
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Session.TTLRaw != "" {
		cfg.Session.TTL, err = time.ParseDuration(cfg.Session.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing session.ttl %q: %w", cfg.Session.TTLRaw, err)
		}
	}

	if cfg.ML.TimeoutRaw != "" {
		cfg.ML.Timeout, err = time.ParseDuration(cfg.ML.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing ml.timeout %q: %w", cfg.ML.TimeoutRaw, err)
		}
	}

	return nil
}
