package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Providers     ProvidersConfig     `toml:"providers"`
	Retention     RetentionConfig     `toml:"retention"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DatabasePath         string `toml:"database_path"`
	ModesFile            string `toml:"modes_file"`
	MaxConcurrentRuns    int    `toml:"max_concurrent_runs"`
	MaxConcurrentRenders int    `toml:"max_concurrent_renders"`
}

// ProvidersConfig holds settings for the text and image model backends
type ProvidersConfig struct {
	LLMBaseURL    string  `toml:"llm_base_url"`
	LLMAPIKey     string  `toml:"llm_api_key"`
	LLMModel      string  `toml:"llm_model"`
	ImageBaseURL  string  `toml:"image_base_url"`
	ImageAPIKey   string  `toml:"image_api_key"`
	ImageModel    string  `toml:"image_model"`
	TextCostUSD   float64 `toml:"text_cost_usd"`
	RenderCostUSD float64 `toml:"render_cost_usd"`
}

// RetentionConfig holds settings for pruning old run history
type RetentionConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`
	MaxAge   string `toml:"max_age"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds API server settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabasePath:         filepath.Join(home, ".content-orch", "pipeline.db"),
			ModesFile:            filepath.Join(home, ".config", "content-orch", "modes.yaml"),
			MaxConcurrentRuns:    3,
			MaxConcurrentRenders: 4,
		},
		Providers: ProvidersConfig{
			LLMBaseURL:    "https://api.openai.com",
			LLMModel:      "gpt-4o",
			ImageBaseURL:  "https://api.openai.com",
			ImageModel:    "gpt-image-1",
			TextCostUSD:   0.01,
			RenderCostUSD: 0.04,
		},
		Retention: RetentionConfig{
			Enabled:  false,
			Schedule: "0 3 * * *",
			MaxAge:   "720h",
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.ModesFile = ExpandPath(cfg.General.ModesFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration values for obvious mistakes
func (c *Config) Validate() error {
	if c.General.MaxConcurrentRuns < 1 {
		return fmt.Errorf("general.max_concurrent_runs must be at least 1, got %d", c.General.MaxConcurrentRuns)
	}
	if c.General.MaxConcurrentRenders < 1 {
		return fmt.Errorf("general.max_concurrent_renders must be at least 1, got %d", c.General.MaxConcurrentRenders)
	}
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port out of range: %d", c.Web.Port)
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "content-orch", "config.toml")
}
