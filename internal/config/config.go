// Package config loads the radle-server configuration with layered
// sources: built-in defaults, an optional YAML file, then RADLE_-prefixed
// environment variables. Precedence is env > file > defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in priority
// order. The first file found wins.
var DefaultConfigPaths = []string{
	"radle.yaml",
	"radle.yml",
	"/etc/radle/radle.yaml",
	"/etc/radle/radle.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "RADLE_CONFIG_PATH"

// EnvPrefix is stripped from environment variables before mapping them to
// config paths: RADLE_REDDIT_CLIENT_ID -> reddit.client_id.
const EnvPrefix = "RADLE_"

// Config is the full radle-server configuration.
type Config struct {
	Reddit   RedditConfig   `koanf:"reddit"`
	Server   ServerConfig   `koanf:"server"`
	Storage  StorageConfig  `koanf:"storage"`
	Comments CommentsConfig `koanf:"comments"`
	Monitor  MonitorConfig  `koanf:"monitor"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// RedditConfig holds the Reddit app credentials and API endpoints.
type RedditConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	RedirectURI  string `koanf:"redirect_uri"`
	UserAgent    string `koanf:"user_agent"`
	BaseURL      string `koanf:"base_url"`
	AuthURL      string `koanf:"auth_url"`
	// Subreddit is the default target for publishing.
	Subreddit string `koanf:"subreddit"`

	RequestsPerMinute float64 `koanf:"requests_per_minute"`
	Burst             int     `koanf:"burst"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// StorageConfig holds the persistence paths. An empty CachePath keeps the
// TTL cache in memory.
type StorageConfig struct {
	DatabasePath string `koanf:"database_path"`
	CachePath    string `koanf:"cache_path"`
}

// CommentsConfig holds the comment-tree pipeline tunables.
type CommentsConfig struct {
	MaxDepth         int           `koanf:"max_depth"`
	MaxSiblings      int           `koanf:"max_siblings"`
	ApprovedOnly     bool          `koanf:"approved_only"`
	DefaultAvatar    string        `koanf:"default_avatar"`
	ResponseCacheTTL time.Duration `koanf:"response_cache_ttl"`
}

// MonitorConfig holds the rate-limit usage monitor tunables.
type MonitorConfig struct {
	Disabled         bool    `koanf:"disabled"`
	BreachThreshold  float64 `koanf:"breach_threshold"`
	WindowGapSeconds int64   `koanf:"window_gap_seconds"`
}

// LoggingConfig holds the slog settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Reddit: RedditConfig{
			UserAgent:         "radle-go/1.0",
			BaseURL:           "https://oauth.reddit.com/",
			AuthURL:           "https://www.reddit.com/",
			RequestsPerMinute: 60,
			Burst:             10,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8439,
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			DatabasePath: "/data/radle.db",
			CachePath:    "",
		},
		Comments: CommentsConfig{
			MaxDepth:         3,
			MaxSiblings:      10,
			ApprovedOnly:     false,
			ResponseCacheTTL: 0,
		},
		Monitor: MonitorConfig{
			Disabled:         false,
			BreachThreshold:  90,
			WindowGapSeconds: 600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the first config file
// found, and RADLE_-prefixed environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the required fields and value ranges.
func (c *Config) Validate() error {
	if c.Reddit.ClientID == "" {
		return fmt.Errorf("reddit.client_id is required")
	}
	if c.Reddit.ClientSecret == "" {
		return fmt.Errorf("reddit.client_secret is required")
	}
	if c.Reddit.RedirectURI == "" {
		return fmt.Errorf("reddit.redirect_uri is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Comments.MaxDepth < 1 {
		return fmt.Errorf("comments.max_depth must be at least 1, got %d", c.Comments.MaxDepth)
	}
	if c.Comments.MaxSiblings < 1 {
		return fmt.Errorf("comments.max_siblings must be at least 1, got %d", c.Comments.MaxSiblings)
	}
	if c.Monitor.WindowGapSeconds < 0 {
		return fmt.Errorf("monitor.window_gap_seconds cannot be negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps RADLE_ environment variables to config paths:
// RADLE_REDDIT_CLIENT_ID -> reddit.client_id. The first segment selects the
// config section; the rest joins with underscores as the key.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))

	sections := []string{"reddit", "server", "storage", "comments", "monitor", "logging"}
	for _, section := range sections {
		prefix := section + "_"
		if strings.HasPrefix(key, prefix) {
			return section + "." + strings.TrimPrefix(key, prefix)
		}
	}

	// Unmapped keys are skipped so unrelated environment variables do not
	// pollute the config.
	return ""
}
