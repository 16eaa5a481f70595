package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete SDK configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Redirect RedirectConfig `yaml:"redirect"`
	Store    StoreConfig    `yaml:"store"`
	Cache    CacheConfig    `yaml:"cache"`
	Log      LogConfig      `yaml:"log"`
}

// AppConfig identifies the application against the orchestration server
type AppConfig struct {
	ID        string `yaml:"id"`         // application identifier (lowercase alphanumeric)
	Env       string `yaml:"env"`        // server environment: prod, uat, staging, dev
	Region    string `yaml:"region"`     // optional region suffix (e.g. "eu")
	ServerURL string `yaml:"server_url"` // explicit server URL; overrides id/env derivation
	LocaleURL string `yaml:"locale_url"` // explicit translation bundle URL
	UserAgent string `yaml:"user_agent"` // User-Agent sent with every request
}

// RedirectConfig defines how browser hand-offs return to the application
type RedirectConfig struct {
	URI    string `yaml:"uri"`    // redirection URI the browser step returns to
	Listen string `yaml:"listen"` // loopback callback listen address (e.g., "127.0.0.1:0")
}

// StoreConfig selects where login id state is persisted
type StoreConfig struct {
	Backend  string `yaml:"backend"`   // memory, file, redis
	FilePath string `yaml:"file_path"` // state file (file backend)
	RedisURL string `yaml:"redis_url"` // redis connection URL (redis backend)
}

// CacheConfig defines local cache locations
type CacheConfig struct {
	Dir string `yaml:"dir"` // translation bundle cache directory
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

var appIDPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:       "prod",
			UserAgent: "keyless-go",
		},
		Redirect: RedirectConfig{
			Listen: "127.0.0.1:0",
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("KEYLESS_APP_ID"); v != "" {
		c.App.ID = v
	}
	if v := os.Getenv("KEYLESS_APP_ENV"); v != "" {
		c.App.Env = v
	}
	if v := os.Getenv("KEYLESS_SERVER_URL"); v != "" {
		c.App.ServerURL = v
	}
	if v := os.Getenv("KEYLESS_REDIRECT_URI"); v != "" {
		c.Redirect.URI = v
	}
	if v := os.Getenv("KEYLESS_REDIS_URL"); v != "" {
		c.Store.RedisURL = v
	}
	if v := os.Getenv("KEYLESS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("KEYLESS_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.App.ServerURL == "" {
		if c.App.ID == "" {
			return fmt.Errorf("app.id is required when app.server_url is not set")
		}
		if !appIDPattern.MatchString(c.App.ID) {
			return fmt.Errorf("app.id must be lowercase alphanumeric")
		}
	} else if !strings.HasPrefix(c.App.ServerURL, "http://") && !strings.HasPrefix(c.App.ServerURL, "https://") {
		return fmt.Errorf("app.server_url must be a valid HTTP(S) URL")
	}

	validEnvs := map[string]bool{
		"prod":    true,
		"uat":     true,
		"staging": true,
		"dev":     true,
	}
	if !validEnvs[c.App.Env] {
		return fmt.Errorf("app.env must be one of: prod, uat, staging, dev")
	}

	if c.Redirect.URI != "" {
		if !strings.Contains(c.Redirect.URI, "://") {
			return fmt.Errorf("redirect.uri must be an absolute URI")
		}
	}

	switch c.Store.Backend {
	case "memory":
	case "file":
		if c.Store.FilePath == "" {
			return fmt.Errorf("store.file_path is required for the file backend")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("store.backend must be one of: memory, file, redis")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, text")
	}

	return nil
}

// ServerURL returns the orchestration server base URL, deriving the
// per-application host when no explicit URL is configured.
func (c *Config) ServerURL() string {
	if c.App.ServerURL != "" {
		return strings.TrimSuffix(c.App.ServerURL, "/")
	}
	return fmt.Sprintf("https://%s.server.%s", c.App.ID, c.envDomain())
}

// LocaleURL returns the base URL the translation bundles are served from.
func (c *Config) LocaleURL() string {
	if c.App.LocaleURL != "" {
		return strings.TrimSuffix(c.App.LocaleURL, "/")
	}
	return fmt.Sprintf("https://i18n.%s", c.envDomain())
}

func (c *Config) envDomain() string {
	host := "keyless.com"
	if c.App.Region != "" {
		host = fmt.Sprintf("keyless-%s.com", c.App.Region)
	}
	if c.App.Env == "prod" {
		return host
	}
	return fmt.Sprintf("%s.%s", c.App.Env, host)
}

// FlowURL returns the endpoint that starts a new authentication flow.
func (c *Config) FlowURL() string {
	return c.ServerURL() + "/events"
}

// SetupLogging configures the global slog logger based on the LogConfig.
func SetupLogging(cfg *LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
