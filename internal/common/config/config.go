// Package config provides configuration management for AgentX.
// It supports loading configuration from environment variables, config files,
// and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/agentx/agentx/internal/common/logger"
)

// Config holds all configuration sections for AgentX.
type Config struct {
	Server   ServerConfig         `mapstructure:"server"`
	Data     DataConfig           `mapstructure:"data"`
	Provider ProviderConfig       `mapstructure:"provider"`
	Auth     AuthConfig           `mapstructure:"auth"`
	NATS     NATSConfig           `mapstructure:"nats"`
	Logging  logger.LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP/WebSocket server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DataConfig holds the on-disk data layout configuration.
type DataConfig struct {
	Dir string `mapstructure:"dir"` // data root, default ~/.agentx
}

// ProviderConfig holds LLM provider configuration.
type ProviderConfig struct {
	APIKey  string `mapstructure:"apiKey"`
	BaseURL string `mapstructure:"baseUrl"` // empty means the Anthropic default
	Model   string `mapstructure:"model"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret          string `mapstructure:"jwtSecret"`
	TokenDuration      int    `mapstructure:"tokenDuration"` // in seconds
	InviteCodeRequired bool   `mapstructure:"inviteCodeRequired"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory platform event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TokenDurationTime returns the token duration as a time.Duration.
func (a *AuthConfig) TokenDurationTime() time.Duration {
	return time.Duration(a.TokenDuration) * time.Second
}

// CoreDBPath returns the path of the core record store.
func (d *DataConfig) CoreDBPath() string {
	return filepath.Join(d.Dir, "agentx.db")
}

// AuthDBPath returns the path of the auth record store.
func (d *DataConfig) AuthDBPath() string {
	return filepath.Join(d.Dir, "auth.db")
}

// LogPath returns the rotating log file path under the data root.
func (d *DataConfig) LogPath() string {
	return filepath.Join(d.Dir, "logs", "agentx.log")
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5200)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Data defaults
	v.SetDefault("data.dir", defaultDataDir())

	// Provider defaults
	v.SetDefault("provider.apiKey", "")
	v.SetDefault("provider.baseUrl", "")
	v.SetDefault("provider.model", "claude-sonnet-4-20250514")

	// Auth defaults
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenDuration", 3600) // 1 hour
	v.SetDefault("auth.inviteCodeRequired", false)

	// NATS defaults - empty URL means use the in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// detectDefaultLogFormat returns "json" in production environments and "text"
// for terminal/development use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTX_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentx"
	}
	return filepath.Join(home, ".agentx")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix AGENTX_ with snake_case
// naming; the canonical short variables (LLM_PROVIDER_KEY, PORT, DATA_DIR,
// JWT_SECRET, …) are bound as aliases.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Canonical short env vars recognized alongside the prefixed forms.
	_ = v.BindEnv("provider.apiKey", "LLM_PROVIDER_KEY", "AGENTX_PROVIDER_API_KEY")
	_ = v.BindEnv("provider.baseUrl", "LLM_PROVIDER_URL", "AGENTX_PROVIDER_BASE_URL")
	_ = v.BindEnv("provider.model", "LLM_PROVIDER_MODEL", "AGENTX_PROVIDER_MODEL")
	_ = v.BindEnv("server.port", "PORT", "AGENTX_SERVER_PORT")
	_ = v.BindEnv("data.dir", "DATA_DIR", "AGENTX_DATA_DIR")
	_ = v.BindEnv("auth.jwtSecret", "JWT_SECRET", "AGENTX_AUTH_JWT_SECRET")
	_ = v.BindEnv("auth.inviteCodeRequired", "INVITE_CODE_REQUIRED", "AGENTX_AUTH_INVITE_CODE_REQUIRED")
	_ = v.BindEnv("logging.level", "LOG_LEVEL", "AGENTX_LOGGING_LEVEL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentx/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Data.Dir == "" {
		errs = append(errs, "data.dir is required")
	}

	// Auth secret - generate a dev secret if not set
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = generateDevSecret()
	}
	if cfg.Auth.TokenDuration <= 0 {
		errs = append(errs, "auth.tokenDuration must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// generateDevSecret generates a random secret for development mode.
// In production, operators should set JWT_SECRET.
func generateDevSecret() string {
	return "dev-secret-change-in-production-" + fmt.Sprintf("%d", time.Now().UnixNano())
}
