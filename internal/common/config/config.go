// Package config provides configuration management for Reeve.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Reeve.
type Config struct {
	Home      string          `mapstructure:"home"`
	DeskPath  string          `mapstructure:"deskPath"`
	Database  DatabaseConfig  `mapstructure:"database"`
	API       APIConfig       `mapstructure:"api"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Sentinel  SentinelConfig  `mapstructure:"sentinel"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// DatabaseConfig holds the pulse store backend locator.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `mapstructure:"path"`
}

// APIConfig holds the HTTP ingress configuration.
type APIConfig struct {
	Port int `mapstructure:"port"`

	// Token is the bearer token required for all authenticated endpoints.
	Token string `mapstructure:"token"`

	// URL is where the inbound bridge posts pulses.
	URL string `mapstructure:"url"`
}

// SchedulerConfig holds dispatch loop configuration.
type SchedulerConfig struct {
	MaxConcurrent int `mapstructure:"maxConcurrent"`
}

// AgentConfig holds the agent subprocess configuration.
type AgentConfig struct {
	// Command is the agent executable (name on PATH or absolute path).
	Command string `mapstructure:"command"`

	// TimeoutSeconds is the wall-clock budget for a single execution.
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

// TelegramConfig holds inbound bridge and sentinel messaging credentials.
type TelegramConfig struct {
	BotToken string `mapstructure:"botToken"`
	ChatID   string `mapstructure:"chatId"`
}

// SentinelConfig holds failsafe alert configuration.
type SentinelConfig struct {
	// Backend forces a specific backend; empty means auto-detect.
	Backend string `mapstructure:"backend"`
}

// NATSConfig holds the optional event bus configuration.
// An empty URL means the in-memory bus is used.
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// SentinelStateDir returns the directory holding cooldown touch files.
func (c *Config) SentinelStateDir() string {
	return filepath.Join(c.Home, "sentinel")
}

// OffsetFilePath returns the inbound bridge offset file location.
func (c *Config) OffsetFilePath() string {
	return filepath.Join(c.Home, "telegram_offset.txt")
}

// detectDefaultLogFormat returns "json" for production environments and
// "text" for terminal/development use.
func detectDefaultLogFormat() string {
	if env := os.Getenv("REEVE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("home", "~/.reeve")
	v.SetDefault("deskPath", "~/reeve_desk")

	v.SetDefault("database.path", "") // derived from home when empty

	v.SetDefault("api.port", 8765)
	v.SetDefault("api.token", "")
	v.SetDefault("api.url", "http://localhost:8765")

	v.SetDefault("scheduler.maxConcurrent", 5)

	v.SetDefault("agent.command", "hapi")
	v.SetDefault("agent.timeoutSeconds", 3600)

	v.SetDefault("telegram.botToken", "")
	v.SetDefault("telegram.chatId", "")

	v.SetDefault("sentinel.backend", "")

	v.SetDefault("nats.url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// bindEnv wires the flat environment variable names the daemon has always
// used to their config keys. AutomaticEnv cannot map these because they do
// not share a common prefix.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("home", "REEVE_HOME")
	_ = v.BindEnv("deskPath", "REEVE_DESK_PATH")
	_ = v.BindEnv("database.path", "PULSE_DB_URL")
	_ = v.BindEnv("api.port", "PULSE_API_PORT")
	_ = v.BindEnv("api.token", "PULSE_API_TOKEN")
	_ = v.BindEnv("api.url", "PULSE_API_URL")
	_ = v.BindEnv("scheduler.maxConcurrent", "PULSE_MAX_CONCURRENT")
	_ = v.BindEnv("agent.command", "AGENT_COMMAND")
	_ = v.BindEnv("agent.timeoutSeconds", "AGENT_TIMEOUT_SECONDS")
	_ = v.BindEnv("telegram.botToken", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("telegram.chatId", "TELEGRAM_CHAT_ID")
	_ = v.BindEnv("sentinel.backend", "SENTINEL_BACKEND")
	_ = v.BindEnv("nats.url", "REEVE_NATS_URL")
	_ = v.BindEnv("logging.level", "REEVE_LOG_LEVEL")
	_ = v.BindEnv("logging.format", "REEVE_LOG_FORMAT")
}

// Load reads configuration from environment variables, config file, and defaults.
// Config file should be named config.yaml and placed in the current directory
// or in REEVE_HOME.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	bindEnv(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	if home := os.Getenv("REEVE_HOME"); home != "" {
		v.AddConfigPath(ExpandPath(home))
	}

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

	cfg.Home = ExpandPath(cfg.Home)
	cfg.DeskPath = ExpandPath(cfg.DeskPath)
	cfg.Database.Path = normalizeDBPath(cfg.Database.Path, cfg.Home)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := os.MkdirAll(cfg.Home, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	return &cfg, nil
}

// normalizeDBPath resolves the store path. PULSE_DB_URL historically accepted
// a sqlite:/// URL; accept both that form and a plain file path.
func normalizeDBPath(raw, home string) string {
	if raw == "" {
		return filepath.Join(home, "pulse_queue.db")
	}
	if idx := strings.Index(raw, ":///"); idx >= 0 {
		raw = raw[idx+len(":///"):]
		if !strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "~") {
			raw = "/" + raw
		}
	}
	return ExpandPath(raw)
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if cfg.Scheduler.MaxConcurrent <= 0 {
		errs = append(errs, "scheduler.maxConcurrent must be positive")
	}
	if cfg.Agent.Command == "" {
		errs = append(errs, "agent.command is required")
	}
	if cfg.Agent.TimeoutSeconds <= 0 {
		errs = append(errs, "agent.timeoutSeconds must be positive")
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
