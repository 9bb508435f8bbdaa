package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server        ServerConfig   `json:"server"`
	Database      DatabaseConfig `json:"database"`
	Worker        WorkerConfig   `json:"worker"`
	Notify        NotifyConfig   `json:"notify"`
	TeamsFile     string         `json:"teams_file"`
	MigrationsDir string         `json:"migrations_dir"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// WorkerConfig selects the executor that performs members' work.
type WorkerConfig struct {
	Type      string `json:"type"` // "simulated" or "remote"
	Endpoint  string `json:"endpoint"`
	DelayMS   int    `json:"delay_ms"`
	TimeoutMS int    `json:"timeout_ms"`
}

// Delay is the simulated per-unit work time.
func (w WorkerConfig) Delay() time.Duration { return time.Duration(w.DelayMS) * time.Millisecond }

// Timeout bounds a remote unit of work.
func (w WorkerConfig) Timeout() time.Duration { return time.Duration(w.TimeoutMS) * time.Millisecond }

type NotifyConfig struct {
	Slack SlackNotifyConfig `json:"slack"`
}

type SlackNotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
	BotToken   string `json:"bot_token"`
	Channel    string `json:"channel"`
}

const (
	WorkerSimulated = "simulated"
	WorkerRemote    = "remote"
)

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3210
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Worker.Type == "" {
		c.Worker.Type = WorkerSimulated
	}
	if c.Worker.TimeoutMS == 0 {
		c.Worker.TimeoutMS = 120000
	}
	if c.MigrationsDir == "" {
		c.MigrationsDir = "migrations"
	}
}

// Validate rejects settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Worker.Type {
	case WorkerSimulated:
	case WorkerRemote:
		if c.Worker.Endpoint == "" {
			return fmt.Errorf("worker.endpoint is required for remote workers")
		}
	default:
		return fmt.Errorf("unknown worker type %q", c.Worker.Type)
	}
	if c.Worker.DelayMS < 0 {
		return fmt.Errorf("worker.delay_ms must not be negative")
	}
	s := c.Notify.Slack
	if s.Enabled && s.WebhookURL == "" && (s.BotToken == "" || s.Channel == "") {
		return fmt.Errorf("notify.slack needs webhook_url or bot_token and channel")
	}
	return nil
}
