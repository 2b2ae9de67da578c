package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when no --config flag is given.
const DefaultPath = "procman.yaml"

type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Inventory InventoryConfig `yaml:"inventory"`
	Terminate TerminateConfig `yaml:"terminate"`
	Watch     WatchConfig     `yaml:"watch"`
	Events    EventsConfig    `yaml:"events"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stderr, stdout, or a file path
}

type InventoryConfig struct {
	// PathBuffer is the image path buffer capacity in UTF-16 units.
	PathBuffer int `yaml:"path_buffer"`
}

type TerminateConfig struct {
	Timeout   string `yaml:"timeout"`
	KillGrace string `yaml:"kill_grace"`
}

type WatchConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

type EventsConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	JSONLPath  string `yaml:"jsonl_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Retention  string `yaml:"retention"`
}

type ServerConfig struct {
	Addr           string `yaml:"addr"`
	Pipe           string `yaml:"pipe"`
	ReadTimeout    string `yaml:"read_timeout"`
	WriteTimeout   string `yaml:"write_timeout"`
	MaxRequestSize string `yaml:"max_request_size"`
}

type AuthConfig struct {
	Type   string           `yaml:"type"` // api_key, none
	APIKey AuthAPIKeyConfig `yaml:"api_key"`
}

type AuthAPIKeyConfig struct {
	KeysFile   string `yaml:"keys_file"`
	HeaderName string `yaml:"header_name"`
}

// Load reads path, applies defaults and PROCMAN_* environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults (plus env
// overrides) when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cfg = Default()
	applyEnvOverrides(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromBytes loads configuration from bytes without applying environment
// overrides. This is intended for testing where env vars should not interfere.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
	if cfg.Inventory.PathBuffer == 0 {
		cfg.Inventory.PathBuffer = 32767
	}
	if cfg.Terminate.Timeout == "" {
		cfg.Terminate.Timeout = "5s"
	}
	if cfg.Terminate.KillGrace == "" {
		cfg.Terminate.KillGrace = "1s"
	}
	if cfg.Watch.Interval == "" {
		cfg.Watch.Interval = "2s"
	}
	if cfg.Events.MaxSizeMB == 0 {
		cfg.Events.MaxSizeMB = 100
	}
	if cfg.Events.MaxBackups == 0 {
		cfg.Events.MaxBackups = 3
	}
	if cfg.Events.Retention == "" {
		cfg.Events.Retention = "168h"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:18470"
	}
	if cfg.Server.ReadTimeout == "" {
		cfg.Server.ReadTimeout = "30s"
	}
	if cfg.Server.WriteTimeout == "" {
		cfg.Server.WriteTimeout = "60s"
	}
	if cfg.Server.MaxRequestSize == "" {
		cfg.Server.MaxRequestSize = "1MiB"
	}
	if cfg.Auth.Type == "" {
		cfg.Auth.Type = "api_key"
	}
	if cfg.Auth.APIKey.HeaderName == "" {
		cfg.Auth.APIKey.HeaderName = "X-API-Key"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PROCMAN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PROCMAN_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PROCMAN_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("PROCMAN_PIPE"); v != "" {
		cfg.Server.Pipe = v
	}
	if v := os.Getenv("PROCMAN_TERMINATE_TIMEOUT"); v != "" {
		cfg.Terminate.Timeout = v
	}
	if v := os.Getenv("PROCMAN_WATCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Watch.Enabled = b
		}
	}
	if v := os.Getenv("PROCMAN_AUTH_TYPE"); v != "" {
		cfg.Auth.Type = v
	}
	if v := os.Getenv("PROCMAN_API_KEYS_FILE"); v != "" {
		cfg.Auth.APIKey.KeysFile = v
	}
	if v := os.Getenv("PROCMAN_DATA_DIR"); v != "" {
		cfg.Events.SQLitePath = filepath.Join(v, "events.db")
		if cfg.Events.JSONLPath != "" {
			cfg.Events.JSONLPath = filepath.Join(v, "events.jsonl")
		}
	}
}

func validateConfig(cfg *Config) error {
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}
	if cfg.Inventory.PathBuffer < 1 {
		return fmt.Errorf("inventory.path_buffer must be >= 1")
	}
	for name, v := range map[string]string{
		"terminate.timeout":    cfg.Terminate.Timeout,
		"terminate.kill_grace": cfg.Terminate.KillGrace,
		"watch.interval":       cfg.Watch.Interval,
		"events.retention":     cfg.Events.Retention,
		"server.read_timeout":  cfg.Server.ReadTimeout,
		"server.write_timeout": cfg.Server.WriteTimeout,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if cfg.Events.MaxSizeMB < 0 || cfg.Events.MaxBackups < 0 {
		return fmt.Errorf("events.max_size_mb and events.max_backups must be >= 0")
	}
	if _, err := ParseByteSize(cfg.Server.MaxRequestSize); err != nil {
		return fmt.Errorf("parse server.max_request_size: %w", err)
	}
	if wt := cfg.WriteTimeout(); wt > 0 && cfg.TerminateTimeout()+cfg.KillGrace() >= wt {
		return fmt.Errorf("terminate.timeout plus terminate.kill_grace must be below server.write_timeout (%s)", wt)
	}
	switch strings.ToLower(cfg.Auth.Type) {
	case "api_key", "none":
	default:
		return fmt.Errorf("invalid auth.type %q", cfg.Auth.Type)
	}
	return nil
}

// TerminateTimeout returns the parsed default graceful timeout.
func (c *Config) TerminateTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Terminate.Timeout)
	return d
}

// KillGrace returns the parsed wait after a forced kill.
func (c *Config) KillGrace() time.Duration {
	d, _ := time.ParseDuration(c.Terminate.KillGrace)
	return d
}

// WriteTimeout returns the parsed HTTP write timeout; zero means none.
func (c *Config) WriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Server.WriteTimeout)
	return d
}

// MaxTerminateTimeout bounds the graceful timeout of an API request: the
// whole termination, kill grace included, must finish before the response
// write deadline. Requested timeouts must be strictly below it. It is zero
// when the server has no write timeout.
func (c *Config) MaxTerminateTimeout() time.Duration {
	wt := c.WriteTimeout()
	if wt <= 0 {
		return 0
	}
	return wt - c.KillGrace()
}

// AuthEnabled reports whether API requests must carry a key.
func (c *Config) AuthEnabled() bool {
	return !strings.EqualFold(c.Auth.Type, "none")
}

// WatchInterval returns the parsed polling interval of the process watcher.
func (c *Config) WatchInterval() time.Duration {
	d, _ := time.ParseDuration(c.Watch.Interval)
	return d
}

// Retention returns how long stored events are kept; zero keeps them forever.
func (c *Config) Retention() time.Duration {
	d, _ := time.ParseDuration(c.Events.Retention)
	return d
}
