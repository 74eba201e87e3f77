package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/GriffinCanCode/webviewrpc/internal/coordinator"
	"github.com/GriffinCanCode/webviewrpc/internal/loader"
	"github.com/GriffinCanCode/webviewrpc/internal/sandbox"
	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Coordinator CoordinatorConfig `yaml:"coordinator" toml:"coordinator"`
	Sandbox     SandboxConfig     `yaml:"sandbox" toml:"sandbox"`
	Loader      LoaderConfig      `yaml:"loader" toml:"loader"`
	Logging     LogConfig         `yaml:"logging" toml:"logging"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" toml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port              string `envconfig:"PORT" default:"8000" yaml:"port" toml:"port"`
	Host              string `envconfig:"HOST" default:"0.0.0.0" yaml:"host" toml:"host"`
	ShutdownTimeoutMS int    `envconfig:"SHUTDOWN_TIMEOUT_MS" default:"10000" yaml:"shutdown_timeout_ms" toml:"shutdown_timeout_ms"`
	Compress          bool   `envconfig:"COMPRESS" default:"true" yaml:"compress" toml:"compress"`
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

// ShutdownTimeout returns the graceful shutdown window.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return millis(s.ShutdownTimeoutMS)
}

// CoordinatorConfig holds context pool configuration.
type CoordinatorConfig struct {
	BackgroundMode bool   `envconfig:"BACKGROUND_MODE" default:"true" yaml:"background_mode" toml:"background_mode"`
	DevTools       bool   `envconfig:"DEVTOOLS" default:"false" yaml:"devtools" toml:"devtools"`
	PoolMax        int    `envconfig:"POOL_MAX" default:"5" yaml:"pool_max" toml:"pool_max"`
	Preload        string `envconfig:"PRELOAD" yaml:"preload" toml:"preload"`
	UserAgent      string `envconfig:"USER_AGENT" default:"webviewrpc/1.0" yaml:"user_agent" toml:"user_agent"`
	SyncTimeoutMS  int    `envconfig:"SYNC_TIMEOUT_MS" default:"0" yaml:"sync_timeout_ms" toml:"sync_timeout_ms"`
}

// Options converts to coordinator options.
func (c CoordinatorConfig) Options() coordinator.Options {
	return coordinator.Options{
		BackgroundMode:       c.BackgroundMode,
		DevTools:             c.DevTools,
		WebviewPoolMaxLength: c.PoolMax,
		Preload:              c.Preload,
		UserAgent:            c.UserAgent,
		SyncTimeout:          millis(c.SyncTimeoutMS),
	}
}

// SandboxConfig holds per-context script execution limits.
type SandboxConfig struct {
	TimeoutMS        int  `envconfig:"SANDBOX_TIMEOUT_MS" default:"5000" yaml:"timeout_ms" toml:"timeout_ms"`
	MaxCallStackSize int  `envconfig:"SANDBOX_MAX_CALL_STACK" default:"1024" yaml:"max_call_stack" toml:"max_call_stack"`
	EnableConsole    bool `envconfig:"SANDBOX_CONSOLE" default:"true" yaml:"console" toml:"console"`
}

// LoaderConfig holds document fetching configuration.
type LoaderConfig struct {
	TimeoutMS         int      `envconfig:"LOADER_TIMEOUT_MS" default:"30000" yaml:"timeout_ms" toml:"timeout_ms"`
	MaxRetries        int      `envconfig:"LOADER_MAX_RETRIES" default:"2" yaml:"max_retries" toml:"max_retries"`
	RequestsPerSecond float64  `envconfig:"LOADER_RPS" default:"0" yaml:"requests_per_second" toml:"requests_per_second"`
	FileRoots         []string `envconfig:"LOADER_FILE_ROOTS" yaml:"file_roots" toml:"file_roots"`
	BreakerFailures   uint32   `envconfig:"LOADER_BREAKER_FAILURES" default:"5" yaml:"breaker_failures" toml:"breaker_failures"`
	BreakerTimeoutMS  int      `envconfig:"LOADER_BREAKER_TIMEOUT_MS" default:"30000" yaml:"breaker_timeout_ms" toml:"breaker_timeout_ms"`
}

// Config converts to loader configuration.
func (l LoaderConfig) Config() loader.Config {
	return loader.Config{
		Timeout:           millis(l.TimeoutMS),
		MaxRetries:        l.MaxRetries,
		RequestsPerSecond: l.RequestsPerSecond,
		FileRoots:         l.FileRoots,
		BreakerFailures:   l.BreakerFailures,
		BreakerTimeout:    millis(l.BreakerTimeoutMS),
	}
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled" toml:"enabled"`
}

// SandboxConfig combines coordinator and sandbox settings into the
// configuration of created contexts. Preload and UserAgent reach contexts
// through the coordinator options.
func (c *Config) SandboxConfig() sandbox.Config {
	return sandbox.Config{
		Timeout:          millis(c.Sandbox.TimeoutMS),
		MaxCallStackSize: c.Sandbox.MaxCallStackSize,
		EnableConsole:    c.Sandbox.EnableConsole,
		DevTools:         c.Coordinator.DevTools,
		SyncTimeout:      millis(c.Coordinator.SyncTimeoutMS),
	}
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadFile loads configuration from the environment and overlays the
// YAML or TOML file at path. Values present in the file win.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config format: %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              "8000",
			Host:              "0.0.0.0",
			ShutdownTimeoutMS: 10000,
			Compress:          true,
		},
		Coordinator: CoordinatorConfig{
			BackgroundMode: true,
			DevTools:       false,
			PoolMax:        5,
			UserAgent:      "webviewrpc/1.0",
		},
		Sandbox: SandboxConfig{
			TimeoutMS:        5000,
			MaxCallStackSize: 1024,
			EnableConsole:    true,
		},
		Loader: LoaderConfig{
			TimeoutMS:        30000,
			MaxRetries:       2,
			BreakerFailures:  5,
			BreakerTimeoutMS: 30000,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
