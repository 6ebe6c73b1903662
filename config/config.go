// Package config loads chatkernel settings from YAML with CHATKERNEL_*
// environment overrides.
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

// Provider names.
const (
	ProviderMock      = "mock"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// History backends.
const (
	HistoryMemory = "memory"
	HistorySQLite = "sqlite"
	HistoryMySQL  = "mysql"
)

// Config defines runtime settings.
type Config struct {
	Provider   ProviderConfig   `yaml:"provider"`
	Kernel     KernelConfig     `yaml:"kernel"`
	Server     ServerConfig     `yaml:"server"`
	History    HistoryConfig    `yaml:"history"`
	Publishers PublishersConfig `yaml:"publishers"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ProviderConfig selects and configures the model backend.
type ProviderConfig struct {
	Name         string  `yaml:"name"`
	Model        string  `yaml:"model"`
	SystemPrompt string  `yaml:"systemPrompt"`
	Temperature  float64 `yaml:"temperature"`
	// APIKey is optional; the SDKs fall back to OPENAI_API_KEY / ANTHROPIC_API_KEY.
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
}

// KernelConfig configures the kernel spec and per kernel limits.
type KernelConfig struct {
	SpecName          string `yaml:"specName"`
	DisplayName       string `yaml:"displayName"`
	Language          string `yaml:"language"`
	Banner            string `yaml:"banner"`
	MaxPrompts        int    `yaml:"maxPrompts"`
	InvalidateOnError *bool  `yaml:"invalidateOnError"`
}

// InvalidatesOnError reports whether a failed stream drops the session
// (default true).
func (k KernelConfig) InvalidatesOnError() bool {
	return k.InvalidateOnError == nil || *k.InvalidateOnError
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// HistoryConfig selects the history store.
type HistoryConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// PublishersConfig enables optional output fan-out.
type PublishersConfig struct {
	Redis RedisConfig `yaml:"redis"`
	AMQP  AMQPConfig  `yaml:"amqp"`
}

// RedisConfig enables the Redis publisher when Address is set.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// AMQPConfig enables the RabbitMQ publisher when URL is set.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration: mock provider, in-memory
// history, no publishers.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:        ProviderMock,
			Model:       "mock-model",
			Temperature: 0.7,
		},
		Kernel: KernelConfig{
			SpecName:    "built-in-chat",
			DisplayName: "Built-in AI Chat",
			Language:    "python",
			Banner:      "{{.DisplayName}} ({{.Provider}}: {{.Model}})",
		},
		Server: ServerConfig{
			Addr:            ":8888",
			ShutdownTimeout: 10 * time.Second,
		},
		History: HistoryConfig{Driver: HistoryMemory},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (optional) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("CHATKERNEL_PROVIDER", &c.Provider.Name)
	setString("CHATKERNEL_MODEL", &c.Provider.Model)
	setString("CHATKERNEL_SYSTEM_PROMPT", &c.Provider.SystemPrompt)
	setString("CHATKERNEL_API_KEY", &c.Provider.APIKey)
	setString("CHATKERNEL_BASE_URL", &c.Provider.BaseURL)
	setString("CHATKERNEL_ADDR", &c.Server.Addr)
	setString("CHATKERNEL_HISTORY_DRIVER", &c.History.Driver)
	setString("CHATKERNEL_HISTORY_DSN", &c.History.DSN)
	setString("CHATKERNEL_REDIS_ADDR", &c.Publishers.Redis.Address)
	setString("CHATKERNEL_AMQP_URL", &c.Publishers.AMQP.URL)
	setString("CHATKERNEL_LOG_LEVEL", &c.Logging.Level)
	setString("CHATKERNEL_LOG_FORMAT", &c.Logging.Format)

	if v := os.Getenv("CHATKERNEL_TEMPERATURE"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse CHATKERNEL_TEMPERATURE: %w", err)
		}
		c.Provider.Temperature = t
	}
	if v := os.Getenv("CHATKERNEL_MAX_PROMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse CHATKERNEL_MAX_PROMPTS: %w", err)
		}
		c.Kernel.MaxPrompts = n
	}

	return nil
}

// Validate checks enumerations and required fields.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider.Name {
	case ProviderMock, ProviderOpenAI, ProviderAnthropic, ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider.Name))
	}

	switch c.History.Driver {
	case HistoryMemory:
	case HistorySQLite, HistoryMySQL:
		if strings.TrimSpace(c.History.DSN) == "" {
			errs = append(errs, fmt.Errorf("history driver %s requires a dsn", c.History.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown history driver %q", c.History.Driver))
	}

	if c.Kernel.SpecName == "" {
		errs = append(errs, errors.New("kernel spec name is required"))
	}
	if c.Kernel.MaxPrompts < 0 {
		errs = append(errs, errors.New("kernel maxPrompts must not be negative"))
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature %.2f out of range [0,2]", c.Provider.Temperature))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// DefaultConfigPath returns the default location for the CLI config file.
func DefaultConfigPath() string {
	if path := os.Getenv("CHATKERNEL_CONFIG"); path != "" {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatkernel", "config.yaml")
}
