// ABOUTME: Configuration loading and parsing for chat-gateway
// ABOUTME: Supports YAML files with environment variable expansion, defaults and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted by Load and DefaultPath.
const (
	EnvConfigPath = "CHAT_CONFIG"
	EnvDBPath     = "CHAT_DB_PATH"
)

// Broker and limiter drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Config represents the complete chat-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Broker    BrokerConfig    `yaml:"broker"`
	LLM       LLMConfig       `yaml:"llm"`
	Agents    AgentsConfig    `yaml:"agents"`
	Pools     PoolsConfig     `yaml:"pools"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	ShutdownTimeout    time.Duration `yaml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BrokerConfig selects and tunes the message broker.
type BrokerConfig struct {
	Driver     string `yaml:"driver"`
	RedisURL   string `yaml:"redis_url"`
	Stream     string `yaml:"stream"`
	Consumer   string `yaml:"consumer"`
	QueueSize  int    `yaml:"queue_size"`
	DedupeSize int    `yaml:"dedupe_size"`

	PublishTimeout time.Duration `yaml:"-"`
	DedupeTTL      time.Duration `yaml:"-"`

	PublishTimeoutRaw string `yaml:"publish_timeout"`
	DedupeTTLRaw      string `yaml:"dedupe_ttl"`
}

// LLMConfig holds the completion provider settings. Agents stay silent when
// neither an API key nor a base URL is configured.
type LLMConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	MaxTokens  int64  `yaml:"max_tokens"`
	MaxRetries int    `yaml:"max_retries"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// Enabled reports whether a completion provider is configured.
func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" || c.BaseURL != ""
}

// AgentsConfig holds agent catalog and context settings
type AgentsConfig struct {
	Catalog     string `yaml:"catalog"`
	ContextSize int    `yaml:"context_size"`

	ContextTimeout    time.Duration `yaml:"-"`
	ContextTimeoutRaw string        `yaml:"context_timeout"`
}

// PoolConfig sizes one worker pool.
type PoolConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// PoolsConfig sizes the background worker pools.
type PoolsConfig struct {
	Fanout PoolConfig `yaml:"fanout"`
	Agents PoolConfig `yaml:"agents"`
}

// RateLimitConfig tunes the per-room, per-agent limiter.
type RateLimitConfig struct {
	Driver     string `yaml:"driver"`
	DailyQuota int    `yaml:"daily_quota"`
	Timezone   string `yaml:"timezone"`

	Cooldown    time.Duration `yaml:"-"`
	CooldownRaw string        `yaml:"cooldown"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultPath returns the config path from CHAT_CONFIG, or
// ~/.config/coven-chat/gateway.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "coven-chat", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if p := os.Getenv(EnvDBPath); p != "" {
		cfg.Database.Path = p
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Broker.Driver == "" {
		c.Broker.Driver = DriverMemory
	}
	if c.Broker.QueueSize == 0 {
		c.Broker.QueueSize = 1024
	}
	if c.Broker.PublishTimeout == 0 {
		c.Broker.PublishTimeout = 5 * time.Second
	}
	if c.Broker.DedupeTTL == 0 {
		c.Broker.DedupeTTL = 10 * time.Minute
	}
	if c.Broker.DedupeSize == 0 {
		c.Broker.DedupeSize = 10000
	}

	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60 * time.Second
	}

	if c.Agents.ContextSize == 0 {
		c.Agents.ContextSize = 20
	}
	if c.Agents.ContextTimeout == 0 {
		c.Agents.ContextTimeout = 2 * time.Second
	}

	if c.Pools.Fanout.Workers == 0 {
		c.Pools.Fanout.Workers = 8
	}
	if c.Pools.Fanout.QueueSize == 0 {
		c.Pools.Fanout.QueueSize = 500
	}
	if c.Pools.Agents.Workers == 0 {
		c.Pools.Agents.Workers = 8
	}
	if c.Pools.Agents.QueueSize == 0 {
		c.Pools.Agents.QueueSize = 200
	}

	if c.RateLimit.Driver == "" {
		c.RateLimit.Driver = DriverMemory
	}
	if c.RateLimit.Cooldown == 0 {
		c.RateLimit.Cooldown = 2500 * time.Millisecond
	}
	if c.RateLimit.DailyQuota == 0 {
		c.RateLimit.DailyQuota = 200
	}
	if c.RateLimit.Timezone == "" {
		c.RateLimit.Timezone = "Asia/Seoul"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Every failure is reported, not just the first.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPAddr == "" {
		errs = append(errs, errors.New("server.http_addr is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, fmt.Errorf("database.path is required (or set %s)", EnvDBPath))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	} else if len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 32 bytes"))
	}

	switch c.Broker.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Broker.RedisURL == "" {
			errs = append(errs, errors.New("broker.redis_url is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("broker.driver %q is not one of memory, redis", c.Broker.Driver))
	}

	switch c.RateLimit.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Broker.RedisURL == "" {
			errs = append(errs, errors.New("ratelimit.driver redis needs broker.redis_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("ratelimit.driver %q is not one of memory, redis", c.RateLimit.Driver))
	}
	if c.RateLimit.DailyQuota < 0 {
		errs = append(errs, errors.New("ratelimit.daily_quota must not be negative"))
	}
	if _, err := time.LoadLocation(c.RateLimit.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("ratelimit.timezone: %w", err))
	}

	for name, p := range map[string]PoolConfig{"fanout": c.Pools.Fanout, "agents": c.Pools.Agents} {
		if p.Workers < 0 || p.QueueSize < 0 {
			errs = append(errs, fmt.Errorf("pools.%s: workers and queue_size must not be negative", name))
		}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"broker.publish_timeout", cfg.Broker.PublishTimeoutRaw, &cfg.Broker.PublishTimeout},
		{"broker.dedupe_ttl", cfg.Broker.DedupeTTLRaw, &cfg.Broker.DedupeTTL},
		{"llm.timeout", cfg.LLM.TimeoutRaw, &cfg.LLM.Timeout},
		{"agents.context_timeout", cfg.Agents.ContextTimeoutRaw, &cfg.Agents.ContextTimeout},
		{"ratelimit.cooldown", cfg.RateLimit.CooldownRaw, &cfg.RateLimit.Cooldown},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
