// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, duration parsing and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:9090"
  allowed_origins: ["https://chat.example.com"]
  shutdown_timeout: "3s"

database:
  path: "./test.db"

broker:
  driver: "redis"
  redis_url: "redis://localhost:6379/0"
  stream: "chat.test"
  publish_timeout: "2s"

llm:
  api_key: "sk-test"
  model: "gpt-test"
  timeout: "30s"

agents:
  catalog: "agents.toml"
  context_size: 10
  context_timeout: "1500ms"

pools:
  fanout:
    workers: 4
    queue_size: 100

ratelimit:
  cooldown: "5s"
  daily_quota: 50
  timezone: "UTC"

auth:
  jwt_secret: "`+testSecret+`"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:9090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:9090")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://chat.example.com" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 3s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Broker.Driver != DriverRedis || cfg.Broker.Stream != "chat.test" {
		t.Errorf("Broker = %+v", cfg.Broker)
	}
	if cfg.Broker.PublishTimeout != 2*time.Second {
		t.Errorf("Broker.PublishTimeout = %v, want 2s", cfg.Broker.PublishTimeout)
	}
	if !cfg.LLM.Enabled() || cfg.LLM.Model != "gpt-test" || cfg.LLM.Timeout != 30*time.Second {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.Agents.ContextSize != 10 || cfg.Agents.ContextTimeout != 1500*time.Millisecond {
		t.Errorf("Agents = %+v", cfg.Agents)
	}
	if cfg.Pools.Fanout.Workers != 4 || cfg.Pools.Fanout.QueueSize != 100 {
		t.Errorf("Pools.Fanout = %+v", cfg.Pools.Fanout)
	}
	if cfg.RateLimit.Cooldown != 5*time.Second || cfg.RateLimit.DailyQuota != 50 || cfg.RateLimit.Timezone != "UTC" {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./chat.db"
auth:
  jwt_secret: "`+testSecret+`"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"http_addr", cfg.Server.HTTPAddr, "127.0.0.1:8080"},
		{"broker.driver", cfg.Broker.Driver, DriverMemory},
		{"broker.dedupe_ttl", cfg.Broker.DedupeTTL, 10 * time.Minute},
		{"llm.timeout", cfg.LLM.Timeout, 60 * time.Second},
		{"agents.context_size", cfg.Agents.ContextSize, 20},
		{"agents.context_timeout", cfg.Agents.ContextTimeout, 2 * time.Second},
		{"pools.fanout.workers", cfg.Pools.Fanout.Workers, 8},
		{"pools.fanout.queue_size", cfg.Pools.Fanout.QueueSize, 500},
		{"pools.agents.queue_size", cfg.Pools.Agents.QueueSize, 200},
		{"ratelimit.cooldown", cfg.RateLimit.Cooldown, 2500 * time.Millisecond},
		{"ratelimit.daily_quota", cfg.RateLimit.DailyQuota, 200},
		{"ratelimit.timezone", cfg.RateLimit.Timezone, "Asia/Seoul"},
		{"logging.format", cfg.Logging.Format, "text"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if cfg.LLM.Enabled() {
		t.Error("LLM.Enabled() = true without api_key or base_url")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_CHAT_SECRET", testSecret)
	t.Setenv("TEST_CHAT_DB", "/tmp/from-env.db")

	configPath := writeConfig(t, `
database:
  path: "${TEST_CHAT_DB}"
auth:
  jwt_secret: "${TEST_CHAT_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("Auth.JWTSecret = %q, want expanded value", cfg.Auth.JWTSecret)
	}
	if cfg.Database.Path != "/tmp/from-env.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/from-env.db")
	}
}

func TestLoad_DBPathOverride(t *testing.T) {
	t.Setenv(EnvDBPath, "/override/chat.db")

	configPath := writeConfig(t, `
auth:
  jwt_secret: "`+testSecret+`"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/override/chat.db" {
		t.Errorf("Database.Path = %q, want override", cfg.Database.Path)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./chat.db"
auth:
  jwt_secret: "`+testSecret+`"
ratelimit:
  cooldown: "soon"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "ratelimit.cooldown") {
		t.Errorf("error = %v, want mention of ratelimit.cooldown", err)
	}
}

func TestLoad_NonPositiveDuration(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./chat.db"
auth:
  jwt_secret: "`+testSecret+`"
llm:
  timeout: "-1s"
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Load() expected error for negative duration")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "server: [unclosed")
	if _, err := Load(configPath); err == nil {
		t.Fatal("Load() expected error for invalid YAML")
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := &Config{
		Broker:    BrokerConfig{Driver: "kafka"},
		RateLimit: RateLimitConfig{Driver: DriverRedis, Timezone: "Mars/Olympus"},
		Auth:      AuthConfig{JWTSecret: "short"},
		Logging:   LoggingConfig{Format: "xml"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}

	for _, want := range []string{
		"server.http_addr is required",
		"database.path is required",
		"at least 32 bytes",
		`broker.driver "kafka"`,
		"ratelimit.driver redis needs broker.redis_url",
		"ratelimit.timezone",
		`logging.format "xml"`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error missing %q:\n%v", want, err)
		}
	}
}

func TestValidate_RedisBrokerNeedsURL(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./chat.db"
auth:
  jwt_secret: "`+testSecret+`"
broker:
  driver: "redis"
`)

	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "broker.redis_url") {
		t.Errorf("Load() error = %v, want broker.redis_url error", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "value")
	os.Unsetenv("UNSET_TEST_VAR")

	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"${TEST_VAR}", "value"},
		{"a-${TEST_VAR}-b", "a-value-b"},
		{"${UNSET_TEST_VAR}", ""},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/chat/gateway.yaml")
	if got := DefaultPath(); got != "/etc/chat/gateway.yaml" {
		t.Errorf("DefaultPath() = %q", got)
	}

	t.Setenv(EnvConfigPath, "")
	if got := DefaultPath(); !strings.HasSuffix(got, filepath.Join("coven-chat", "gateway.yaml")) && got != "config.yaml" {
		t.Errorf("DefaultPath() = %q", got)
	}
}
