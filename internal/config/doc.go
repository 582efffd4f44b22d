// Package config handles configuration loading for chat-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. Missing values fall back to defaults before validation.
//
// # Configuration File
//
// The path comes from the CHAT_CONFIG environment variable, or
// ~/.config/coven-chat/gateway.yaml when unset. CHAT_DB_PATH overrides
// database.path.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CHAT_JWT_SECRET}"
//
// Unset variables expand to an empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  allowed_origins: ["https://chat.example.com"]
//	  shutdown_timeout: "10s"
//
//	database:
//	  path: "/var/lib/coven-chat/chat.db"
//
//	broker:
//	  driver: "redis"            # memory, redis
//	  redis_url: "redis://localhost:6379/0"
//	  stream: "chat.events"
//	  publish_timeout: "5s"
//	  dedupe_ttl: "10m"
//
//	llm:
//	  api_key: "${OPENAI_API_KEY}"
//	  base_url: ""               # any OpenAI-compatible endpoint
//	  model: "gpt-4o-mini"
//	  timeout: "60s"
//
//	agents:
//	  catalog: "agents.toml"
//	  context_size: 20
//	  context_timeout: "2s"
//
//	pools:
//	  fanout: {workers: 8, queue_size: 500}
//	  agents: {workers: 8, queue_size: 200}
//
//	ratelimit:
//	  driver: "memory"           # memory, redis
//	  cooldown: "2.5s"
//	  daily_quota: 200
//	  timezone: "Asia/Seoul"
//
//	logging:
//	  level: "info"              # debug, info, warn, error
//	  format: "text"             # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Validation
//
// Validate reports every problem at once:
//
//   - JWT secret presence and minimum length (32 bytes)
//   - database path presence
//   - broker and limiter driver names, and a Redis URL when either uses Redis
//   - time zone name
//   - logging format
package config
