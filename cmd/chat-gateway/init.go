// ABOUTME: Interactive config writer for chat-gateway init
// ABOUTME: Generates a random JWT secret and points the database at the XDG data dir

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/config"
)

// dataPath returns XDG_DATA_HOME/coven-chat, or ~/.local/share/coven-chat.
func dataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "coven-chat")
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("chat-gateway configuration setup")
	fmt.Println("================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", config.DefaultPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server ---")
	httpAddr := prompt(reader, "HTTP address", "127.0.0.1:8080")
	origins := prompt(reader, "Allowed browser origins (comma separated, * for any)", "*")

	fmt.Println("\n--- Database ---")
	dbPath := prompt(reader, "SQLite database path", filepath.Join(dataPath(), "chat.db"))

	fmt.Println("\n--- Broker ---")
	driver := prompt(reader, "Broker driver (memory/redis)", config.DriverMemory)
	var redisURL string
	if driver == config.DriverRedis {
		redisURL = prompt(reader, "Redis URL", "redis://localhost:6379/0")
	}

	fmt.Println("\n--- Agents ---")
	enableLLM := yes(prompt(reader, "Answer @ai mentions with an OpenAI-compatible API?", "yes"))
	var baseURL, model, catalog string
	if enableLLM {
		baseURL = prompt(reader, "API base URL (empty for api.openai.com)", "")
		model = prompt(reader, "Model", "gpt-4o-mini")
		catalog = prompt(reader, "Agent catalog (TOML, empty for none)", "")
	}

	fmt.Println("\n--- Logging ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}

	var cfg strings.Builder
	cfg.WriteString("# chat-gateway configuration\n")
	cfg.WriteString("# Generated by chat-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n", httpAddr)
	cfg.WriteString("  allowed_origins:\n")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			fmt.Fprintf(&cfg, "    - %q\n", o)
		}
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n\n", dbPath)

	cfg.WriteString("broker:\n")
	fmt.Fprintf(&cfg, "  driver: %q\n", driver)
	if redisURL != "" {
		fmt.Fprintf(&cfg, "  redis_url: %q\n", redisURL)
	}
	cfg.WriteString("\n")

	if enableLLM {
		cfg.WriteString("llm:\n")
		cfg.WriteString("  api_key: \"${OPENAI_API_KEY}\"\n")
		if baseURL != "" {
			fmt.Fprintf(&cfg, "  base_url: %q\n", baseURL)
		}
		fmt.Fprintf(&cfg, "  model: %q\n", model)
		cfg.WriteString("  timeout: \"60s\"\n\n")
	}

	cfg.WriteString("agents:\n")
	if catalog != "" {
		fmt.Fprintf(&cfg, "  catalog: %q\n", catalog)
	}
	cfg.WriteString("  context_size: 20\n")
	cfg.WriteString("  context_timeout: \"2s\"\n\n")

	cfg.WriteString("ratelimit:\n")
	fmt.Fprintf(&cfg, "  driver: %q\n", driver)
	cfg.WriteString("  cooldown: \"2.5s\"\n")
	cfg.WriteString("  daily_quota: 200\n")
	cfg.WriteString("  timezone: \"Asia/Seoul\"\n\n")

	cfg.WriteString("auth:\n")
	fmt.Fprintf(&cfg, "  jwt_secret: %q\n\n", base64.StdEncoding.EncodeToString(secret))

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n\n", logFormat)

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: true\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file carries the JWT secret.
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("\n  ✓ Config written to %s\n", outputFile)
	green.Printf("  ✓ Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	if catalog != "" {
		fmt.Printf("  chat-gateway seed --catalog %s\n", catalog)
	}
	fmt.Println("  chat-gateway token --member alice --name Alice")
	fmt.Println("  chat-gateway serve")
	return nil
}

func yes(answer string) bool {
	a := strings.ToLower(answer)
	return a == "yes" || a == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// EOF keeps the default.
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
