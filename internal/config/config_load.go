package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Feishu: FeishuConfig{
			Domain:         "feishu",
			ConnectionMode: ConnectionModeWebsocket,
			WebhookPort:    3000,
			WebhookPath:    "/feishu/events",
		},
		Dify: DifyConfig{
			TimeoutSeconds: 60,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 18791,
		},
		Database: DatabaseConfig{
			SQLitePath: "~/.dify-feishu-bot/bot.db",
		},
		Telemetry: TelemetryConfig{
			Protocol: "http",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays secrets and overrides from the environment.
// Secrets (DSN, admin token) come from env only and are never persisted.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DIFYBOT_APP_ID"); v != "" {
		cfg.Feishu.AppID = v
	}
	if v := os.Getenv("DIFYBOT_APP_SECRET"); v != "" {
		cfg.Feishu.AppSecret = v
	}
	if v := os.Getenv("DIFYBOT_DIFY_BASE_URL"); v != "" {
		cfg.Dify.BaseURL = v
	}
	if v := os.Getenv("DIFYBOT_DIFY_API_KEY"); v != "" {
		cfg.Dify.APIKey = v
	}
	cfg.Database.PostgresDSN = os.Getenv("DIFYBOT_POSTGRES_DSN")
	cfg.Server.AdminToken = os.Getenv("DIFYBOT_ADMIN_TOKEN")
	if v := os.Getenv("DIFYBOT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
}

// Save writes the config as pretty-printed JSON. Env-only secrets are
// excluded by their `json:"-"` tags.
func (c *Config) Save(path string) error {
	c.mu.RLock()
	data, err := json.MarshalIndent(c, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
