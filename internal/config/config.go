package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Config is the root configuration for the bot. Reads and mutations are
// safe for concurrent use; the admin API mutates while the orchestrator reads.
type Config struct {
	Feishu    FeishuConfig    `json:"feishu"`
	Dify      DifyConfig      `json:"dify"`
	Agents    []AgentConfig   `json:"agents"`
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`

	mu sync.RWMutex
}

// Connection modes for receiving Feishu events.
const (
	ConnectionModeWebsocket = "websocket"
	ConnectionModeWebhook   = "webhook"
)

// FeishuConfig holds the Feishu/Lark app credentials and connection settings.
type FeishuConfig struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
	// Domain selects the API endpoint: "feishu" (open.feishu.cn),
	// "lark" (open.larksuite.com), or a full base URL.
	Domain string `json:"domain,omitempty"`
	// ConnectionMode is "websocket" (default) or "webhook".
	ConnectionMode    string `json:"connection_mode,omitempty"`
	VerificationToken string `json:"verification_token,omitempty"`
	EncryptKey        string `json:"encrypt_key,omitempty"`
	WebhookPort       int    `json:"webhook_port,omitempty"`
	WebhookPath       string `json:"webhook_path,omitempty"`
}

// Configured reports whether the app credentials are present.
func (f FeishuConfig) Configured() bool {
	return f.AppID != "" && f.AppSecret != ""
}

// DifyConfig holds the Dify API endpoint and the fallback API key used
// when an agent has no token of its own.
type DifyConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// AgentConfig is one configured Dify agent. At most one agent in the
// directory carries IsDefault; the mutators below enforce it.
type AgentConfig struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	DifyAppToken string `json:"dify_app_token,omitempty"`
	IsDefault    bool   `json:"is_default"`
}

// ServerConfig configures the admin JSON API listener.
type ServerConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	AdminToken string `json:"-"` // from env DIFYBOT_ADMIN_TOKEN only
}

// DatabaseConfig selects the conversation store backend.
// PostgresDSN is never read from the config file — env DIFYBOT_POSTGRES_DSN only.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Endpoint string `json:"endpoint,omitempty"` // host:port of the OTLP collector
	Protocol string `json:"protocol,omitempty"` // "http" (default) or "grpc"
}

// --- Agent directory ---

// AgentList returns a copy of the configured agents in order.
func (c *Config) AgentList() []AgentConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]AgentConfig, len(c.Agents))
	copy(out, c.Agents)
	return out
}

// AgentByID looks up an agent by id. Returns nil if not found.
func (c *Config) AgentByID(id string) *AgentConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			a := c.Agents[i]
			return &a
		}
	}
	return nil
}

// DefaultAgent returns the agent flagged as default, or nil when none is.
// It does not fall back to the first agent: with multiple agents and no
// explicit default, the orchestrator prompts the user to choose.
func (c *Config) DefaultAgent() *AgentConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.Agents {
		if c.Agents[i].IsDefault {
			a := c.Agents[i]
			return &a
		}
	}
	return nil
}

// AddAgent appends a new agent. The first agent added, or one explicitly
// flagged default, becomes the sole default.
func (c *Config) AddAgent(a AgentConfig) AgentConfig {
	c.mu.Lock()
	defer c.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.IsDefault || len(c.Agents) == 0 {
		for i := range c.Agents {
			c.Agents[i].IsDefault = false
		}
		a.IsDefault = true
	}
	c.Agents = append(c.Agents, a)
	return a
}

// UpdateAgent applies updates to an existing agent. Setting IsDefault on
// the update clears the flag everywhere else.
func (c *Config) UpdateAgent(id string, updates AgentConfig) (*AgentConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("agent %s not found", id)
	}

	if updates.IsDefault {
		for i := range c.Agents {
			c.Agents[i].IsDefault = false
		}
	}

	a := &c.Agents[idx]
	if updates.Name != "" {
		a.Name = updates.Name
	}
	if updates.Description != "" {
		a.Description = updates.Description
	}
	if updates.DifyAppToken != "" {
		a.DifyAppToken = updates.DifyAppToken
	}
	if updates.IsDefault {
		a.IsDefault = true
	}
	out := *a
	return &out, nil
}

// DeleteAgent removes an agent. If the default was removed, the first
// remaining agent becomes default so the directory keeps exactly one.
func (c *Config) DeleteAgent(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	wasDefault := c.Agents[idx].IsDefault
	c.Agents = append(c.Agents[:idx], c.Agents[idx+1:]...)
	if wasDefault && len(c.Agents) > 0 {
		c.Agents[0].IsDefault = true
	}
	return true
}

// --- Section accessors ---
// Sections are returned by value so callers never hold a reference into the
// live struct.

func (c *Config) FeishuSettings() FeishuConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Feishu
}

func (c *Config) DifySettings() DifyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Dify
}

func (c *Config) ServerSettings() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

func (c *Config) SetFeishu(f FeishuConfig) {
	c.mu.Lock()
	c.Feishu = f
	c.mu.Unlock()
}

func (c *Config) SetDify(d DifyConfig) {
	c.mu.Lock()
	c.Dify = d
	c.mu.Unlock()
}

// ResolveDomain maps the configured domain shorthand to an API base URL.
func ResolveDomain(domain string) string {
	switch domain {
	case "", "feishu":
		return "https://open.feishu.cn"
	case "lark":
		return "https://open.larksuite.com"
	default:
		if !strings.HasPrefix(domain, "http") {
			return "https://" + domain
		}
		return domain
	}
}
