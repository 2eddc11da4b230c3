// Package config defines the gbot configuration schema and loading.
// The file format is JSON5; secrets are overlaid from GBOT_* env vars and
// never need to live in the file.
package config

import (
	"sync"
)

// DefaultBotPrefix marks bot-authored outbound text on shared-identity
// transports and doubles as the inbound self-echo drop filter.
const DefaultBotPrefix = "[gbot] "

// Config is the root configuration.
type Config struct {
	Assistant  AssistantConfig             `json:"assistant"`
	Providers  ProvidersConfig             `json:"providers"`
	Channels   ChannelsConfig              `json:"channels"`
	Tools      ToolsConfig                 `json:"tools"`
	Background BackgroundConfig            `json:"background"`
	Auth       AuthConfig                  `json:"auth"`
	Store      StoreConfig                 `json:"store"`
	Telemetry  TelemetryConfig             `json:"telemetry,omitempty"`
	MCPServers map[string]*MCPServerConfig `json:"mcp_servers,omitempty"`
	mu         sync.RWMutex
}

// OwnerConfig identifies the owner-role user created at startup.
type OwnerConfig struct {
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
}

// PersonaConfig shapes the identity layer of the system prompt.
type PersonaConfig struct {
	Name        string   `json:"name,omitempty"`
	Tone        string   `json:"tone,omitempty"`
	Language    string   `json:"language,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
}

// ContextPriorities holds per-layer token budgets for the context builder.
// Runtime (100), role (100) and events (300) budgets are fixed in code.
type ContextPriorities struct {
	Identity       int `json:"identity"`
	AgentMemory    int `json:"agent_memory"`
	UserContext    int `json:"user_context"`
	SessionSummary int `json:"session_summary"`
	Skills         int `json:"skills"`
}

// AssistantConfig controls the main agent.
type AssistantConfig struct {
	Name              string            `json:"name"`
	Owner             *OwnerConfig      `json:"owner,omitempty"`
	Workspace         string            `json:"workspace"`
	Model             string            `json:"model"`
	SummaryModel      string            `json:"summary_model,omitempty"` // session summaries; empty = main model
	Temperature       float64           `json:"temperature"`
	SessionTokenLimit int               `json:"session_token_limit"`
	IterationLimit    int               `json:"iteration_limit"`
	HistoryLimit      int               `json:"history_limit,omitempty"`
	TokenCounter      string            `json:"token_counter,omitempty"` // tiktoken encoding name, or "heuristic"
	SystemPrompt      string            `json:"system_prompt,omitempty"` // overrides the identity file
	Persona           PersonaConfig     `json:"persona"`
	RolesFile         string            `json:"roles_file,omitempty"` // absent file = open policy
	ContextPriorities ContextPriorities `json:"context_priorities"`
}

// ProviderConfig holds credentials for a single LLM backend.
// API keys come from env only (GBOT_<NAME>_API_KEY), never from the file.
type ProviderConfig struct {
	APIKey            string `json:"-"`
	APIBase           string `json:"api_base,omitempty"`
	RequestsPerMinute int    `json:"requests_per_minute,omitempty"` // 0 = unlimited
}

// ProvidersConfig lists the supported backends. Model ids use the
// "provider/model" form; the prefix routes to the matching entry.
type ProvidersConfig struct {
	Anthropic  ProviderConfig `json:"anthropic"`
	OpenAI     ProviderConfig `json:"openai"`
	OpenRouter ProviderConfig `json:"openrouter"`
	DeepSeek   ProviderConfig `json:"deepseek"`
	Groq       ProviderConfig `json:"groq"`
}

// TelegramConfig configures the Telegram channel (long polling).
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"-"` // from env GBOT_TELEGRAM_TOKEN only
	AllowFrom []string `json:"allow_from,omitempty"`
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"-"` // from env GBOT_DISCORD_TOKEN only
	AllowFrom []string `json:"allow_from,omitempty"`
}

// WhatsAppConfig configures the WAHA-style bridge channel. WhatsApp runs
// on the owner's own account, so outbound bot messages carry the bot-voice
// prefix and prefixed self-echoes are dropped.
type WhatsAppConfig struct {
	Enabled       bool              `json:"enabled"`
	BridgeURL     string            `json:"bridge_url,omitempty"`
	Session       string            `json:"session,omitempty"`
	APIKey        string            `json:"-"` // from env GBOT_WHATSAPP_API_KEY only
	AllowFrom     []string          `json:"allow_from,omitempty"`
	AllowedGroups []string          `json:"allowed_groups,omitempty"`
	AllowedDMs    map[string]string `json:"allowed_dms,omitempty"` // address -> display name
	RespondToDM   bool              `json:"respond_to_dm,omitempty"`
	MonitorDM     bool              `json:"monitor_dm,omitempty"`
}

// WSConfig configures the realtime api-channel socket.
type WSConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// ChannelsConfig groups all channel adapters.
type ChannelsConfig struct {
	BotPrefix string         `json:"bot_prefix,omitempty"` // outbound marker on shared-identity transports
	Telegram  TelegramConfig `json:"telegram"`
	Discord   DiscordConfig  `json:"discord"`
	WhatsApp  WhatsAppConfig `json:"whatsapp"`
	WS        WSConfig       `json:"ws"`
}

// ShellToolConfig controls run_command.
type ShellToolConfig struct {
	TimeoutSeconds      int  `json:"timeout_seconds,omitempty"`
	RestrictToWorkspace bool `json:"restrict_to_workspace,omitempty"`
}

// BraveConfig configures the Brave search backend.
type BraveConfig struct {
	APIKey     string `json:"-"` // from env GBOT_BRAVE_API_KEY only
	MaxResults int    `json:"max_results,omitempty"`
}

// DuckDuckGoConfig configures the keyless search fallback.
type DuckDuckGoConfig struct {
	Enabled    bool `json:"enabled"`
	MaxResults int  `json:"max_results,omitempty"`
}

// WebToolsConfig controls web_search and web_fetch.
type WebToolsConfig struct {
	Brave          BraveConfig       `json:"brave"`
	DuckDuckGo     DuckDuckGoConfig  `json:"duckduckgo"`
	FetchShortcuts map[string]string `json:"fetch_shortcuts,omitempty"` // short tag -> URL
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

// ToolsConfig groups tool settings.
type ToolsConfig struct {
	Shell ShellToolConfig `json:"shell"`
	Web   WebToolsConfig  `json:"web"`
}

// CronConfig controls the scheduler loop.
type CronConfig struct {
	Enabled        bool `json:"enabled"`
	PollIntervalMs int  `json:"poll_interval_ms,omitempty"`
}

// DelegationConfig sets the planner LLM. Empty model falls back to
// assistant.model. Examples are extra one-line planning examples appended
// to the planner prompt.
type DelegationConfig struct {
	Model       string   `json:"model,omitempty"`
	Temperature float64  `json:"temperature"`
	Examples    []string `json:"examples,omitempty"`
}

// WorkerConfig bounds the subagent worker.
type WorkerConfig struct {
	MaxConcurrent int `json:"max_concurrent,omitempty"`
}

// BackgroundConfig groups background execution settings.
type BackgroundConfig struct {
	Cron       CronConfig       `json:"cron"`
	Delegation DelegationConfig `json:"delegation"`
	Worker     WorkerConfig     `json:"worker"`
}

// RateLimitConfig is the per-user inbound quota.
type RateLimitConfig struct {
	Enabled           bool `json:"enabled"`
	RequestsPerMinute int  `json:"requests_per_minute,omitempty"`
	Burst             int  `json:"burst,omitempty"`
}

// AuthConfig controls the api-channel boundary. An empty JWTSecretKey
// disables auth entirely (pass-through).
type AuthConfig struct {
	JWTSecretKey string          `json:"-"` // from env GBOT_JWT_SECRET_KEY only
	RateLimit    RateLimitConfig `json:"rate_limit"`
}

// StoreConfig selects and locates the durable store backend.
// PostgresDSN is never read from the file, only from env GBOT_POSTGRES_DSN.
type StoreConfig struct {
	Driver      string `json:"driver,omitempty"` // "sqlite" (default) or "postgres"
	Path        string `json:"path,omitempty"`
	PostgresDSN string `json:"-"`
}

// TelemetryConfig controls OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// MCPServerConfig configures a single external MCP server connection.
type MCPServerConfig struct {
	Transport  string            `json:"transport"` // "stdio", "sse", "streamable-http"
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Enabled    *bool             `json:"enabled,omitempty"` // default true
	AllowTools []string          `json:"allow_tools,omitempty"`
	DenyTools  []string          `json:"deny_tools,omitempty"`
	TimeoutSec int               `json:"timeout_sec,omitempty"`
}

// IsEnabled returns whether this MCP server is enabled (default true).
func (c *MCPServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// OwnerUserID returns the configured owner username, or "" when unset.
func (c *Config) OwnerUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Assistant.Owner == nil {
		return ""
	}
	return c.Assistant.Owner.Username
}

// AuthEnabled reports whether the auth boundary is active.
func (c *Config) AuthEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Auth.JWTSecretKey != ""
}

// WorkspacePath returns the expanded workspace directory.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Assistant.Workspace)
}

// StorePath returns the expanded SQLite database path.
func (c *Config) StorePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Store.Path)
}

// RolesFilePath returns the expanded roles file path, or "" when the open
// policy applies.
func (c *Config) RolesFilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Assistant.RolesFile)
}

// BotPrefix returns the bot-voice marker for shared-identity transports.
func (c *Config) BotPrefix() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Channels.BotPrefix == "" {
		return DefaultBotPrefix
	}
	return c.Channels.BotPrefix
}

// DelegationModel returns the planner model, falling back to the
// assistant model.
func (c *Config) DelegationModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Background.Delegation.Model != "" {
		return c.Background.Delegation.Model
	}
	return c.Assistant.Model
}

// DelegationSettings returns a copy of the planner configuration.
func (c *Config) DelegationSettings() DelegationConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d := c.Background.Delegation
	d.Examples = append([]string(nil), d.Examples...)
	return d
}

// ShellSettings returns a copy of the run_command configuration.
func (c *Config) ShellSettings() ShellToolConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Tools.Shell
}

// WebSettings returns a copy of the web tool configuration.
func (c *Config) WebSettings() WebToolsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w := c.Tools.Web
	if len(w.FetchShortcuts) > 0 {
		m := make(map[string]string, len(w.FetchShortcuts))
		for k, v := range w.FetchShortcuts {
			m[k] = v
		}
		w.FetchShortcuts = m
	}
	return w
}

// SummarizerModel returns the model used for session summaries and fact
// extraction, falling back to the assistant model.
func (c *Config) SummarizerModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Assistant.SummaryModel != "" {
		return c.Assistant.SummaryModel
	}
	return c.Assistant.Model
}
