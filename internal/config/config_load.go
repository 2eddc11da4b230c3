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
		Assistant: AssistantConfig{
			Name:              "GraphBot",
			Workspace:         "~/.gbot/workspace",
			Model:             "anthropic/claude-sonnet-4-5-20250929",
			Temperature:       0.7,
			SessionTokenLimit: 30000,
			IterationLimit:    8,
			HistoryLimit:      50,
			TokenCounter:      "cl100k_base",
			ContextPriorities: ContextPriorities{
				Identity:       500,
				AgentMemory:    500,
				UserContext:    1500,
				SessionSummary: 500,
				Skills:         1000,
			},
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				BridgeURL: "ws://localhost:3000/ws",
				Session:   "default",
			},
			WS: WSConfig{
				Host: "127.0.0.1",
				Port: 18890,
			},
		},
		Tools: ToolsConfig{
			Shell: ShellToolConfig{TimeoutSeconds: 60},
			Web: WebToolsConfig{
				DuckDuckGo:     DuckDuckGoConfig{Enabled: true, MaxResults: 5},
				TimeoutSeconds: 30,
			},
		},
		Background: BackgroundConfig{
			Cron:       CronConfig{Enabled: true, PollIntervalMs: 1000},
			Delegation: DelegationConfig{Temperature: 0.3},
			Worker:     WorkerConfig{MaxConcurrent: 8},
		},
		Auth: AuthConfig{
			RateLimit: RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 10},
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "~/.gbot/gbot.db",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "gbot",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults (env still applies).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Provider credentials
	envStr("GBOT_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("GBOT_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("GBOT_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("GBOT_DEEPSEEK_API_KEY", &c.Providers.DeepSeek.APIKey)
	envStr("GBOT_GROQ_API_KEY", &c.Providers.Groq.APIKey)

	// Channel secrets
	envStr("GBOT_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("GBOT_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("GBOT_WHATSAPP_API_KEY", &c.Channels.WhatsApp.APIKey)

	// Auto-enable channels if credentials are provided via env
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}

	// Assistant overrides
	envStr("GBOT_MODEL", &c.Assistant.Model)
	envStr("GBOT_WORKSPACE", &c.Assistant.Workspace)
	envStr("GBOT_ROLES_FILE", &c.Assistant.RolesFile)
	if v := os.Getenv("GBOT_SESSION_TOKEN_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Assistant.SessionTokenLimit = n
		}
	}

	// Store
	envStr("GBOT_STORE_DRIVER", &c.Store.Driver)
	envStr("GBOT_STORE_PATH", &c.Store.Path)
	envStr("GBOT_POSTGRES_DSN", &c.Store.PostgresDSN)

	// Auth
	envStr("GBOT_JWT_SECRET_KEY", &c.Auth.JWTSecretKey)

	// Web tools
	envStr("GBOT_BRAVE_API_KEY", &c.Tools.Web.Brave.APIKey)

	// Telemetry
	envStr("GBOT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("GBOT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("GBOT_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("GBOT_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("GBOT_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Call after mutating config in memory to restore runtime secrets.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyEnvOverrides()
}

// Save writes the config to a JSON file. Secret fields carry `json:"-"`
// tags, so a saved file never contains credentials.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
