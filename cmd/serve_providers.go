package cmd

import (
	"log/slog"

	"github.com/omrylcn/gbot/internal/config"
	"github.com/omrylcn/gbot/internal/providers"
)

// registerProviders adds every backend with an API key in the
// environment. Model ids carry a "provider/" prefix that routes to the
// matching entry; OpenAI-compatible backends differ only in base URL and
// fallback model.
func registerProviders(registry *providers.Registry, cfg *config.Config) {
	if cfg.Providers.Anthropic.APIKey != "" {
		opts := []providers.AnthropicOption{}
		if cfg.Providers.Anthropic.APIBase != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(cfg.Providers.Anthropic.APIBase))
		}
		registry.Register(providers.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey, opts...), cfg.Providers.Anthropic.RequestsPerMinute)
		slog.Info("registered provider", "name", "anthropic")
	}

	if cfg.Providers.OpenAI.APIKey != "" {
		registry.Register(providers.NewOpenAIProvider("openai", cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, "gpt-4o"), cfg.Providers.OpenAI.RequestsPerMinute)
		slog.Info("registered provider", "name", "openai")
	}

	if cfg.Providers.OpenRouter.APIKey != "" {
		registry.Register(providers.NewOpenAIProvider("openrouter", cfg.Providers.OpenRouter.APIKey, "https://openrouter.ai/api/v1", "anthropic/claude-sonnet-4-5-20250929"), cfg.Providers.OpenRouter.RequestsPerMinute)
		slog.Info("registered provider", "name", "openrouter")
	}

	if cfg.Providers.DeepSeek.APIKey != "" {
		registry.Register(providers.NewOpenAIProvider("deepseek", cfg.Providers.DeepSeek.APIKey, "https://api.deepseek.com/v1", "deepseek-chat"), cfg.Providers.DeepSeek.RequestsPerMinute)
		slog.Info("registered provider", "name", "deepseek")
	}

	if cfg.Providers.Groq.APIKey != "" {
		registry.Register(providers.NewOpenAIProvider("groq", cfg.Providers.Groq.APIKey, "https://api.groq.com/openai/v1", "llama-3.3-70b-versatile"), cfg.Providers.Groq.RequestsPerMinute)
		slog.Info("registered provider", "name", "groq")
	}
}

// hasAnyProvider reports whether at least one backend has credentials.
func hasAnyProvider(cfg *config.Config) bool {
	return cfg.Providers.Anthropic.APIKey != "" ||
		cfg.Providers.OpenAI.APIKey != "" ||
		cfg.Providers.OpenRouter.APIKey != "" ||
		cfg.Providers.DeepSeek.APIKey != "" ||
		cfg.Providers.Groq.APIKey != ""
}
