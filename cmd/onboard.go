package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/omrylcn/gbot/internal/config"
)

// providerChoice carries the wizard metadata for one provider.
type providerChoice struct {
	label        string
	defaultModel string
	envKey       string
}

var providerChoices = map[string]providerChoice{
	"anthropic":  {"Anthropic", "anthropic/claude-sonnet-4-5-20250929", "GBOT_ANTHROPIC_API_KEY"},
	"openai":     {"OpenAI", "openai/gpt-4o", "GBOT_OPENAI_API_KEY"},
	"openrouter": {"OpenRouter", "openrouter/anthropic/claude-sonnet-4-5-20250929", "GBOT_OPENROUTER_API_KEY"},
	"deepseek":   {"DeepSeek", "deepseek/deepseek-chat", "GBOT_DEEPSEEK_API_KEY"},
	"groq":       {"Groq", "groq/llama-3.3-70b-versatile", "GBOT_GROQ_API_KEY"},
}

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Create a config file interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

func runOnboard() error {
	path := resolveConfigPath()

	if _, err := os.Stat(path); err == nil {
		overwrite := false
		confirm := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Config already exists at %s. Reconfigure?", path)).
				Value(&overwrite),
		))
		if err := confirm.Run(); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Keeping the existing config.")
			return nil
		}
	}

	cfg := config.Default()

	var (
		provider  = "anthropic"
		model     string
		owner     string
		ownerName string
		workspace = cfg.Assistant.Workspace
		telegram  bool
		discord   bool
		wsOn      = true
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM provider").
				Description("The default provider for agent turns.").
				Options(
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("OpenRouter", "openrouter"),
					huh.NewOption("DeepSeek", "deepseek"),
					huh.NewOption("Groq", "groq"),
				).
				Value(&provider),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Model").
				Description("Leave empty for the provider default.").
				Value(&model),
			huh.NewInput().
				Title("Owner username").
				Description("Your account; it gets the owner role.").
				Value(&owner),
			huh.NewInput().
				Title("Owner display name").
				Value(&ownerName),
			huh.NewInput().
				Title("Workspace directory").
				Value(&workspace),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Enable Telegram?").Value(&telegram),
			huh.NewConfirm().Title("Enable Discord?").Value(&discord),
			huh.NewConfirm().Title("Enable the WebSocket channel?").Value(&wsOn),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	choice := providerChoices[provider]
	switch {
	case model == "":
		model = choice.defaultModel
	case !strings.Contains(model, "/"):
		model = provider + "/" + model
	}
	cfg.Assistant.Model = model
	if workspace != "" {
		cfg.Assistant.Workspace = workspace
	}
	if owner != "" {
		if ownerName == "" {
			ownerName = owner
		}
		cfg.Assistant.Owner = &config.OwnerConfig{Username: owner, Name: ownerName}
	}
	cfg.Channels.Telegram.Enabled = telegram
	cfg.Channels.Discord.Enabled = discord
	cfg.Channels.WS.Enabled = wsOn

	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("\nConfig written to %s.\n\n", path)
	fmt.Println("Credentials stay out of the file. Export them before starting:")
	fmt.Printf("  export %s=...\n", choice.envKey)
	if telegram {
		fmt.Println("  export GBOT_TELEGRAM_TOKEN=...")
	}
	if discord {
		fmt.Println("  export GBOT_DISCORD_TOKEN=...")
	}
	if wsOn {
		fmt.Println("  export GBOT_JWT_SECRET_KEY=...")
	}
	fmt.Println("\nThen run 'gbot serve' or 'gbot chat'.")
	return nil
}
