package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/omrylcn/gbot/internal/channels/console"
	"github.com/omrylcn/gbot/internal/config"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		Run: func(cmd *cobra.Command, args []string) {
			runChat()
		},
	}
}

// setupChatLogging routes logs to stderr and keeps them quiet so the
// conversation owns stdout. Verbose still drops the level to debug.
func setupChatLogging() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

func runChat() {
	setupChatLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if !hasAnyProvider(cfg) {
		fmt.Println("No provider API key configured.")
		fmt.Println("Run 'gbot onboard' or set GBOT_ANTHROPIC_API_KEY.")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}

	userID := cfg.OwnerUserID()
	if userID == "" {
		userID = "console"
	}
	if _, err := a.stores.Users.GetOrCreate(ctx, userID, userID); err != nil {
		slog.Error("console user setup failed", "error", err)
		os.Exit(1)
	}
	if err := a.stores.Users.LinkChannel(ctx, userID, "console", userID, nil); err != nil {
		slog.Error("console link failed", "error", err)
		os.Exit(1)
	}

	term := console.New(userID, a.msgBus, os.Stdin, os.Stdout)
	a.channels.Register(term)
	a.events.SetPush(term.PushEvent)

	if cfg.Background.Cron.Enabled {
		if err := a.cron.Start(ctx); err != nil {
			slog.Warn("cron start failed", "error", err)
		}
	}
	if err := a.channels.StartAll(ctx); err != nil {
		slog.Error("channel start failed", "error", err)
	}

	go consumeInbound(ctx, a)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-term.Done():
	case <-sigCh:
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := a.channels.StopAll(shutdownCtx); err != nil {
		slog.Warn("channel stop failed", "error", err)
	}
	a.close(shutdownCtx)
}
