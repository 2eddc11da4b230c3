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
	"golang.org/x/sync/errgroup"

	"github.com/omrylcn/gbot/internal/channels/discord"
	"github.com/omrylcn/gbot/internal/channels/telegram"
	"github.com/omrylcn/gbot/internal/channels/whatsapp"
	"github.com/omrylcn/gbot/internal/channels/ws"
	"github.com/omrylcn/gbot/internal/config"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant with all enabled channels",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging()

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

	registerChannels(a)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Background.Cron.Enabled {
		if err := a.cron.Start(gctx); err != nil {
			slog.Warn("cron start failed", "error", err)
		}
	}

	if err := a.channels.StartAll(gctx); err != nil {
		slog.Error("channel start failed", "error", err)
	}

	g.Go(func() error {
		consumeInbound(gctx, a)
		return nil
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			slog.Info("shutdown signal received", "signal", sig.String())
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	slog.Info("gbot serving",
		"version", Version,
		"model", cfg.Assistant.Model,
		"providers", a.providers.Names(),
		"tools", len(a.tools.List()),
		"channels", a.channels.Names(),
	)

	_ = g.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := a.channels.StopAll(shutdownCtx); err != nil {
		slog.Warn("channel stop failed", "error", err)
	}
	a.close(shutdownCtx)
	slog.Info("gbot stopped")
}

// registerChannels builds the adapters that have credentials and hands
// them to the manager. A failing adapter logs and is skipped so one bad
// channel cannot keep the rest offline.
func registerChannels(a *app) {
	cfg := a.cfg

	if tc := cfg.Channels.Telegram; tc.Enabled && tc.Token != "" {
		ch, err := telegram.New(tc, a.msgBus)
		if err != nil {
			slog.Error("telegram setup failed", "error", err)
		} else {
			a.channels.Register(ch)
		}
	}

	if dc := cfg.Channels.Discord; dc.Enabled && dc.Token != "" {
		ch, err := discord.New(dc, a.msgBus)
		if err != nil {
			slog.Error("discord setup failed", "error", err)
		} else {
			a.channels.Register(ch)
		}
	}

	if wc := cfg.Channels.WhatsApp; wc.Enabled && wc.BridgeURL != "" {
		ch, err := whatsapp.New(wc, a.msgBus, cfg.BotPrefix())
		if err != nil {
			slog.Error("whatsapp setup failed", "error", err)
		} else {
			a.channels.Register(ch)
		}
	}

	if cfg.Channels.WS.Enabled {
		sock := ws.New(cfg, a.msgBus, a.stores.Keys)
		a.channels.Register(sock)
		a.events.SetPush(sock.PushEvent)
	}
}
