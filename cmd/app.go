package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/omrylcn/gbot/internal/agent"
	"github.com/omrylcn/gbot/internal/background"
	"github.com/omrylcn/gbot/internal/bootstrap"
	"github.com/omrylcn/gbot/internal/bus"
	"github.com/omrylcn/gbot/internal/channels"
	"github.com/omrylcn/gbot/internal/config"
	"github.com/omrylcn/gbot/internal/cron"
	"github.com/omrylcn/gbot/internal/delegation"
	"github.com/omrylcn/gbot/internal/events"
	"github.com/omrylcn/gbot/internal/mcp"
	"github.com/omrylcn/gbot/internal/permissions"
	"github.com/omrylcn/gbot/internal/providers"
	"github.com/omrylcn/gbot/internal/store"
	"github.com/omrylcn/gbot/internal/store/sqlstore"
	"github.com/omrylcn/gbot/internal/tokenizer"
	"github.com/omrylcn/gbot/internal/tools"
	"github.com/omrylcn/gbot/internal/tracing"
)

// app bundles the wired core so serve and chat share one
// construction path. Channels are the caller's business: serve registers
// the configured transports, chat registers only the console.
type app struct {
	cfg       *config.Config
	workspace string

	stores      *store.Stores
	permissions *permissions.Engine
	providers   *providers.Registry
	tools       *tools.Registry
	msgBus      *bus.MessageBus
	channels    *channels.Manager
	events      *events.Bus
	worker      *background.Worker
	cron        *cron.Service
	mcp         *mcp.Manager
	runner      *agent.GraphRunner

	tracingShutdown func(context.Context) error
}

// buildApp wires the core in dependency order: store, tool registry,
// permissions, providers, background execution, scheduler, agent graph.
// Teardown is close, in reverse.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	tracingShutdown, err := tracing.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	driver, dsn, err := storeDSN(cfg)
	if err != nil {
		return nil, err
	}
	stores, err := sqlstore.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	slog.Info("store ready", "driver", driver)

	workspace := cfg.WorkspacePath()
	if !filepath.IsAbs(workspace) {
		workspace, _ = filepath.Abs(workspace)
	}
	seeded, err := bootstrap.EnsureWorkspace(workspace)
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("prepare workspace: %w", err)
	}
	if len(seeded) > 0 {
		slog.Info("workspace templates seeded", "files", seeded)
	}

	msgBus := bus.New()
	channelMgr := channels.NewManager(msgBus, stores.Users)

	permEngine, err := permissions.NewEngine(cfg.RolesFilePath())
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("load roles: %w", err)
	}

	providerRegistry := providers.NewRegistry(providerPrefix(cfg.Assistant.Model))
	registerProviders(providerRegistry, cfg)

	counter := tokenizer.New(cfg.Assistant.TokenCounter)

	toolsReg := tools.NewRegistry()
	registerBuiltinTools(toolsReg, cfg, stores, channelMgr, workspace)

	// The background-safe set is snapshotted before the scheduling and
	// delegation tools exist; those groups are excluded from it anyway.
	bgTools := toolsReg.Background()

	dispatcher := background.NewDispatcher(background.DispatcherConfig{
		Providers:    providerRegistry,
		Tools:        bgTools,
		Messenger:    channelMgr,
		Counter:      counter,
		DefaultModel: cfg.DelegationModel(),
	})
	eventBus := events.NewBus(stores.Events)
	worker := background.NewWorker(background.WorkerConfig{
		Stores:        stores,
		Dispatcher:    dispatcher,
		Events:        eventBus,
		Messenger:     channelMgr,
		MaxConcurrent: cfg.Background.Worker.MaxConcurrent,
	})
	cronSvc := cron.New(cron.ServiceConfig{
		Stores:       stores,
		Dispatcher:   dispatcher,
		Events:       eventBus,
		Messenger:    channelMgr,
		PollInterval: time.Duration(cfg.Background.Cron.PollIntervalMs) * time.Millisecond,
	})
	planner := delegation.NewPlanner(providerRegistry, cfg, stores.Delegations, bgTools.Has)

	registerTool(toolsReg, tools.NewScheduleTaskTool(cronSvc, bgTools.Has), "scheduling")
	registerTool(toolsReg, tools.NewListScheduledTool(cronSvc), "scheduling")
	registerTool(toolsReg, tools.NewCancelScheduledTool(cronSvc), "scheduling")
	registerTool(toolsReg, tools.NewDelegateTool(planner, worker, cronSvc, bgTools.Catalog), "delegation")

	var mcpMgr *mcp.Manager
	if len(cfg.MCPServers) > 0 {
		mcpMgr = mcp.NewManager(toolsReg, cfg.MCPServers)
		if err := mcpMgr.Start(ctx); err != nil {
			slog.Warn("mcp startup errors", "error", err)
		}
		slog.Info("mcp servers initialized", "configured", len(cfg.MCPServers), "tools", len(mcpMgr.ToolNames()))
	}

	contextBuilder := agent.NewContextBuilder(agent.BuilderConfig{
		Config:  cfg,
		Stores:  stores,
		Skills:  bootstrap.NewSkillLoader(workspace),
		Counter: counter,
	})
	graph := agent.NewGraph(agent.GraphConfig{
		Providers:      providerRegistry,
		Tools:          toolsReg,
		Context:        contextBuilder,
		Model:          cfg.Assistant.Model,
		Temperature:    cfg.Assistant.Temperature,
		IterationLimit: cfg.Assistant.IterationLimit,
		Counter:        counter,
	})
	runner := agent.NewGraphRunner(agent.RunnerConfig{
		Graph:       graph,
		Stores:      stores,
		Permissions: permEngine,
		Tools:       toolsReg,
		Summarizer:  providers.NewSummarizer(providerRegistry, cfg.SummarizerModel()),
		Config:      cfg,
	})

	seedOwner(ctx, stores.Users, cfg)

	return &app{
		cfg:             cfg,
		workspace:       workspace,
		stores:          stores,
		permissions:     permEngine,
		providers:       providerRegistry,
		tools:           toolsReg,
		msgBus:          msgBus,
		channels:        channelMgr,
		events:          eventBus,
		worker:          worker,
		cron:            cronSvc,
		mcp:             mcpMgr,
		runner:          runner,
		tracingShutdown: tracingShutdown,
	}, nil
}

// close tears down everything buildApp started, in reverse order.
// Channels are stopped by the caller before this runs.
func (a *app) close(ctx context.Context) {
	if err := a.cron.Stop(ctx); err != nil {
		slog.Warn("cron stop", "error", err)
	}
	if err := a.worker.Shutdown(ctx); err != nil {
		slog.Warn("worker shutdown", "error", err)
	}
	if a.mcp != nil {
		a.mcp.Stop()
	}
	if err := a.permissions.Close(); err != nil {
		slog.Warn("permissions close", "error", err)
	}
	if err := a.tracingShutdown(ctx); err != nil {
		slog.Warn("tracing shutdown", "error", err)
	}
	if err := a.stores.Close(); err != nil {
		slog.Warn("store close", "error", err)
	}
}

// storeDSN resolves the configured backend. SQLite needs only a path;
// postgres requires the DSN from GBOT_POSTGRES_DSN.
func storeDSN(cfg *config.Config) (driver, dsn string, err error) {
	driver = cfg.Store.Driver
	if driver == "" {
		driver = sqlstore.DriverSQLite
	}
	switch driver {
	case sqlstore.DriverSQLite:
		return driver, cfg.StorePath(), nil
	case sqlstore.DriverPostgres:
		if cfg.Store.PostgresDSN == "" {
			return "", "", fmt.Errorf("store driver is postgres but GBOT_POSTGRES_DSN is not set")
		}
		return driver, cfg.Store.PostgresDSN, nil
	default:
		return "", "", fmt.Errorf("unknown store driver %q", driver)
	}
}

// providerPrefix extracts the provider segment from a model id like
// "anthropic/claude-sonnet-4-5-20250929". Unprefixed models leave the
// default to the first registered provider.
func providerPrefix(model string) string {
	if prefix, _, found := strings.Cut(model, "/"); found {
		return prefix
	}
	return ""
}

// seedOwner ensures the configured owner exists with the owner role.
// Channel links still come from the owner messaging the bot first.
func seedOwner(ctx context.Context, users store.UserStore, cfg *config.Config) {
	owner := cfg.Assistant.Owner
	if owner == nil || owner.Username == "" {
		return
	}
	u, err := users.GetOrCreate(ctx, owner.Username, owner.Name)
	if err != nil {
		slog.Error("owner seeding failed", "user", owner.Username, "error", err)
		return
	}
	if u.Role != store.RoleOwner {
		if err := users.SetRole(ctx, u.UserID, store.RoleOwner); err != nil {
			slog.Error("owner role assignment failed", "user", owner.Username, "error", err)
			return
		}
	}
	slog.Info("owner ready", "user", owner.Username)
}
