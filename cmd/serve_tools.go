package cmd

import (
	"log/slog"

	"github.com/omrylcn/gbot/internal/channels"
	"github.com/omrylcn/gbot/internal/config"
	"github.com/omrylcn/gbot/internal/store"
	"github.com/omrylcn/gbot/internal/tools"
)

// registerBuiltinTools fills the registry with the built-in tool set.
// Group names are what role policies reference; filesystem, shell,
// scheduling and delegation stay out of the background-safe subset.
// Scheduling and delegation tools register later, once the scheduler and
// worker exist.
func registerBuiltinTools(reg *tools.Registry, cfg *config.Config, stores *store.Stores, messenger *channels.Manager, workspace string) {
	// filesystem (workspace-confined)
	registerTool(reg, tools.NewReadFileTool(workspace), "filesystem")
	registerTool(reg, tools.NewWriteFileTool(workspace), "filesystem")
	registerTool(reg, tools.NewEditFileTool(workspace), "filesystem")
	registerTool(reg, tools.NewListFilesTool(workspace), "filesystem")

	// shell
	registerTool(reg, tools.NewRunCommandTool(cfg), "shell")

	// web
	registerTool(reg, tools.NewWebSearchTool(cfg), "web")
	registerTool(reg, tools.NewWebFetchTool(cfg), "web")

	// memory: agent long-term record, notes, preferences, favorites,
	// activity log
	registerTool(reg, tools.NewRememberTool(stores.Memory), "memory")
	registerTool(reg, tools.NewRecallTool(stores.Memory), "memory")
	registerTool(reg, tools.NewForgetTool(stores.Memory), "memory")
	registerTool(reg, tools.NewAddNoteTool(stores.Memory), "memory")
	registerTool(reg, tools.NewListNotesTool(stores.Memory), "memory")
	registerTool(reg, tools.NewSetPreferenceTool(stores.Memory), "memory")
	registerTool(reg, tools.NewGetPreferencesTool(stores.Memory), "memory")
	registerTool(reg, tools.NewRemovePreferenceTool(stores.Memory), "memory")
	registerTool(reg, tools.NewAddFavoriteTool(stores.Memory), "memory")
	registerTool(reg, tools.NewRemoveFavoriteTool(stores.Memory), "memory")
	registerTool(reg, tools.NewListFavoritesTool(stores.Memory), "memory")
	registerTool(reg, tools.NewLogActivityTool(stores.Memory), "memory")
	registerTool(reg, tools.NewRecentActivityTool(stores.Memory), "memory")

	// messaging
	registerTool(reg, tools.NewSendMessageTool(stores.Users, messenger), "messaging")

	// sessions
	registerTool(reg, tools.NewSessionsListTool(stores.Sessions), "sessions")
	registerTool(reg, tools.NewSessionSummaryTool(stores.Sessions), "sessions")
}

// registerTool registers and logs instead of failing: a duplicate name is
// a programming error worth a loud line, not a dead process.
func registerTool(reg *tools.Registry, t tools.Tool, groups ...string) {
	if err := reg.Register(t, groups...); err != nil {
		slog.Error("tool registration failed", "tool", t.Name(), "error", err)
	}
}
