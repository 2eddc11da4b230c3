package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/omrylcn/gbot/internal/store"
)

const defaultActivityLimit = 10

// LogActivityTool appends an entry to the user's activity log.
type LogActivityTool struct {
	memory store.MemoryStore
}

func NewLogActivityTool(memory store.MemoryStore) *LogActivityTool {
	return &LogActivityTool{memory: memory}
}

func (t *LogActivityTool) Name() string { return "log_activity" }

func (t *LogActivityTool) Description() string {
	return "Record something the user did in their activity log."
}

func (t *LogActivityTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"activity": map[string]interface{}{
				"type":        "string",
				"description": "Short description of the activity",
			},
		},
		"required": []string{"activity"},
	}
}

func (t *LogActivityTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	uid := ToolUserIDFromCtx(ctx)
	if uid == "" {
		return ErrorResult("user identity missing from context")
	}
	activity, _ := args["activity"].(string)
	if activity == "" {
		return ErrorResult("activity is required")
	}
	if err := t.memory.LogActivity(ctx, uid, activity); err != nil {
		return ErrorResult(fmt.Sprintf("Failed to log activity: %v", err)).WithError(err)
	}
	return NewResult("Activity logged.")
}

// RecentActivityTool reads back the most recent activity entries.
type RecentActivityTool struct {
	memory store.MemoryStore
}

func NewRecentActivityTool(memory store.MemoryStore) *RecentActivityTool {
	return &RecentActivityTool{memory: memory}
}

func (t *RecentActivityTool) Name() string { return "recent_activity" }

func (t *RecentActivityTool) Description() string {
	return "List the user's most recent activity log entries."
}

func (t *RecentActivityTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Maximum entries to return (default: 10)",
			},
		},
	}
}

func (t *RecentActivityTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	uid := ToolUserIDFromCtx(ctx)
	if uid == "" {
		return ErrorResult("user identity missing from context")
	}
	limit := defaultActivityLimit
	if n, ok := args["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}
	entries, err := t.memory.RecentActivity(ctx, uid, limit)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to read activity: %v", err)).WithError(err)
	}
	if len(entries) == 0 {
		return NewResult("No recent activity.")
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("- [%s] %s",
			e.CreatedAt.UTC().Format("2006-01-02 15:04"), e.Activity))
	}
	return NewResult(strings.Join(lines, "\n"))
}
