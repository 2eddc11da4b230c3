package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/omrylcn/gbot/internal/store"
)

// SetPreferenceTool saves one user preference key.
type SetPreferenceTool struct {
	memory store.MemoryStore
}

func NewSetPreferenceTool(memory store.MemoryStore) *SetPreferenceTool {
	return &SetPreferenceTool{memory: memory}
}

func (t *SetPreferenceTool) Name() string { return "set_preference" }

func (t *SetPreferenceTool) Description() string {
	return "Save a user preference (e.g. language, response_style, theme)."
}

func (t *SetPreferenceTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Preference key (e.g. 'language', 'tone', 'theme')",
			},
			"value": map[string]interface{}{
				"type":        "string",
				"description": "Preference value",
			},
		},
		"required": []string{"key", "value"},
	}
}

func (t *SetPreferenceTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	uid := ToolUserIDFromCtx(ctx)
	if uid == "" {
		return ErrorResult("user identity missing from context")
	}
	key, _ := args["key"].(string)
	value, _ := args["value"].(string)
	if key == "" || value == "" {
		return ErrorResult("key and value are required")
	}
	if err := t.memory.MergePreferences(ctx, uid, map[string]any{key: value}); err != nil {
		return ErrorResult(fmt.Sprintf("Failed to save preference: %v", err)).WithError(err)
	}
	return NewResult(fmt.Sprintf("Preference saved: %s = %s", key, value))
}

// GetPreferencesTool reads back all saved preferences.
type GetPreferencesTool struct {
	memory store.MemoryStore
}

func NewGetPreferencesTool(memory store.MemoryStore) *GetPreferencesTool {
	return &GetPreferencesTool{memory: memory}
}

func (t *GetPreferencesTool) Name() string { return "get_preferences" }

func (t *GetPreferencesTool) Description() string {
	return "Get all saved preferences for the user."
}

func (t *GetPreferencesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *GetPreferencesTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	uid := ToolUserIDFromCtx(ctx)
	if uid == "" {
		return ErrorResult("user identity missing from context")
	}
	prefs, err := t.memory.Preferences(ctx, uid)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to read preferences: %v", err)).WithError(err)
	}
	if len(prefs) == 0 {
		return NewResult("No preferences saved yet.")
	}
	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %v", k, prefs[k]))
	}
	return NewResult("User preferences:\n" + strings.Join(lines, "\n"))
}

// RemovePreferenceTool deletes one preference key.
type RemovePreferenceTool struct {
	memory store.MemoryStore
}

func NewRemovePreferenceTool(memory store.MemoryStore) *RemovePreferenceTool {
	return &RemovePreferenceTool{memory: memory}
}

func (t *RemovePreferenceTool) Name() string { return "remove_preference" }

func (t *RemovePreferenceTool) Description() string {
	return "Remove a specific user preference by key."
}

func (t *RemovePreferenceTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Preference key to remove",
			},
		},
		"required": []string{"key"},
	}
}

func (t *RemovePreferenceTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	uid := ToolUserIDFromCtx(ctx)
	if uid == "" {
		return ErrorResult("user identity missing from context")
	}
	key, _ := args["key"].(string)
	if key == "" {
		return ErrorResult("key is required")
	}
	prefs, err := t.memory.Preferences(ctx, uid)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to read preferences: %v", err)).WithError(err)
	}
	if _, ok := prefs[key]; !ok {
		return NewResult(fmt.Sprintf("Preference '%s' not found.", key))
	}
	// A nil value removes the key from the merged document.
	if err := t.memory.MergePreferences(ctx, uid, map[string]any{key: nil}); err != nil {
		return ErrorResult(fmt.Sprintf("Failed to remove preference: %v", err)).WithError(err)
	}
	return NewResult(fmt.Sprintf("Preference removed: %s", key))
}
