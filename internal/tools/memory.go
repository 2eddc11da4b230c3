package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/omrylcn/gbot/internal/store"
)

// defaultMemoryKey is used when the LLM omits the key argument.
const defaultMemoryKey = "long_term"

// RememberTool writes a fact to the user's persistent memory.
type RememberTool struct {
	memory store.MemoryStore
}

func NewRememberTool(memory store.MemoryStore) *RememberTool {
	return &RememberTool{memory: memory}
}

func (t *RememberTool) Name() string { return "remember" }

func (t *RememberTool) Description() string {
	return "Save a fact to persistent memory so it survives across sessions. Overwrites any previous content under the same key."
}

func (t *RememberTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The fact to remember",
			},
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Memory slot name (default: long_term)",
			},
		},
		"required": []string{"content"},
	}
}

func (t *RememberTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	uid := ToolUserIDFromCtx(ctx)
	if uid == "" {
		return ErrorResult("user identity missing from context")
	}
	content, _ := args["content"].(string)
	if content == "" {
		return ErrorResult("content is required")
	}
	key := memoryKeyArg(args)
	if err := t.memory.WriteMemory(ctx, uid, key, content); err != nil {
		return ErrorResult(fmt.Sprintf("Failed to save memory: %v", err)).WithError(err)
	}
	return NewResult(fmt.Sprintf("Memory saved under '%s'.", key))
}

// RecallTool reads back a remembered fact.
type RecallTool struct {
	memory store.MemoryStore
}

func NewRecallTool(memory store.MemoryStore) *RecallTool {
	return &RecallTool{memory: memory}
}

func (t *RecallTool) Name() string { return "recall" }

func (t *RecallTool) Description() string {
	return "Read back a fact from persistent memory."
}

func (t *RecallTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Memory slot name (default: long_term)",
			},
		},
	}
}

func (t *RecallTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	uid := ToolUserIDFromCtx(ctx)
	if uid == "" {
		return ErrorResult("user identity missing from context")
	}
	key := memoryKeyArg(args)
	content, err := t.memory.ReadMemory(ctx, uid, key)
	if errors.Is(err, store.ErrNotFound) {
		return NewResult(fmt.Sprintf("No memory found for key '%s'.", key))
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to read memory: %v", err)).WithError(err)
	}
	return NewResult(content)
}

// ForgetTool deletes a remembered fact.
type ForgetTool struct {
	memory store.MemoryStore
}

func NewForgetTool(memory store.MemoryStore) *ForgetTool {
	return &ForgetTool{memory: memory}
}

func (t *ForgetTool) Name() string { return "forget" }

func (t *ForgetTool) Description() string {
	return "Delete a fact from persistent memory."
}

func (t *ForgetTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Memory slot name (default: long_term)",
			},
		},
	}
}

func (t *ForgetTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	uid := ToolUserIDFromCtx(ctx)
	if uid == "" {
		return ErrorResult("user identity missing from context")
	}
	key := memoryKeyArg(args)
	err := t.memory.DeleteMemory(ctx, uid, key)
	if errors.Is(err, store.ErrNotFound) {
		return NewResult(fmt.Sprintf("No memory found for key '%s'.", key))
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to delete memory: %v", err)).WithError(err)
	}
	return NewResult(fmt.Sprintf("Memory '%s' forgotten.", key))
}

func memoryKeyArg(args map[string]interface{}) string {
	key, _ := args["key"].(string)
	if key == "" {
		return defaultMemoryKey
	}
	return key
}
