package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/omrylcn/gbot/internal/store"
)

const defaultNotesLimit = 10

// AddNoteTool saves a learned fact about the user.
type AddNoteTool struct {
	memory store.MemoryStore
}

func NewAddNoteTool(memory store.MemoryStore) *AddNoteTool {
	return &AddNoteTool{memory: memory}
}

func (t *AddNoteTool) Name() string { return "add_note" }

func (t *AddNoteTool) Description() string {
	return "Save a learned fact or note about the user for future reference."
}

func (t *AddNoteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"note": map[string]interface{}{
				"type":        "string",
				"description": "The fact or note to save",
			},
		},
		"required": []string{"note"},
	}
}

func (t *AddNoteTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	uid := ToolUserIDFromCtx(ctx)
	if uid == "" {
		return ErrorResult("user identity missing from context")
	}
	note, _ := args["note"].(string)
	if note == "" {
		return ErrorResult("note is required")
	}
	if err := t.memory.AddNote(ctx, uid, note, store.NoteSourceConversation); err != nil {
		return ErrorResult(fmt.Sprintf("Failed to save note: %v", err)).WithError(err)
	}
	return NewResult(fmt.Sprintf("Note saved: %s", note))
}

// ListNotesTool reads back recent user notes.
type ListNotesTool struct {
	memory store.MemoryStore
}

func NewListNotesTool(memory store.MemoryStore) *ListNotesTool {
	return &ListNotesTool{memory: memory}
}

func (t *ListNotesTool) Name() string { return "list_notes" }

func (t *ListNotesTool) Description() string {
	return "List recent saved notes about the user."
}

func (t *ListNotesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Maximum notes to return (default: 10)",
			},
		},
	}
}

func (t *ListNotesTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	uid := ToolUserIDFromCtx(ctx)
	if uid == "" {
		return ErrorResult("user identity missing from context")
	}
	limit := defaultNotesLimit
	if n, ok := args["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}
	notes, err := t.memory.Notes(ctx, uid, limit)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to list notes: %v", err)).WithError(err)
	}
	if len(notes) == 0 {
		return NewResult("No notes yet.")
	}
	lines := make([]string, 0, len(notes))
	for _, n := range notes {
		lines = append(lines, "- "+n.Content)
	}
	return NewResult(strings.Join(lines, "\n"))
}
