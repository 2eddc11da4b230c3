package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/omrylcn/gbot/internal/store"
)

const defaultSessionsLimit = 10

// SessionsListTool lists the user's recent sessions.
type SessionsListTool struct {
	sessions store.SessionStore
}

func NewSessionsListTool(sessions store.SessionStore) *SessionsListTool {
	return &SessionsListTool{sessions: sessions}
}

func (t *SessionsListTool) Name() string { return "sessions_list" }

func (t *SessionsListTool) Description() string {
	return "List the user's recent conversation sessions."
}

func (t *SessionsListTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Maximum sessions to return (default: 10)",
			},
		},
	}
}

func (t *SessionsListTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	uid := ToolUserIDFromCtx(ctx)
	if uid == "" {
		return ErrorResult("user identity missing from context")
	}
	limit := defaultSessionsLimit
	if n, ok := args["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}
	sessions, err := t.sessions.ListByUser(ctx, uid, limit)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to list sessions: %v", err)).WithError(err)
	}
	if len(sessions) == 0 {
		return NewResult("No sessions yet.")
	}
	lines := make([]string, 0, len(sessions))
	for _, s := range sessions {
		state := "open"
		if s.EndedAt != nil {
			state = "closed " + s.EndedAt.UTC().Format("2006-01-02 15:04")
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s, started %s, %s (%d tokens)",
			s.SessionID, s.Channel, s.StartedAt.UTC().Format("2006-01-02 15:04"), state, s.TokenCount))
	}
	return NewResult(strings.Join(lines, "\n"))
}

// SessionSummaryTool reads back a session summary.
type SessionSummaryTool struct {
	sessions store.SessionStore
}

func NewSessionSummaryTool(sessions store.SessionStore) *SessionSummaryTool {
	return &SessionSummaryTool{sessions: sessions}
}

func (t *SessionSummaryTool) Name() string { return "session_summary" }

func (t *SessionSummaryTool) Description() string {
	return "Get the summary of a past session. Without a session_id, returns the most recent closed session's summary."
}

func (t *SessionSummaryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session id from sessions_list (optional)",
			},
		},
	}
}

func (t *SessionSummaryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	uid := ToolUserIDFromCtx(ctx)
	if uid == "" {
		return ErrorResult("user identity missing from context")
	}
	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		summary, err := t.sessions.LastSummary(ctx, uid)
		if err != nil {
			return ErrorResult(fmt.Sprintf("Failed to read summary: %v", err)).WithError(err)
		}
		if summary == "" {
			return NewResult("No previous session summary.")
		}
		return NewResult(summary)
	}

	s, err := t.sessions.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrorResult(fmt.Sprintf("Session not found: %s", sessionID))
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to read session: %v", err)).WithError(err)
	}
	// Sessions are private to their owner.
	if s.UserID != uid {
		return ErrorResult(fmt.Sprintf("Session not found: %s", sessionID))
	}
	if s.Summary == "" {
		return NewResult("Session has no summary yet.")
	}
	return NewResult(s.Summary)
}
