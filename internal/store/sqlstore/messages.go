package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/omrylcn/gbot/internal/store"
)

type messageStore struct {
	*DB
}

func (s *messageStore) Append(ctx context.Context, sessionID, role, content string, toolCalls json.RawMessage, toolCallID string) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO messages (session_id, role, content, tool_calls, tool_call_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		sessionID, role, content, jsonArg(toolCalls), toolCallID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *messageStore) Recent(ctx context.Context, sessionID string, limit int) ([]store.Message, error) {
	// Take the newest rows, then flip back to insertion order.
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, session_id, role, content, tool_calls, tool_call_id, created_at FROM (
		     SELECT id, session_id, role, content, tool_calls, tool_call_id, created_at
		     FROM messages WHERE session_id = ?
		     ORDER BY id DESC LIMIT ?
		 ) AS m ORDER BY m.id`),
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		var toolCalls sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &toolCalls, &m.ToolCallID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ToolCalls = rawOf(toolCalls)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
