package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omrylcn/gbot/internal/store"
)

type eventStore struct {
	*DB
}

func (s *eventStore) Enqueue(ctx context.Context, userID, kind string, payload json.RawMessage) (string, error) {
	eventID := uuid.NewString()
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO system_events (event_id, user_id, kind, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`),
		eventID, userID, kind, jsonOr(payload, "{}"), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("enqueue event: %w", err)
	}
	return eventID, nil
}

func (s *eventStore) Undelivered(ctx context.Context, userID string) ([]store.SystemEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT event_id, user_id, kind, payload, created_at FROM system_events
		 WHERE user_id = ? AND delivered_at IS NULL
		 ORDER BY created_at, event_id`),
		userID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []store.SystemEvent
	for rows.Next() {
		var e store.SystemEvent
		var payload string
		if err := rows.Scan(&e.EventID, &e.UserID, &e.Kind, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *eventStore) MarkDelivered(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(eventIDs)+1)
	args = append(args, time.Now().UTC())
	for _, id := range eventIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(eventIDs)), ", ")
	_, err := s.db.ExecContext(ctx, s.q(
		`UPDATE system_events SET delivered_at = ? WHERE event_id IN (`+placeholders+`)`),
		args...)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}
