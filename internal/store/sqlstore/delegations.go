package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/omrylcn/gbot/internal/store"
)

type delegationStore struct {
	*DB
}

func (s *delegationStore) LogDelegation(ctx context.Context, entry *store.DelegationLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO delegation_log (user_id, task, plan_json, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?)`),
		entry.UserID, entry.Task, jsonArg(entry.PlanJSON), entry.Outcome, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("log delegation: %w", err)
	}
	return nil
}

func (s *delegationStore) Delegations(ctx context.Context, userID string, limit int) ([]store.DelegationLog, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, user_id, task, plan_json, outcome, created_at FROM delegation_log
		 WHERE user_id = ? ORDER BY id DESC LIMIT ?`),
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query delegations: %w", err)
	}
	defer rows.Close()

	var entries []store.DelegationLog
	for rows.Next() {
		var d store.DelegationLog
		var plan sql.NullString
		if err := rows.Scan(&d.ID, &d.UserID, &d.Task, &plan, &d.Outcome, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delegation: %w", err)
		}
		d.PlanJSON = rawOf(plan)
		entries = append(entries, d)
	}
	return entries, rows.Err()
}
