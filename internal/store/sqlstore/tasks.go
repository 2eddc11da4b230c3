package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/omrylcn/gbot/internal/store"
)

type taskStore struct {
	*DB
}

const taskCols = `task_id, user_id, COALESCE(parent_session, ''), fallback_channel,
	status, plan, COALESCE(result, ''), COALESCE(error, ''), started_at, completed_at`

func (s *taskStore) CreateTask(ctx context.Context, t *store.BackgroundTask) error {
	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = store.TaskRunning
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO background_tasks (task_id, user_id, parent_session, fallback_channel,
		     status, plan, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		t.TaskID, t.UserID, t.ParentSession, t.FallbackChannel, t.Status,
		jsonArg(t.PlanJSON), t.StartedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *taskStore) FinishTask(ctx context.Context, taskID, status, result, errMsg string) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE background_tasks SET status = ?, result = ?, error = ?, completed_at = ?
		 WHERE task_id = ?`),
		status, result, errMsg, time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *taskStore) Task(ctx context.Context, taskID string) (*store.BackgroundTask, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT `+taskCols+` FROM background_tasks WHERE task_id = ?`), taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return t, err
}

func (s *taskStore) TasksByUser(ctx context.Context, userID string, limit int) ([]store.BackgroundTask, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT `+taskCols+` FROM background_tasks
		 WHERE user_id = ? ORDER BY started_at DESC LIMIT ?`),
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []store.BackgroundTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func scanTask(row rowScanner) (*store.BackgroundTask, error) {
	var t store.BackgroundTask
	var plan sql.NullString
	var completed sql.NullTime
	err := row.Scan(&t.TaskID, &t.UserID, &t.ParentSession, &t.FallbackChannel,
		&t.Status, &plan, &t.Result, &t.Error, &t.StartedAt, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.PlanJSON = rawOf(plan)
	t.CompletedAt = timePtr(completed)
	return &t, nil
}
