package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/omrylcn/gbot/internal/store"
)

type schedulerStore struct {
	*DB
}

const jobCols = `job_id, user_id, cron_expr, message, channel, enabled, processor,
	plan_json, notify_condition, consecutive_failures, created_at`

func (s *schedulerStore) CreateJob(ctx context.Context, job *store.CronJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Processor == "" {
		job.Processor = store.ProcessorStatic
	}
	if job.NotifyCondition == "" {
		job.NotifyCondition = store.NotifyAlways
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO cron_jobs (job_id, user_id, cron_expr, message, channel, enabled,
		     processor, plan_json, notify_condition, consecutive_failures, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`),
		job.JobID, job.UserID, job.CronExpr, job.Message, job.Channel, job.Enabled,
		job.Processor, jsonArg(job.PlanJSON), job.NotifyCondition, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *schedulerStore) Job(ctx context.Context, jobID string) (*store.CronJob, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT `+jobCols+` FROM cron_jobs WHERE job_id = ?`), jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return job, err
}

func (s *schedulerStore) EnabledJobs(ctx context.Context) ([]store.CronJob, error) {
	return s.queryJobs(ctx, s.q(
		`SELECT `+jobCols+` FROM cron_jobs WHERE enabled ORDER BY created_at`))
}

func (s *schedulerStore) JobsByUser(ctx context.Context, userID string) ([]store.CronJob, error) {
	return s.queryJobs(ctx, s.q(
		`SELECT `+jobCols+` FROM cron_jobs WHERE user_id = ? ORDER BY created_at`), userID)
}

func (s *schedulerStore) queryJobs(ctx context.Context, query string, args ...any) ([]store.CronJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []store.CronJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row rowScanner) (*store.CronJob, error) {
	var job store.CronJob
	var plan sql.NullString
	err := row.Scan(&job.JobID, &job.UserID, &job.CronExpr, &job.Message, &job.Channel,
		&job.Enabled, &job.Processor, &plan, &job.NotifyCondition,
		&job.ConsecutiveFailures, &job.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.PlanJSON = rawOf(plan)
	return &job, nil
}

func (s *schedulerStore) SetJobEnabled(ctx context.Context, jobID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE cron_jobs SET enabled = ? WHERE job_id = ?`), enabled, jobID)
	if err != nil {
		return fmt.Errorf("set job enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *schedulerStore) DeleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`DELETE FROM cron_jobs WHERE job_id = ?`), jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *schedulerStore) IncrementFailures(ctx context.Context, jobID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("increment failures: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(
		`UPDATE cron_jobs SET consecutive_failures = consecutive_failures + 1
		 WHERE job_id = ?`), jobID)
	if err != nil {
		return 0, fmt.Errorf("increment failures: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, store.ErrNotFound
	}

	var count int
	err = tx.QueryRowContext(ctx, s.q(
		`SELECT consecutive_failures FROM cron_jobs WHERE job_id = ?`), jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment failures: %w", err)
	}
	return count, tx.Commit()
}

func (s *schedulerStore) ResetFailures(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`UPDATE cron_jobs SET consecutive_failures = 0 WHERE job_id = ?`), jobID)
	if err != nil {
		return fmt.Errorf("reset failures: %w", err)
	}
	return nil
}

const reminderCols = `reminder_id, user_id, channel, run_at, cron_expr, processor,
	plan_json, status, created_at, sent_at`

func (s *schedulerStore) CreateReminder(ctx context.Context, r *store.Reminder) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Processor == "" {
		r.Processor = store.ProcessorStatic
	}
	if r.Status == "" {
		r.Status = store.ReminderPending
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO reminders (reminder_id, user_id, channel, run_at, cron_expr,
		     processor, plan_json, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ReminderID, r.UserID, r.Channel, r.RunAt, r.CronExpr,
		r.Processor, jsonArg(r.PlanJSON), r.Status, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	return nil
}

func (s *schedulerStore) Reminder(ctx context.Context, reminderID string) (*store.Reminder, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT `+reminderCols+` FROM reminders WHERE reminder_id = ?`), reminderID)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return r, err
}

func (s *schedulerStore) PendingReminders(ctx context.Context) ([]store.Reminder, error) {
	return s.queryReminders(ctx, s.q(
		`SELECT `+reminderCols+` FROM reminders WHERE status = ? ORDER BY run_at`),
		store.ReminderPending)
}

func (s *schedulerStore) RemindersByUser(ctx context.Context, userID string) ([]store.Reminder, error) {
	return s.queryReminders(ctx, s.q(
		`SELECT `+reminderCols+` FROM reminders WHERE user_id = ? ORDER BY run_at`), userID)
}

func (s *schedulerStore) queryReminders(ctx context.Context, query string, args ...any) ([]store.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	var reminders []store.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, *r)
	}
	return reminders, rows.Err()
}

func scanReminder(row rowScanner) (*store.Reminder, error) {
	var r store.Reminder
	var cronExpr, plan sql.NullString
	var sentAt sql.NullTime
	err := row.Scan(&r.ReminderID, &r.UserID, &r.Channel, &r.RunAt, &cronExpr,
		&r.Processor, &plan, &r.Status, &r.CreatedAt, &sentAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan reminder: %w", err)
	}
	r.CronExpr = cronExpr.String
	r.PlanJSON = rawOf(plan)
	r.SentAt = timePtr(sentAt)
	return &r, nil
}

func (s *schedulerStore) SetReminderStatus(ctx context.Context, reminderID, status string) error {
	var res sql.Result
	var err error
	if status == store.ReminderSent {
		res, err = s.db.ExecContext(ctx, s.q(
			`UPDATE reminders SET status = ?, sent_at = ? WHERE reminder_id = ?`),
			status, time.Now().UTC(), reminderID)
	} else {
		res, err = s.db.ExecContext(ctx, s.q(
			`UPDATE reminders SET status = ? WHERE reminder_id = ?`),
			status, reminderID)
	}
	if err != nil {
		return fmt.Errorf("set reminder status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *schedulerStore) LogExecution(ctx context.Context, exec *store.CronExecution) error {
	if exec.ExecutedAt.IsZero() {
		exec.ExecutedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO cron_execution_log (job_id, executed_at, status, result, duration_ms)
		 VALUES (?, ?, ?, ?, ?)`),
		exec.JobID, exec.ExecutedAt, exec.Status, exec.Result, exec.DurationMs)
	if err != nil {
		return fmt.Errorf("log execution: %w", err)
	}
	return nil
}

func (s *schedulerStore) Executions(ctx context.Context, jobID string, limit int) ([]store.CronExecution, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT log_id, job_id, executed_at, status, COALESCE(result, ''), duration_ms
		 FROM cron_execution_log WHERE job_id = ? ORDER BY log_id DESC LIMIT ?`),
		jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var execs []store.CronExecution
	for rows.Next() {
		var e store.CronExecution
		if err := rows.Scan(&e.LogID, &e.JobID, &e.ExecutedAt, &e.Status, &e.Result, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}
