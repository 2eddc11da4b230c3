package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/omrylcn/gbot/internal/background"
	"github.com/omrylcn/gbot/internal/delegation"
	"github.com/omrylcn/gbot/internal/events"
	"github.com/omrylcn/gbot/internal/store"
)

// runJob executes one firing of a cron job. The row is reloaded first so
// a job cancelled, paused or edited after arming is seen before any side
// effect happens.
func (s *Service) runJob(ctx context.Context, jobID string) {
	job, err := s.stores.Scheduler.Job(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.disarm(jobID)
			return
		}
		slog.Error("cron job reload failed", "job", jobID, "error", err)
		return
	}
	if !job.Enabled {
		s.disarm(jobID)
		return
	}

	plan, err := s.jobPlan(job)
	if err != nil {
		s.recordJobError(ctx, job, job.Processor, 0, err)
		return
	}

	slog.Info("cron trigger fired", "job", job.JobID, "user", job.UserID, "processor", plan.Processor)
	start := time.Now()
	out, err := s.dispatcher.Dispatch(ctx, job.UserID, job.Channel, plan)
	elapsed := time.Since(start)
	if err != nil {
		s.recordJobError(ctx, job, plan.Processor, elapsed, err)
		return
	}

	s.logExecution(ctx, job.JobID, out.Status, executionResult(out), elapsed)
	if out.Status == store.ExecSkipped {
		slog.Debug("cron job skipped", "job", job.JobID)
		return
	}

	if err := s.stores.Scheduler.ResetFailures(ctx, job.JobID); err != nil {
		slog.Warn("failure counter reset failed", "job", job.JobID, "error", err)
	}
	// The channel port already delivered static output; the event row
	// keeps the result visible to the next turn's context and is marked
	// delivered right away so it never renders twice.
	if plan.Processor == store.ProcessorStatic && job.NotifyCondition == store.NotifyAlways && s.events != nil {
		payload := map[string]any{"job_id": job.JobID, "message": plan.Message}
		if eventID, err := s.events.Emit(ctx, job.UserID, events.KindJobResult, payload); err == nil {
			s.events.MarkDelivered(ctx, eventID)
		}
	}
	slog.Info("cron job completed", "job", job.JobID, "duration", elapsed)
}

// recordJobError logs the error row, bumps the consecutive-failure
// counter, pauses the job at the threshold, and notifies the user where
// the notify condition asks for it. A failed static delivery falls back
// to the event queue instead of another send on the same broken channel.
func (s *Service) recordJobError(ctx context.Context, job *store.CronJob, processor string, elapsed time.Duration, cause error) {
	slog.Error("cron job failed", "job", job.JobID, "processor", processor, "error", cause)
	s.logExecution(ctx, job.JobID, store.ExecError, cause.Error(), elapsed)

	count, err := s.stores.Scheduler.IncrementFailures(ctx, job.JobID)
	if err != nil {
		slog.Error("failure counter update failed", "job", job.JobID, "error", err)
		return
	}
	paused := false
	if count >= maxConsecutiveFailures {
		s.pauseJob(ctx, job.JobID)
		paused = true
	}

	if processor == store.ProcessorStatic {
		if job.NotifyCondition == store.NotifyAlways && s.events != nil {
			payload := map[string]any{"job_id": job.JobID, "message": job.Message, "error": cause.Error()}
			if _, err := s.events.Emit(ctx, job.UserID, events.KindJobResult, payload); err != nil {
				slog.Warn("event fallback failed", "job", job.JobID, "error", err)
			}
		}
		if !paused {
			return
		}
	}

	var notice string
	if job.NotifyCondition == store.NotifyAlways && processor != store.ProcessorStatic {
		notice = fmt.Sprintf("Scheduled task %s failed: %v", job.JobID, cause)
	}
	if paused {
		// A paused monitor dying silently is worse than one extra
		// message, so the pause notice ignores notify_skip.
		pauseNotice := fmt.Sprintf("Cron job %s was paused after %d consecutive failures.",
			job.JobID, maxConsecutiveFailures)
		if notice != "" {
			notice += "\n" + pauseNotice
		} else {
			notice = pauseNotice
		}
	}
	if notice == "" {
		return
	}
	if err := s.messenger.SendToUser(ctx, job.UserID, job.Channel, notice); err != nil {
		slog.Debug("failure notice undeliverable", "job", job.JobID, "channel", job.Channel, "error", err)
	}
}

func (s *Service) pauseJob(ctx context.Context, jobID string) {
	slog.Warn("pausing cron job after consecutive failures", "job", jobID, "failures", maxConsecutiveFailures)
	if err := s.stores.Scheduler.SetJobEnabled(ctx, jobID, false); err != nil {
		slog.Error("job pause failed", "job", jobID, "error", err)
	}
	s.disarm(jobID)
}

// runReminder executes one firing of a reminder. One-shots transition to
// sent or failed and are never retried; recurring reminders stay pending
// whatever the outcome.
func (s *Service) runReminder(ctx context.Context, reminderID string) {
	r, err := s.stores.Scheduler.Reminder(ctx, reminderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.disarm(reminderID)
			return
		}
		slog.Error("reminder reload failed", "reminder", reminderID, "error", err)
		return
	}
	if r.Status != store.ReminderPending {
		s.disarm(reminderID)
		return
	}

	plan, err := s.reminderPlan(r)
	if err != nil {
		slog.Error("reminder plan unreadable", "reminder", r.ReminderID, "error", err)
		s.logExecution(ctx, r.ReminderID, store.ExecError, err.Error(), 0)
		if !r.Recurring() {
			s.setReminderStatus(ctx, r.ReminderID, store.ReminderFailed)
		}
		return
	}

	slog.Info("reminder fired", "reminder", r.ReminderID, "user", r.UserID,
		"processor", plan.Processor, "recurring", r.Recurring())
	start := time.Now()
	out, err := s.dispatcher.Dispatch(ctx, r.UserID, r.Channel, plan)
	elapsed := time.Since(start)
	if err != nil {
		slog.Error("reminder failed", "reminder", r.ReminderID, "error", err)
		s.logExecution(ctx, r.ReminderID, store.ExecError, err.Error(), elapsed)
		if !r.Recurring() {
			s.setReminderStatus(ctx, r.ReminderID, store.ReminderFailed)
		}
		return
	}

	s.logExecution(ctx, r.ReminderID, out.Status, executionResult(out), elapsed)
	if !r.Recurring() {
		s.setReminderStatus(ctx, r.ReminderID, store.ReminderSent)
	}
	slog.Info("reminder completed", "reminder", r.ReminderID, "status", out.Status, "duration", elapsed)
}

func (s *Service) setReminderStatus(ctx context.Context, reminderID, status string) {
	if err := s.stores.Scheduler.SetReminderStatus(ctx, reminderID, status); err != nil {
		slog.Error("reminder status update failed", "reminder", reminderID, "status", status, "error", err)
	}
}

// logExecution appends the audit row. Reminder firings log under their
// reminder id; the log table carries both kinds of trigger.
func (s *Service) logExecution(ctx context.Context, id, status, result string, elapsed time.Duration) {
	exec := &store.CronExecution{
		JobID:      id,
		Status:     status,
		Result:     result,
		DurationMs: elapsed.Milliseconds(),
	}
	if err := s.stores.Scheduler.LogExecution(ctx, exec); err != nil {
		slog.Error("execution log append failed", "id", id, "error", err)
	}
}

func (s *Service) jobPlan(job *store.CronJob) (*delegation.Plan, error) {
	if len(job.PlanJSON) > 0 {
		return delegation.DecodePlan(job.PlanJSON)
	}
	// Legacy rows carry only the message column.
	return &delegation.Plan{
		Execution:       delegation.ExecRecurring,
		Processor:       store.ProcessorStatic,
		CronExpr:        job.CronExpr,
		NotifyCondition: job.NotifyCondition,
		Message:         job.Message,
	}, nil
}

func (s *Service) reminderPlan(r *store.Reminder) (*delegation.Plan, error) {
	return delegation.DecodePlan(r.PlanJSON)
}

func executionResult(out *background.Outcome) string {
	if out.Output != "" {
		return out.Output
	}
	return "(no output)"
}
