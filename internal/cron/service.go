// Package cron owns the persistent triggers: recurring jobs and one-shot
// or recurring reminders. Rows in the store are the source of truth; the
// service rehydrates them into an in-memory trigger table at start and
// polls it on a fixed interval. The table is owned by the run loop alone,
// external mutators enqueue operations instead of touching it.
package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/omrylcn/gbot/internal/background"
	"github.com/omrylcn/gbot/internal/delegation"
	"github.com/omrylcn/gbot/internal/errdefs"
	"github.com/omrylcn/gbot/internal/events"
	"github.com/omrylcn/gbot/internal/store"
	"github.com/omrylcn/gbot/internal/tools"
	"github.com/omrylcn/gbot/internal/tracing"
)

const (
	defaultPollInterval = time.Second

	// maxConsecutiveFailures pauses a job once this many error rows land
	// back to back. A single success resets the counter.
	maxConsecutiveFailures = 3
)

const (
	triggerJob      = "job"
	triggerReminder = "reminder"
)

// trigger is one armed entry in the table. Recurring triggers keep their
// expression and recompute next after every firing; one-shots are removed
// when they come due.
type trigger struct {
	kind string
	id   string
	expr string
	next time.Time
}

// ServiceConfig wires the scheduler.
type ServiceConfig struct {
	Stores     *store.Stores
	Dispatcher *background.Dispatcher
	Events     *events.Bus
	Messenger  tools.Messenger

	// PollInterval is the trigger scan period. Zero means one second.
	PollInterval time.Duration
	// Now supplies the scheduler clock. Nil means time.Now.
	Now func() time.Time
}

// Service executes cron jobs and reminders through the plan dispatcher.
// It implements the scheduling interface the tools consume.
type Service struct {
	stores     *store.Stores
	dispatcher *background.Dispatcher
	events     *events.Bus
	messenger  tools.Messenger

	pollInterval time.Duration
	now          func() time.Time

	ops      chan func(map[string]*trigger)
	stop     chan struct{}
	done     chan struct{}
	running  atomic.Bool
	stopOnce sync.Once

	// executing guards against overlapping runs of the same trigger.
	executing sync.Map
	wg        sync.WaitGroup
}

var _ tools.Scheduler = (*Service)(nil)

// New builds the service. Start arms the triggers and begins polling.
func New(cfg ServiceConfig) *Service {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		stores:       cfg.Stores,
		dispatcher:   cfg.Dispatcher,
		events:       cfg.Events,
		messenger:    cfg.Messenger,
		pollInterval: interval,
		now:          now,
		ops:          make(chan func(map[string]*trigger), 256),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start rehydrates enabled jobs and pending reminders into the trigger
// table and launches the poll loop.
func (s *Service) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("cron service already running")
	}
	table := make(map[string]*trigger)
	if err := s.rehydrate(ctx, table); err != nil {
		s.running.Store(false)
		return err
	}
	go s.run(table)
	slog.Info("cron service started", "triggers", len(table), "poll_interval", s.pollInterval)
	return nil
}

// Stop halts the poll loop and waits for in-flight executions until ctx
// expires. The service is single-use: a stopped service cannot restart.
func (s *Service) Stop(ctx context.Context) error {
	if !s.running.Load() {
		return nil
	}
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		slog.Info("cron service stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cron service stop: %w", ctx.Err())
	}
}

func (s *Service) run(table map[string]*trigger) {
	defer close(s.done)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case op := <-s.ops:
			op(table)
		case <-ticker.C:
			s.tick(table)
		}
	}
}

// tick applies queued table mutations, then fires every due trigger.
// Recurring triggers are re-armed before their execution starts so a slow
// run never delays the schedule; the overlap guard in fire skips a firing
// whose previous run is still active.
func (s *Service) tick(table map[string]*trigger) {
drain:
	for {
		select {
		case op := <-s.ops:
			op(table)
		default:
			break drain
		}
	}

	now := s.now()
	for id, tr := range table {
		if tr.next.After(now) {
			continue
		}
		if tr.expr != "" {
			next, err := gronx.NextTickAfter(tr.expr, now, false)
			if err != nil {
				slog.Error("trigger expression stopped parsing, disarming",
					"id", id, "expr", tr.expr, "error", err)
				delete(table, id)
				continue
			}
			tr.next = next
		} else {
			delete(table, id)
		}
		s.wg.Add(1)
		go s.fire(tr.kind, id)
	}
}

func (s *Service) fire(kind, id string) {
	defer s.wg.Done()
	if _, active := s.executing.LoadOrStore(id, s.now()); active {
		slog.Warn("skipping trigger, previous run still active", "id", id)
		return
	}
	defer s.executing.Delete(id)

	// Detached from the poll loop: a firing runs to completion even
	// across Stop, which waits on the group.
	ctx, span := tracing.Start(context.Background(), tracing.SpanCronTrigger,
		attribute.String(tracing.AttrTriggerKind, kind),
		attribute.String(tracing.AttrJobID, id),
	)
	defer span.End()
	switch kind {
	case triggerJob:
		s.runJob(ctx, id)
	case triggerReminder:
		s.runReminder(ctx, id)
	}
}

// rehydrate loads enabled jobs and pending reminders into the table.
// A one-shot reminder that came due while the process was down fires on
// the first tick rather than being dropped.
func (s *Service) rehydrate(ctx context.Context, table map[string]*trigger) error {
	jobs, err := s.stores.Scheduler.EnabledJobs(ctx)
	if err != nil {
		return fmt.Errorf("load enabled jobs: %w", err)
	}
	now := s.now()
	for _, job := range jobs {
		next, err := gronx.NextTickAfter(job.CronExpr, now, false)
		if err != nil {
			slog.Error("cron job has an invalid expression, leaving disarmed",
				"job", job.JobID, "expr", job.CronExpr, "error", err)
			continue
		}
		table[job.JobID] = &trigger{kind: triggerJob, id: job.JobID, expr: job.CronExpr, next: next}
	}

	reminders, err := s.stores.Scheduler.PendingReminders(ctx)
	if err != nil {
		return fmt.Errorf("load pending reminders: %w", err)
	}
	for _, r := range reminders {
		tr := &trigger{kind: triggerReminder, id: r.ReminderID, next: r.RunAt}
		if r.Recurring() {
			next, err := gronx.NextTickAfter(r.CronExpr, now, false)
			if err != nil {
				slog.Error("reminder has an invalid expression, leaving disarmed",
					"reminder", r.ReminderID, "expr", r.CronExpr, "error", err)
				continue
			}
			tr.expr, tr.next = r.CronExpr, next
		}
		table[r.ReminderID] = tr
	}
	return nil
}

// apply hands a table mutation to the run loop. The store stays the
// source of truth, so on a full queue the mutation is dropped and the
// next restart repairs the table.
func (s *Service) apply(op func(map[string]*trigger)) {
	select {
	case s.ops <- op:
	default:
		slog.Warn("cron op queue full, trigger table mutation dropped")
	}
}

func (s *Service) arm(kind, id, expr string, runAt time.Time) {
	s.apply(func(table map[string]*trigger) {
		next := runAt
		if expr != "" {
			t, err := gronx.NextTickAfter(expr, s.now(), false)
			if err != nil {
				slog.Error("trigger expression rejected at arm",
					"id", id, "expr", expr, "error", err)
				return
			}
			next = t
		}
		table[id] = &trigger{kind: kind, id: id, expr: expr, next: next}
	})
}

func (s *Service) disarm(id string) {
	s.apply(func(table map[string]*trigger) {
		delete(table, id)
	})
}

// AddJob persists a recurring job for the plan and arms its trigger.
func (s *Service) AddJob(ctx context.Context, userID, channel string, plan *delegation.Plan) (*store.CronJob, error) {
	if plan.CronExpr == "" || !gronx.New().IsValid(plan.CronExpr) {
		return nil, errdefs.Errorf(errdefs.PlanInvalid, "cron.addjob",
			"invalid cron expression %q", plan.CronExpr)
	}
	if plan.Channel != "" {
		channel = plan.Channel
	}
	raw, err := json.Marshal(plan)
	if err != nil {
		return nil, errdefs.Errorf(errdefs.PlanInvalid, "cron.addjob", "encode plan: %v", err)
	}

	job := &store.CronJob{
		JobID:           "job-" + uuid.NewString()[:8],
		UserID:          userID,
		CronExpr:        plan.CronExpr,
		Message:         displayText(plan),
		Channel:         channel,
		Enabled:         true,
		Processor:       plan.Processor,
		PlanJSON:        raw,
		NotifyCondition: plan.NotifyCondition,
	}
	if err := s.stores.Scheduler.CreateJob(ctx, job); err != nil {
		return nil, errdefs.E(errdefs.StoreError, "cron.addjob", err)
	}
	s.arm(triggerJob, job.JobID, job.CronExpr, time.Time{})
	slog.Info("cron job added", "job", job.JobID, "user", userID, "expr", job.CronExpr, "processor", job.Processor)
	return job, nil
}

// AddReminder persists a one-shot (delay_seconds) or recurring (cron_expr)
// reminder for the plan and arms its trigger.
func (s *Service) AddReminder(ctx context.Context, userID, channel string, plan *delegation.Plan) (*store.Reminder, error) {
	if plan.Channel != "" {
		channel = plan.Channel
	}
	var runAt time.Time
	switch {
	case plan.CronExpr != "":
		if !gronx.New().IsValid(plan.CronExpr) {
			return nil, errdefs.Errorf(errdefs.PlanInvalid, "cron.addreminder",
				"invalid cron expression %q", plan.CronExpr)
		}
		next, err := gronx.NextTickAfter(plan.CronExpr, s.now(), false)
		if err != nil {
			return nil, errdefs.Errorf(errdefs.PlanInvalid, "cron.addreminder",
				"invalid cron expression %q: %v", plan.CronExpr, err)
		}
		runAt = next
	case plan.DelaySeconds > 0:
		runAt = s.now().Add(time.Duration(plan.DelaySeconds) * time.Second)
	default:
		return nil, errdefs.Errorf(errdefs.PlanInvalid, "cron.addreminder",
			"reminder needs delay_seconds or cron_expr")
	}
	raw, err := json.Marshal(plan)
	if err != nil {
		return nil, errdefs.Errorf(errdefs.PlanInvalid, "cron.addreminder", "encode plan: %v", err)
	}

	r := &store.Reminder{
		ReminderID: "rem-" + uuid.NewString()[:8],
		UserID:     userID,
		Channel:    channel,
		RunAt:      runAt.UTC(),
		CronExpr:   plan.CronExpr,
		Processor:  plan.Processor,
		PlanJSON:   raw,
		Status:     store.ReminderPending,
	}
	if err := s.stores.Scheduler.CreateReminder(ctx, r); err != nil {
		return nil, errdefs.E(errdefs.StoreError, "cron.addreminder", err)
	}
	s.arm(triggerReminder, r.ReminderID, r.CronExpr, r.RunAt)
	slog.Info("reminder added", "reminder", r.ReminderID, "user", userID,
		"run_at", r.RunAt, "recurring", r.Recurring())
	return r, nil
}

// Jobs lists the user's cron jobs.
func (s *Service) Jobs(ctx context.Context, userID string) ([]store.CronJob, error) {
	return s.stores.Scheduler.JobsByUser(ctx, userID)
}

// Reminders lists the user's pending reminders.
func (s *Service) Reminders(ctx context.Context, userID string) ([]store.Reminder, error) {
	all, err := s.stores.Scheduler.RemindersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var pending []store.Reminder
	for _, r := range all {
		if r.Status == store.ReminderPending {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

// CancelJob deletes the job and disarms its trigger. A mid-execution run
// is not interrupted.
func (s *Service) CancelJob(ctx context.Context, jobID string) error {
	if err := s.stores.Scheduler.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	s.disarm(jobID)
	slog.Info("cron job cancelled", "job", jobID)
	return nil
}

// CancelReminder marks the reminder cancelled and disarms its trigger.
func (s *Service) CancelReminder(ctx context.Context, reminderID string) error {
	if err := s.stores.Scheduler.SetReminderStatus(ctx, reminderID, store.ReminderCancelled); err != nil {
		return err
	}
	s.disarm(reminderID)
	slog.Info("reminder cancelled", "reminder", reminderID)
	return nil
}

func displayText(plan *delegation.Plan) string {
	if plan.Message != "" {
		return plan.Message
	}
	return plan.Prompt
}
