package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/omrylcn/gbot/internal/delegation"
	"github.com/omrylcn/gbot/internal/store"
)

type fakeScheduler struct {
	lastPlan    *delegation.Plan
	lastChannel string
	jobs        []store.CronJob
	reminders   []store.Reminder
	jobErr      error
	reminderErr error
	jobIDs      map[string]bool
	reminderIDs map[string]bool
}

func (s *fakeScheduler) AddJob(ctx context.Context, userID, channel string, plan *delegation.Plan) (*store.CronJob, error) {
	if s.jobErr != nil {
		return nil, s.jobErr
	}
	s.lastPlan, s.lastChannel = plan, channel
	return &store.CronJob{JobID: "j1", UserID: userID, CronExpr: plan.CronExpr}, nil
}

func (s *fakeScheduler) AddReminder(ctx context.Context, userID, channel string, plan *delegation.Plan) (*store.Reminder, error) {
	if s.reminderErr != nil {
		return nil, s.reminderErr
	}
	s.lastPlan, s.lastChannel = plan, channel
	return &store.Reminder{ReminderID: "r1", UserID: userID}, nil
}

func (s *fakeScheduler) Jobs(ctx context.Context, userID string) ([]store.CronJob, error) {
	return s.jobs, nil
}

func (s *fakeScheduler) Reminders(ctx context.Context, userID string) ([]store.Reminder, error) {
	return s.reminders, nil
}

func (s *fakeScheduler) CancelJob(ctx context.Context, jobID string) error {
	if s.jobIDs[jobID] {
		return nil
	}
	return store.ErrNotFound
}

func (s *fakeScheduler) CancelReminder(ctx context.Context, reminderID string) error {
	if s.reminderIDs[reminderID] {
		return nil
	}
	return store.ErrNotFound
}

type fakeWorker struct {
	userID  string
	parent  string
	channel string
	plan    *delegation.Plan
	err     error
}

func (w *fakeWorker) Spawn(ctx context.Context, userID, parentSession, channel string, plan *delegation.Plan) (string, error) {
	if w.err != nil {
		return "", w.err
	}
	w.userID, w.parent, w.channel, w.plan = userID, parentSession, channel, plan
	return "t1", nil
}

type fakePlanner struct {
	plan *delegation.Plan
	err  error
	req  delegation.PlanRequest
}

func (p *fakePlanner) Plan(ctx context.Context, req delegation.PlanRequest) (*delegation.Plan, error) {
	p.req = req
	if p.err != nil {
		return nil, p.err
	}
	return p.plan, nil
}

func schedulingCtx() context.Context {
	ctx := WithToolUserID(context.Background(), "murat")
	ctx = WithToolChannel(ctx, "telegram")
	return WithToolSessionID(ctx, "sess-1")
}

// TestScheduleTask_Cron creates a recurring job from a cron expression.
func TestScheduleTask_Cron(t *testing.T) {
	sched := &fakeScheduler{}
	tool := NewScheduleTaskTool(sched, nil)
	res := tool.Execute(schedulingCtx(), map[string]interface{}{
		"message":   "Daily standup",
		"cron_expr": "0 9 * * *",
	})
	if res.ForLLM != "Cron job created: j1 (0 9 * * *)" {
		t.Errorf("reply = %q", res.ForLLM)
	}
	p := sched.lastPlan
	if p == nil {
		t.Fatal("no plan recorded")
	}
	if p.Execution != delegation.ExecRecurring || p.Processor != store.ProcessorStatic {
		t.Errorf("plan = %s/%s", p.Execution, p.Processor)
	}
	if p.Message != "Daily standup" || p.NotifyCondition != store.NotifyAlways {
		t.Errorf("plan = %+v", p)
	}
	if sched.lastChannel != "telegram" {
		t.Errorf("channel = %q", sched.lastChannel)
	}
}

// TestScheduleTask_Reminder creates a one-shot static reminder.
func TestScheduleTask_Reminder(t *testing.T) {
	sched := &fakeScheduler{}
	tool := NewScheduleTaskTool(sched, nil)
	res := tool.Execute(schedulingCtx(), map[string]interface{}{
		"message":       "Drink water",
		"delay_seconds": float64(7200),
	})
	if res.ForLLM != "Reminder set (static): 'Drink water' in 120 minutes (id: r1)" {
		t.Errorf("reply = %q", res.ForLLM)
	}
	p := sched.lastPlan
	if p.Execution != delegation.ExecDelayed || p.DelaySeconds != 7200 {
		t.Errorf("plan = %+v", p)
	}
}

// TestScheduleTask_AgentMode switches to the agent processor when an
// agent prompt is supplied.
func TestScheduleTask_AgentMode(t *testing.T) {
	sched := &fakeScheduler{}
	exists := func(name string) bool { return name == "web_search" }
	tool := NewScheduleTaskTool(sched, exists)
	res := tool.Execute(schedulingCtx(), map[string]interface{}{
		"message":       "Check HN",
		"delay_seconds": float64(60),
		"agent_prompt":  "Search for AI news and summarize.",
		"agent_tools":   []interface{}{"web_search"},
	})
	if res.ForLLM != "Reminder set (agent): 'Check HN' in 1 minutes (id: r1)" {
		t.Errorf("reply = %q", res.ForLLM)
	}
	p := sched.lastPlan
	if p.Processor != store.ProcessorAgent || p.Prompt == "" {
		t.Errorf("plan = %+v", p)
	}
	if len(p.Tools) != 1 || p.Tools[0] != "web_search" {
		t.Errorf("tools = %v", p.Tools)
	}
}

// TestScheduleTask_UnknownAgentTool rejects plans naming tools the
// background registry does not have.
func TestScheduleTask_UnknownAgentTool(t *testing.T) {
	sched := &fakeScheduler{}
	tool := NewScheduleTaskTool(sched, func(string) bool { return false })
	res := tool.Execute(schedulingCtx(), map[string]interface{}{
		"message":       "Check HN",
		"delay_seconds": float64(60),
		"agent_prompt":  "Search and summarize.",
		"agent_tools":   []interface{}{"nope"},
	})
	if !res.IsError || !strings.HasPrefix(res.ForLLM, "Failed to create reminder:") {
		t.Errorf("reply = %q", res.ForLLM)
	}
	if sched.lastPlan != nil {
		t.Error("invalid plan reached the scheduler")
	}
}

// TestScheduleTask_TriggerExclusive requires exactly one trigger.
func TestScheduleTask_TriggerExclusive(t *testing.T) {
	tool := NewScheduleTaskTool(&fakeScheduler{}, nil)

	res := tool.Execute(schedulingCtx(), map[string]interface{}{
		"message":       "x",
		"delay_seconds": float64(60),
		"cron_expr":     "0 9 * * *",
	})
	if !res.IsError || res.ForLLM != "provide exactly one of delay_seconds or cron_expr" {
		t.Errorf("both triggers: %q", res.ForLLM)
	}

	res = tool.Execute(schedulingCtx(), map[string]interface{}{"message": "x"})
	if !res.IsError || res.ForLLM != "provide exactly one of delay_seconds or cron_expr" {
		t.Errorf("no trigger: %q", res.ForLLM)
	}
}

// TestListScheduled renders jobs and reminders in two sections.
func TestListScheduled(t *testing.T) {
	sched := &fakeScheduler{
		jobs: []store.CronJob{
			{JobID: "j1", CronExpr: "0 9 * * *", Message: "Daily standup", Enabled: true},
			{JobID: "j2", CronExpr: "*/5 * * * *", Message: "Watch deploys", Enabled: false},
		},
		reminders: []store.Reminder{
			{
				ReminderID: "r1",
				RunAt:      time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
				PlanJSON:   json.RawMessage(`{"message":"Drink water"}`),
			},
			{
				ReminderID: "r2",
				CronExpr:   "0 */2 * * *",
				PlanJSON:   json.RawMessage(`{"prompt":"Check the feed"}`),
			},
		},
	}
	tool := NewListScheduledTool(sched)
	res := tool.Execute(schedulingCtx(), nil)
	want := "Cron jobs:\n" +
		"- [j1] 0 9 * * * → Daily standup (enabled)\n" +
		"- [j2] */5 * * * * → Watch deploys (disabled)\n" +
		"Reminders:\n" +
		"- [r1] 2026-03-01 09:30 UTC → Drink water\n" +
		"- [r2] recurring (0 */2 * * *) → Check the feed"
	if res.ForLLM != want {
		t.Errorf("list = %q, want %q", res.ForLLM, want)
	}
}

// TestListScheduled_Empty reports when nothing is scheduled.
func TestListScheduled_Empty(t *testing.T) {
	tool := NewListScheduledTool(&fakeScheduler{})
	res := tool.Execute(schedulingCtx(), nil)
	if res.ForLLM != "Nothing scheduled." {
		t.Errorf("reply = %q", res.ForLLM)
	}
}

// TestCancelScheduled tries jobs first, then reminders.
func TestCancelScheduled(t *testing.T) {
	sched := &fakeScheduler{
		jobIDs:      map[string]bool{"j1": true},
		reminderIDs: map[string]bool{"r1": true},
	}
	tool := NewCancelScheduledTool(sched)

	res := tool.Execute(schedulingCtx(), map[string]interface{}{"id": "j1"})
	if res.ForLLM != "Cron job j1 removed." {
		t.Errorf("job cancel: %q", res.ForLLM)
	}
	res = tool.Execute(schedulingCtx(), map[string]interface{}{"id": "r1"})
	if res.ForLLM != "Reminder r1 cancelled." {
		t.Errorf("reminder cancel: %q", res.ForLLM)
	}
	res = tool.Execute(schedulingCtx(), map[string]interface{}{"id": "zzz"})
	if res.ForLLM != "Nothing scheduled with id 'zzz'." {
		t.Errorf("miss: %q", res.ForLLM)
	}
}

// TestDelegate_Immediate spawns a subagent for immediate plans.
func TestDelegate_Immediate(t *testing.T) {
	planner := &fakePlanner{plan: &delegation.Plan{
		Execution: delegation.ExecImmediate,
		Processor: store.ProcessorAgent,
		Prompt:    "Research the topic.",
		Channel:   "telegram",
	}}
	worker := &fakeWorker{}
	tool := NewDelegateTool(planner, worker, &fakeScheduler{}, func() string { return "- web_search: search" })

	res := tool.Execute(schedulingCtx(), map[string]interface{}{"task": "research go generics"})
	if res.ForLLM != "Task delegated: t1" {
		t.Errorf("reply = %q", res.ForLLM)
	}
	if !res.Async {
		t.Error("immediate delegation should report async work")
	}
	if worker.userID != "murat" || worker.parent != "sess-1" || worker.channel != "telegram" {
		t.Errorf("spawn = %s/%s/%s", worker.userID, worker.parent, worker.channel)
	}
	if planner.req.Task != "research go generics" || planner.req.Catalog == "" {
		t.Errorf("request = %+v", planner.req)
	}
}

// TestDelegate_Delayed routes delayed plans to the reminder queue.
func TestDelegate_Delayed(t *testing.T) {
	planner := &fakePlanner{plan: &delegation.Plan{
		Execution:    delegation.ExecDelayed,
		Processor:    store.ProcessorStatic,
		DelaySeconds: 300,
		Message:      "ping",
		Channel:      "telegram",
	}}
	sched := &fakeScheduler{}
	tool := NewDelegateTool(planner, &fakeWorker{}, sched, func() string { return "" })

	res := tool.Execute(schedulingCtx(), map[string]interface{}{"task": "remind me in 5 min"})
	if res.ForLLM != "Task delegated: r1" {
		t.Errorf("reply = %q", res.ForLLM)
	}
	if sched.lastPlan == nil || sched.lastPlan.Execution != delegation.ExecDelayed {
		t.Errorf("plan = %+v", sched.lastPlan)
	}
}

// TestDelegate_Recurring routes recurring and monitor plans to cron.
func TestDelegate_Recurring(t *testing.T) {
	for _, exec := range []string{delegation.ExecRecurring, delegation.ExecMonitor} {
		planner := &fakePlanner{plan: &delegation.Plan{
			Execution: exec,
			Processor: store.ProcessorStatic,
			CronExpr:  "0 9 * * *",
			Message:   "check",
			Channel:   "telegram",
		}}
		sched := &fakeScheduler{}
		tool := NewDelegateTool(planner, &fakeWorker{}, sched, func() string { return "" })

		res := tool.Execute(schedulingCtx(), map[string]interface{}{"task": "watch the feed"})
		if res.ForLLM != "Task delegated: j1" {
			t.Errorf("%s: reply = %q", exec, res.ForLLM)
		}
		if sched.lastPlan == nil {
			t.Errorf("%s: plan not recorded", exec)
		}
	}
}

// TestDelegate_PlannerError surfaces planning failures.
func TestDelegate_PlannerError(t *testing.T) {
	planner := &fakePlanner{err: errors.New("provider unavailable")}
	tool := NewDelegateTool(planner, &fakeWorker{}, &fakeScheduler{}, func() string { return "" })

	res := tool.Execute(schedulingCtx(), map[string]interface{}{"task": "anything"})
	if !res.IsError || res.ForLLM != "Failed to delegate task: provider unavailable" {
		t.Errorf("reply = %q", res.ForLLM)
	}
}
