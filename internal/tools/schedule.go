package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/omrylcn/gbot/internal/delegation"
	"github.com/omrylcn/gbot/internal/store"
)

// Scheduler is the slice of the cron service the scheduling tools use.
// The plan carries the trigger (delay_seconds or cron_expr) and the
// processor payload.
type Scheduler interface {
	AddJob(ctx context.Context, userID, channel string, plan *delegation.Plan) (*store.CronJob, error)
	AddReminder(ctx context.Context, userID, channel string, plan *delegation.Plan) (*store.Reminder, error)
	Jobs(ctx context.Context, userID string) ([]store.CronJob, error)
	Reminders(ctx context.Context, userID string) ([]store.Reminder, error)
	CancelJob(ctx context.Context, jobID string) error
	CancelReminder(ctx context.Context, reminderID string) error
}

// ScheduleTaskTool creates one-shot reminders and recurring cron jobs.
type ScheduleTaskTool struct {
	scheduler  Scheduler
	toolExists func(name string) bool
}

// NewScheduleTaskTool builds the tool. toolExists checks agent tool names
// against the background registry.
func NewScheduleTaskTool(scheduler Scheduler, toolExists func(name string) bool) *ScheduleTaskTool {
	return &ScheduleTaskTool{scheduler: scheduler, toolExists: toolExists}
}

func (t *ScheduleTaskTool) Name() string { return "schedule_task" }

func (t *ScheduleTaskTool) Description() string {
	return `Schedule a message or task for later. Two trigger modes:
- delay_seconds: one-shot reminder (e.g. 7200 = in 2 hours)
- cron_expr: recurring schedule (e.g. '0 9 * * *' = every day at 9am)
By default the message is delivered as-is at trigger time. Set agent_prompt
(plus agent_tools) to have an isolated agent execute the task instead.
Set notify_condition='notify_skip' for monitoring checks that should stay
silent unless there is something to report.`
}

func (t *ScheduleTaskTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{
				"type":        "string",
				"description": "The reminder text, or a short task description when using agent mode",
			},
			"delay_seconds": map[string]interface{}{
				"type":        "number",
				"description": "Fire once after this many seconds (mutually exclusive with cron_expr)",
			},
			"cron_expr": map[string]interface{}{
				"type":        "string",
				"description": "Cron expression for recurring execution (mutually exclusive with delay_seconds)",
			},
			"agent_prompt": map[string]interface{}{
				"type":        "string",
				"description": "Optional system prompt; when set an isolated agent runs the task",
			},
			"agent_tools": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Tool names the agent may use (background-safe tools only)",
			},
			"notify_condition": map[string]interface{}{
				"type":        "string",
				"enum":        []string{store.NotifyAlways, store.NotifySkip},
				"description": "Set notify_skip to suppress [SKIP] responses (default: always)",
			},
			"channel": map[string]interface{}{
				"type":        "string",
				"description": "Delivery channel. Auto-injected from session context, do not set manually.",
			},
		},
		"required": []string{"message"},
	}
}

func (t *ScheduleTaskTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	uid := ToolUserIDFromCtx(ctx)
	if uid == "" {
		return ErrorResult("user identity missing from context")
	}
	message, _ := args["message"].(string)
	if message == "" {
		return ErrorResult("message is required")
	}
	delaySeconds := 0
	if n, ok := args["delay_seconds"].(float64); ok {
		delaySeconds = int(n)
	}
	cronExpr, _ := args["cron_expr"].(string)
	if (delaySeconds > 0) == (cronExpr != "") {
		return ErrorResult("provide exactly one of delay_seconds or cron_expr")
	}
	channel := channelArg(ctx, args)
	prompt, _ := args["agent_prompt"].(string)
	notify, _ := args["notify_condition"].(string)
	if notify == "" {
		notify = store.NotifyAlways
	}

	plan := &delegation.Plan{
		Processor:       store.ProcessorStatic,
		DelaySeconds:    delaySeconds,
		CronExpr:        cronExpr,
		NotifyCondition: notify,
		Channel:         channel,
		Message:         message,
	}
	if cronExpr != "" {
		plan.Execution = delegation.ExecRecurring
	} else {
		plan.Execution = delegation.ExecDelayed
	}
	if prompt != "" {
		plan.Processor = store.ProcessorAgent
		plan.Prompt = prompt
		plan.Tools = stringSliceArg(args, "agent_tools")
	}
	if err := plan.Validate(t.toolExists); err != nil {
		if cronExpr != "" {
			return ErrorResult(fmt.Sprintf("Failed to create cron job: %v", err))
		}
		return ErrorResult(fmt.Sprintf("Failed to create reminder: %v", err))
	}

	if cronExpr != "" {
		job, err := t.scheduler.AddJob(ctx, uid, channel, plan)
		if err != nil {
			return ErrorResult(fmt.Sprintf("Failed to create cron job: %v", err)).WithError(err)
		}
		return NewResult(fmt.Sprintf("Cron job created: %s (%s)", job.JobID, cronExpr))
	}

	reminder, err := t.scheduler.AddReminder(ctx, uid, channel, plan)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to create reminder: %v", err)).WithError(err)
	}
	mode := "static"
	if prompt != "" {
		mode = "agent"
	}
	return NewResult(fmt.Sprintf("Reminder set (%s): '%s' in %d minutes (id: %s)",
		mode, message, delaySeconds/60, reminder.ReminderID))
}

// ListScheduledTool lists the user's cron jobs and pending reminders.
type ListScheduledTool struct {
	scheduler Scheduler
}

func NewListScheduledTool(scheduler Scheduler) *ListScheduledTool {
	return &ListScheduledTool{scheduler: scheduler}
}

func (t *ListScheduledTool) Name() string { return "list_scheduled" }

func (t *ListScheduledTool) Description() string {
	return "List the user's scheduled cron jobs and pending reminders."
}

func (t *ListScheduledTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *ListScheduledTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	uid := ToolUserIDFromCtx(ctx)
	if uid == "" {
		return ErrorResult("user identity missing from context")
	}
	jobs, err := t.scheduler.Jobs(ctx, uid)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to list cron jobs: %v", err)).WithError(err)
	}
	reminders, err := t.scheduler.Reminders(ctx, uid)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to list reminders: %v", err)).WithError(err)
	}
	if len(jobs) == 0 && len(reminders) == 0 {
		return NewResult("Nothing scheduled.")
	}
	var sb strings.Builder
	if len(jobs) > 0 {
		sb.WriteString("Cron jobs:\n")
		for _, j := range jobs {
			status := "enabled"
			if !j.Enabled {
				status = "disabled"
			}
			fmt.Fprintf(&sb, "- [%s] %s → %s (%s)\n",
				j.JobID, j.CronExpr, truncateStr(j.Message, 50), status)
		}
	}
	if len(reminders) > 0 {
		sb.WriteString("Reminders:\n")
		for _, r := range reminders {
			kind := r.RunAt.UTC().Format("2006-01-02 15:04 MST")
			if r.Recurring() {
				kind = fmt.Sprintf("recurring (%s)", r.CronExpr)
			}
			fmt.Fprintf(&sb, "- [%s] %s → %s\n",
				r.ReminderID, kind, truncateStr(reminderText(r), 50))
		}
	}
	return NewResult(strings.TrimRight(sb.String(), "\n"))
}

// CancelScheduledTool cancels a cron job or reminder by id.
type CancelScheduledTool struct {
	scheduler Scheduler
}

func NewCancelScheduledTool(scheduler Scheduler) *CancelScheduledTool {
	return &CancelScheduledTool{scheduler: scheduler}
}

func (t *CancelScheduledTool) Name() string { return "cancel_scheduled" }

func (t *CancelScheduledTool) Description() string {
	return "Cancel a scheduled cron job or pending reminder by its id."
}

func (t *CancelScheduledTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{
				"type":        "string",
				"description": "The job or reminder id from list_scheduled",
			},
		},
		"required": []string{"id"},
	}
}

func (t *CancelScheduledTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	uid := ToolUserIDFromCtx(ctx)
	if uid == "" {
		return ErrorResult("user identity missing from context")
	}
	id, _ := args["id"].(string)
	if id == "" {
		return ErrorResult("id is required")
	}
	err := t.scheduler.CancelJob(ctx, id)
	if err == nil {
		return NewResult(fmt.Sprintf("Cron job %s removed.", id))
	}
	if !errors.Is(err, store.ErrNotFound) {
		return ErrorResult(fmt.Sprintf("Failed to cancel cron job: %v", err)).WithError(err)
	}
	err = t.scheduler.CancelReminder(ctx, id)
	if err == nil {
		return NewResult(fmt.Sprintf("Reminder %s cancelled.", id))
	}
	if errors.Is(err, store.ErrNotFound) {
		return NewResult(fmt.Sprintf("Nothing scheduled with id '%s'.", id))
	}
	return ErrorResult(fmt.Sprintf("Failed to cancel reminder: %v", err)).WithError(err)
}

// reminderText extracts the display text from the reminder's plan.
func reminderText(r store.Reminder) string {
	plan, err := delegation.DecodePlan(r.PlanJSON)
	if err != nil {
		return "(unreadable plan)"
	}
	if plan.Message != "" {
		return plan.Message
	}
	return plan.Prompt
}

// channelArg returns the channel argument, falling back to the session
// channel in the context.
func channelArg(ctx context.Context, args map[string]interface{}) string {
	if ch, _ := args["channel"].(string); ch != "" {
		return ch
	}
	return ToolChannelFromCtx(ctx)
}

// stringSliceArg coerces a JSON array argument into []string.
func stringSliceArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
