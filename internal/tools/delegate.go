package tools

import (
	"context"
	"fmt"

	"github.com/omrylcn/gbot/internal/delegation"
	"github.com/omrylcn/gbot/internal/store"
)

// DelegationPlanner turns a natural-language task into an execution plan.
type DelegationPlanner interface {
	Plan(ctx context.Context, req delegation.PlanRequest) (*delegation.Plan, error)
}

// BackgroundWorker spawns immediate background tasks.
type BackgroundWorker interface {
	Spawn(ctx context.Context, userID, parentSession, channel string, plan *delegation.Plan) (string, error)
}

// DelegateTool hands a task to the planner and routes the resulting plan:
// immediate plans spawn a subagent, delayed plans become reminders,
// recurring and monitor plans become cron jobs.
type DelegateTool struct {
	planner   DelegationPlanner
	worker    BackgroundWorker
	scheduler Scheduler
	catalog   func() string
}

// NewDelegateTool builds the tool. catalog renders the background
// registry's tool list for the planner prompt.
func NewDelegateTool(planner DelegationPlanner, worker BackgroundWorker, scheduler Scheduler, catalog func() string) *DelegateTool {
	return &DelegateTool{planner: planner, worker: worker, scheduler: scheduler, catalog: catalog}
}

func (t *DelegateTool) Name() string { return "delegate" }

func (t *DelegateTool) Description() string {
	return `Delegate a task to a background subagent. A planner automatically
decides when the task runs, which tools and prompt the subagent needs,
and how results are delivered. Just describe the task clearly.`
}

func (t *DelegateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "Task description for the subagent",
			},
			"channel": map[string]interface{}{
				"type":        "string",
				"description": "Delivery channel for the result. Auto-injected from session context, do not set manually.",
			},
		},
		"required": []string{"task"},
	}
}

func (t *DelegateTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	uid := ToolUserIDFromCtx(ctx)
	if uid == "" {
		return ErrorResult("user identity missing from context")
	}
	task, _ := args["task"].(string)
	if task == "" {
		return ErrorResult("task is required")
	}
	channel := channelArg(ctx, args)

	plan, err := t.planner.Plan(ctx, delegation.PlanRequest{
		UserID:  uid,
		Task:    task,
		Catalog: t.catalog(),
		Channel: channel,
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to delegate task: %v", err)).WithError(err)
	}

	var id string
	switch plan.Execution {
	case delegation.ExecImmediate:
		id, err = t.worker.Spawn(ctx, uid, ToolSessionIDFromCtx(ctx), plan.Channel, plan)
	case delegation.ExecDelayed:
		var reminder *store.Reminder
		reminder, err = t.scheduler.AddReminder(ctx, uid, plan.Channel, plan)
		if err == nil {
			id = reminder.ReminderID
		}
	default: // recurring, monitor
		var job *store.CronJob
		job, err = t.scheduler.AddJob(ctx, uid, plan.Channel, plan)
		if err == nil {
			id = job.JobID
		}
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to delegate task: %v", err)).WithError(err)
	}
	return AsyncResult(fmt.Sprintf("Task delegated: %s", id))
}
