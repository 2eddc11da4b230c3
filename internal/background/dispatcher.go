// Package background executes delegation plans outside the main
// conversation. The Dispatcher implements the three processor semantics
// shared by the scheduler and the subagent worker; the Worker runs
// immediate plans on a bounded pool.
package background

import (
	"context"
	"fmt"
	"time"

	"github.com/omrylcn/gbot/internal/agent"
	"github.com/omrylcn/gbot/internal/delegation"
	"github.com/omrylcn/gbot/internal/errdefs"
	"github.com/omrylcn/gbot/internal/providers"
	"github.com/omrylcn/gbot/internal/store"
	"github.com/omrylcn/gbot/internal/tokenizer"
	"github.com/omrylcn/gbot/internal/tools"
)

const (
	defaultToolTimeout  = 60 * time.Second
	defaultAgentTimeout = 5 * time.Minute

	// agentRunMessage triggers an agent-processor run; the task itself
	// lives in the plan's prompt.
	agentRunMessage = "Execute your task now."
)

// DispatcherConfig wires the processor dispatch.
type DispatcherConfig struct {
	Providers    *providers.Registry
	Tools        *tools.Registry // background-safe subregistry
	Messenger    tools.Messenger
	Counter      tokenizer.Counter
	DefaultModel string        // agent-processor model when the plan names none
	ToolTimeout  time.Duration // function processor bound, default 60s
	AgentTimeout time.Duration // agent processor bound, default 5m
}

// Dispatcher executes one plan per call. Delivery rules:
//   - static: the dispatcher sends plan.message through the channel
//     port; that is the entire effect.
//   - function: the tool is the entire side effect, the dispatcher
//     never sends anything on top.
//   - agent: the LightAgent owns delivery through its messaging tools;
//     the dispatcher only inspects the final text for skip markers.
type Dispatcher struct {
	providers    *providers.Registry
	tools        *tools.Registry
	messenger    tools.Messenger
	counter      tokenizer.Counter
	defaultModel string
	toolTimeout  time.Duration
	agentTimeout time.Duration
}

// Outcome reports one plan execution. Status is an execution-log status:
// success or skipped; errors come back as the error return instead.
type Outcome struct {
	Status      string
	Output      string
	Tokens      int
	ToolsCalled []string
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	counter := cfg.Counter
	if counter == nil {
		counter = tokenizer.Heuristic()
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = defaultToolTimeout
	}
	agentTimeout := cfg.AgentTimeout
	if agentTimeout <= 0 {
		agentTimeout = defaultAgentTimeout
	}
	return &Dispatcher{
		providers:    cfg.Providers,
		tools:        cfg.Tools,
		messenger:    cfg.Messenger,
		counter:      counter,
		defaultModel: cfg.DefaultModel,
		toolTimeout:  toolTimeout,
		agentTimeout: agentTimeout,
	}
}

// Dispatch executes the plan for userID, delivering on channel where
// the plan itself names none.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, channel string, plan *delegation.Plan) (*Outcome, error) {
	if plan.Channel != "" {
		channel = plan.Channel
	}
	ctx = tools.WithToolUserID(ctx, userID)
	if channel != "" {
		ctx = tools.WithToolChannel(ctx, channel)
	}

	switch plan.Processor {
	case store.ProcessorStatic:
		return d.dispatchStatic(ctx, userID, channel, plan)
	case store.ProcessorFunction:
		return d.dispatchFunction(ctx, channel, plan)
	case store.ProcessorAgent:
		return d.dispatchAgent(ctx, channel, plan)
	default:
		return nil, errdefs.Errorf(errdefs.ScheduledExecutionError, "background.dispatch",
			"unknown processor %q", plan.Processor)
	}
}

func (d *Dispatcher) dispatchStatic(ctx context.Context, userID, channel string, plan *delegation.Plan) (*Outcome, error) {
	if plan.Message == "" {
		return nil, errdefs.Errorf(errdefs.ScheduledExecutionError, "background.static",
			"static plan has no message")
	}
	if err := d.messenger.SendToUser(ctx, userID, channel, plan.Message); err != nil {
		return nil, errdefs.E(errdefs.ScheduledExecutionError, "background.static", err)
	}
	return &Outcome{Status: store.ExecSuccess, Output: plan.Message}, nil
}

func (d *Dispatcher) dispatchFunction(ctx context.Context, channel string, plan *delegation.Plan) (*Outcome, error) {
	tool, ok := d.tools.Get(plan.ToolName)
	if !ok {
		return nil, errdefs.Errorf(errdefs.ScheduledExecutionError, "background.function",
			"tool %q unknown or unavailable", plan.ToolName)
	}

	args := make(map[string]interface{}, len(plan.ToolArgs)+1)
	for k, v := range plan.ToolArgs {
		args[k] = v
	}
	if channel != "" {
		if v, ok := args["channel"].(string); !ok || v == "" {
			args["channel"] = channel
		}
	}

	tctx, cancel := context.WithTimeout(ctx, d.toolTimeout)
	defer cancel()
	result := execute(tctx, tool, args)
	if result == nil {
		return nil, errdefs.Errorf(errdefs.ScheduledExecutionError, "background.function",
			"tool %q returned no result", plan.ToolName)
	}
	if result.IsError {
		return nil, errdefs.Errorf(errdefs.ScheduledExecutionError, "background.function",
			"tool %q: %s", plan.ToolName, result.ForLLM)
	}
	return &Outcome{
		Status:      store.ExecSuccess,
		Output:      result.ForLLM,
		ToolsCalled: []string{plan.ToolName},
	}, nil
}

func (d *Dispatcher) dispatchAgent(ctx context.Context, channel string, plan *delegation.Plan) (*Outcome, error) {
	prompt := plan.Prompt
	if prompt == "" {
		return nil, errdefs.Errorf(errdefs.ScheduledExecutionError, "background.agent",
			"agent plan has no prompt")
	}
	if channel != "" {
		prompt += fmt.Sprintf("\n\nIMPORTANT: set channel='%s' when sending messages to the user.", channel)
	}
	if plan.NotifyCondition == store.NotifySkip {
		prompt += "\n\nIf there is nothing worth reporting, reply with exactly [SKIP] and send no messages."
	}

	model := plan.Model
	if model == "" {
		model = d.defaultModel
	}
	light := agent.NewLightAgent(agent.LightConfig{
		Providers: d.providers,
		Tools:     d.tools,
		Prompt:    prompt,
		ToolNames: plan.Tools,
		Model:     model,
		Counter:   d.counter,
	})

	actx, cancel := context.WithTimeout(ctx, d.agentTimeout)
	defer cancel()
	res, err := light.Run(actx, runMessage(plan))
	if err != nil {
		return nil, errdefs.E(errdefs.ScheduledExecutionError, "background.agent", err)
	}

	text := agent.NormalizeReply(res.Text)
	out := &Outcome{
		Status:      store.ExecSuccess,
		Output:      text,
		Tokens:      res.Tokens,
		ToolsCalled: res.ToolsCalled,
	}
	if plan.NotifyCondition == store.NotifySkip && agent.IsSkipMarker(text) {
		out.Status = store.ExecSkipped
	}
	return out, nil
}

func runMessage(plan *delegation.Plan) string {
	if plan.Message != "" {
		return plan.Message
	}
	return agentRunMessage
}

// execute shields the dispatcher from panicking tools.
func execute(ctx context.Context, tool tools.Tool, args map[string]interface{}) (result *tools.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = tools.ErrorResult(fmt.Sprintf("Tool error: %v", r))
		}
	}()
	return tool.Execute(ctx, args)
}
