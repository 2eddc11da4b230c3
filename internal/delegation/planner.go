package delegation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/omrylcn/gbot/internal/config"
	"github.com/omrylcn/gbot/internal/errdefs"
	"github.com/omrylcn/gbot/internal/providers"
	"github.com/omrylcn/gbot/internal/store"
	"github.com/omrylcn/gbot/internal/tracing"
)

// Delegation log outcomes.
const (
	OutcomePlanned = "planned"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

const plannerMaxTokens = 512

const plannerPrompt = `You are a task delegation planner. Given a task description and available tools,
decide the optimal execution strategy and configuration for a background agent.

## Available Tools
%s

## Two Orthogonal Decisions

### 1. Execution Type (WHEN to run)
- "immediate": Run now in background (research, computation, complex tasks)
- "delayed": Run once after a delay (send message later, check something later)
- "recurring": Run on a schedule (periodic checks, regular reports)
- "monitor": Run on a schedule, only notify when condition is met (price alerts)

### 2. Processor Type (HOW to run)
- "static": Send a plain text message to the user. No agent, no tool call. Use for simple reminders.
- "function": Call a specific tool with known arguments. No LLM needed. Use when the exact
  tool and arguments are clear (e.g. send a message to someone, add a favorite).
  The action itself is the goal; no result is sent back to the requesting user.
- "agent": Run a light agent (LLM + selected tools) for single-step or simple multi-step
  tasks. The agent has ONLY the tools you list; it cannot delegate, create reminders,
  or access user memory. Good for: fetch data, search, summarize, send a message.

## Rules
- For "static": set tools=[], tool_name=null, tool_args=null, prompt=null.
- For "function": set tool_name and tool_args with the exact tool call. No prompt needed.
- For "agent": set tools list and a focused prompt (2-3 sentences) with full task details.
  ALWAYS include send_message_to_user in the tools list. The agent is responsible for delivering
  its own results. The prompt MUST instruct the agent to send results via send_message_to_user
  to the appropriate target user.
- If the task is simple, suggest a cheaper model. If complex, suggest the main model.
- For "delayed": estimate delay_seconds from the task description.
- For "recurring" and "monitor": produce a cron expression.
- For "monitor": set notify_condition="notify_skip" and the prompt MUST instruct the agent
  to respond with [SKIP] when there is nothing to report. For everything else set
  notify_condition="always".
- Set channel=null unless the task explicitly names a delivery channel.
- Return ONLY valid JSON, no markdown.

## Examples
- "Remind me about the meeting in 2 hours"
  → execution: "delayed", processor: "static", delay_seconds: 7200,
    message: "Reminder: you have a meeting!"

- "Send a message to Murat saying hello in 5 minutes"
  → execution: "delayed", processor: "function", delay_seconds: 300,
    tool_name: "send_message_to_user",
    tool_args: {"target_user": "Murat", "message": "hello"}

- "Check the weather and report back in 2 minutes"
  → execution: "delayed", processor: "agent", delay_seconds: 120,
    tools: ["web_fetch", "send_message_to_user"],
    prompt: "Use web_fetch('weather:istanbul') to get current weather data, then send a detailed summary including temperature, humidity and wind."

- "Alert me when gold exceeds $3000"
  → execution: "monitor", processor: "agent", cron_expr: "*/30 * * * *",
    notify_condition: "notify_skip",
    tools: ["web_fetch", "send_message_to_user"],
    prompt: "Check the gold price. If above $3000, send the current price to the user via send_message_to_user. Otherwise respond with [SKIP]."

- "Send hello to Zeynep every 10 minutes"
  → execution: "recurring", processor: "function", cron_expr: "*/10 * * * *",
    tool_name: "send_message_to_user",
    tool_args: {"target_user": "Zeynep", "message": "hello"}

- "Research this topic for me"
  → execution: "immediate", processor: "agent",
    tools: ["web_search", "web_fetch"],
    prompt: "Research the given topic thoroughly and return a clear summary."

- "Every morning at 10am find today's iftar time and send it to Zeynep"
  → execution: "recurring", processor: "agent", cron_expr: "0 10 * * *",
    tools: ["web_search", "web_fetch", "send_message_to_user"],
    prompt: "Search for today's iftar time in Istanbul, then send the result to Zeynep via send_message_to_user."
%s
## Output Format (JSON)
{
  "execution": "immediate|delayed|recurring|monitor",
  "processor": "static|function|agent",
  "delay_seconds": null,
  "cron_expr": null,
  "notify_condition": "always|notify_skip",
  "channel": null,
  "message": null,
  "tool_name": null,
  "tool_args": null,
  "tools": [],
  "prompt": null,
  "model": null
}`

// Planner makes the two orthogonal decisions for a delegated task with a
// single schema-constrained LLM call: when to run (execution) and how to
// run (processor). A response that fails the schema or the cross-field
// rules is a fatal PlanInvalid; there is no fallback plan.
type Planner struct {
	registry   *providers.Registry
	cfg        *config.Config
	logs       store.DelegationLogStore
	toolExists func(string) bool
}

// NewPlanner builds a planner. toolExists checks names against the
// background tool registry and may be nil to skip the check.
func NewPlanner(registry *providers.Registry, cfg *config.Config, logs store.DelegationLogStore, toolExists func(string) bool) *Planner {
	return &Planner{registry: registry, cfg: cfg, logs: logs, toolExists: toolExists}
}

// PlanRequest carries one planning call.
type PlanRequest struct {
	UserID  string
	Task    string
	Catalog string // human-readable background tool catalog
	Channel string // originating channel, the plan's delivery default
}

// Plan asks the planner model for an execution plan and validates it.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	set := p.cfg.DelegationSettings()
	model := p.cfg.DelegationModel()

	ctx, span := tracing.Start(ctx, tracing.SpanPlan,
		attribute.String(tracing.AttrUserID, req.UserID),
		attribute.String(tracing.AttrModel, model),
	)
	defer span.End()

	system := fmt.Sprintf(plannerPrompt, req.Catalog, extraExamples(set.Examples))

	slog.Debug("planner call", "model", model, "task", truncate(req.Task, 60))
	content, err := p.registry.ChatStructured(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: "Task: " + req.Task},
		},
		Model: model,
		Options: map[string]interface{}{
			providers.OptTemperature: set.Temperature,
			providers.OptMaxTokens:   plannerMaxTokens,
		},
	}, &providers.ResponseFormat{Name: "delegation_plan", Schema: planSchemaDoc})
	if err != nil {
		p.log(ctx, req, nil, OutcomeError)
		err = fmt.Errorf("plan task: %w", err)
		tracing.Fail(span, err)
		return nil, err
	}

	plan, err := p.parse(content, req.Channel)
	if err != nil {
		p.log(ctx, req, rawContent(content), OutcomeInvalid)
		tracing.Fail(span, err)
		return nil, err
	}
	p.log(ctx, req, marshalPlan(plan), OutcomePlanned)
	return plan, nil
}

func (p *Planner) parse(content, originChannel string) (*Plan, error) {
	jsonText, err := providers.ExtractJSON(content)
	if err != nil {
		return nil, errdefs.E(errdefs.PlanInvalid, "delegation.parse", err)
	}
	plan, err := parsePlan(jsonText)
	if err != nil {
		return nil, err
	}
	plan.normalize(originChannel)
	if err := plan.Validate(p.toolExists); err != nil {
		return nil, errdefs.E(errdefs.PlanInvalid, "delegation.validate", err)
	}
	return plan, nil
}

// log writes the audit row. Failures are logged, never surfaced: the
// audit trail must not break planning.
func (p *Planner) log(ctx context.Context, req PlanRequest, planJSON json.RawMessage, outcome string) {
	if p.logs == nil {
		return
	}
	err := p.logs.LogDelegation(ctx, &store.DelegationLog{
		UserID:   req.UserID,
		Task:     req.Task,
		PlanJSON: planJSON,
		Outcome:  outcome,
	})
	if err != nil {
		slog.Warn("delegation log write failed", "user", req.UserID, "error", err)
	}
}

func extraExamples(examples []string) string {
	if len(examples) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n## Additional Examples (from config)\n")
	for _, ex := range examples {
		b.WriteString("- " + ex + "\n")
	}
	return b.String()
}

// rawContent preserves an unparseable model response as a JSON string so
// the audit row stays valid for JSONB columns.
func rawContent(content string) json.RawMessage {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil
	}
	return raw
}

func marshalPlan(plan *Plan) json.RawMessage {
	raw, err := json.Marshal(plan)
	if err != nil {
		return nil
	}
	return raw
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
