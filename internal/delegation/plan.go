// Package delegation plans background work. A single structured LLM call
// turns a natural-language task into a typed ExecutionPlan that the
// scheduler and subagent worker know how to run.
package delegation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/omrylcn/gbot/internal/errdefs"
	"github.com/omrylcn/gbot/internal/store"
)

// Execution kinds: when a plan runs.
const (
	ExecImmediate = "immediate"
	ExecDelayed   = "delayed"
	ExecRecurring = "recurring"
	ExecMonitor   = "monitor"
)

// Plan describes one unit of background work on two independent axes:
// execution (when) and processor (how). Processor values come from the
// store package; plans are persisted as JSON on cron job, reminder, and
// task rows.
type Plan struct {
	Execution       string                 `json:"execution"`
	Processor       string                 `json:"processor"`
	DelaySeconds    int                    `json:"delay_seconds,omitempty"`
	CronExpr        string                 `json:"cron_expr,omitempty"`
	NotifyCondition string                 `json:"notify_condition,omitempty"`
	Channel         string                 `json:"channel,omitempty"`
	Message         string                 `json:"message,omitempty"`
	ToolName        string                 `json:"tool_name,omitempty"`
	ToolArgs        map[string]interface{} `json:"tool_args,omitempty"`
	Prompt          string                 `json:"prompt,omitempty"`
	Tools           []string               `json:"tools,omitempty"`
	Model           string                 `json:"model,omitempty"`
}

// planSchemaJSON is the structured-output contract sent to the provider
// and enforced locally on whatever comes back. Every field is required
// with null allowed so strict providers never invent extras.
const planSchemaJSON = `{
  "type": "object",
  "properties": {
    "execution": {"type": "string", "enum": ["immediate", "delayed", "recurring", "monitor"]},
    "processor": {"type": "string", "enum": ["static", "function", "agent"]},
    "delay_seconds": {"type": ["integer", "null"]},
    "cron_expr": {"type": ["string", "null"]},
    "notify_condition": {"type": ["string", "null"], "enum": ["always", "notify_skip", null]},
    "channel": {"type": ["string", "null"]},
    "message": {"type": ["string", "null"]},
    "tool_name": {"type": ["string", "null"]},
    "tool_args": {"type": ["object", "null"]},
    "tools": {"type": ["array", "null"], "items": {"type": "string"}},
    "prompt": {"type": ["string", "null"]},
    "model": {"type": ["string", "null"]}
  },
  "required": ["execution", "processor", "delay_seconds", "cron_expr", "notify_condition", "channel", "message", "tool_name", "tool_args", "tools", "prompt", "model"],
  "additionalProperties": false
}`

var (
	planSchema    = mustCompileSchema(planSchemaJSON)
	planSchemaDoc = mustSchemaDoc(planSchemaJSON)
)

func mustCompileSchema(src string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("plan.json", doc); err != nil {
		panic(err)
	}
	s, err := c.Compile("plan.json")
	if err != nil {
		panic(err)
	}
	return s
}

func mustSchemaDoc(src string) map[string]interface{} {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(src), &doc); err != nil {
		panic(err)
	}
	return doc
}

// DecodePlan reads a plan back from a persisted row.
func DecodePlan(raw json.RawMessage) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &p, nil
}

// normalize fills derivable fields after a successful parse: the
// originating channel when the planner left it open, the notify condition
// implied by the execution kind, and drops model strings that do not look
// like real model ids (the LLM sometimes answers "default" or "main").
func (p *Plan) normalize(originChannel string) {
	if p.Channel == "" {
		p.Channel = originChannel
	}
	switch {
	case p.Execution == ExecMonitor:
		p.NotifyCondition = store.NotifySkip
	case p.NotifyCondition == "":
		p.NotifyCondition = store.NotifyAlways
	}
	if p.Model != "" && (!strings.Contains(p.Model, "/") || len(p.Model) <= 5) {
		p.Model = ""
	}
	// Canonical empty collections, so a serialized plan re-parses equal.
	if len(p.Tools) == 0 {
		p.Tools = nil
	}
	if len(p.ToolArgs) == 0 {
		p.ToolArgs = nil
	}
}

// Validate enforces the cross-field rules the schema cannot express.
// toolExists checks names against the background registry; nil skips
// that check (rehydrated plans were validated when created).
func (p *Plan) Validate(toolExists func(string) bool) error {
	switch p.Execution {
	case ExecImmediate, ExecDelayed, ExecRecurring, ExecMonitor:
	default:
		return fmt.Errorf("unknown execution %q", p.Execution)
	}
	switch p.Processor {
	case store.ProcessorStatic, store.ProcessorFunction, store.ProcessorAgent:
	default:
		return fmt.Errorf("unknown processor %q", p.Processor)
	}
	switch p.NotifyCondition {
	case store.NotifyAlways, store.NotifySkip:
	default:
		return fmt.Errorf("unknown notify condition %q", p.NotifyCondition)
	}

	switch p.Execution {
	case ExecDelayed:
		if p.DelaySeconds <= 0 {
			return fmt.Errorf("delayed execution needs delay_seconds > 0, got %d", p.DelaySeconds)
		}
	case ExecRecurring, ExecMonitor:
		if !validCron(p.CronExpr) {
			return fmt.Errorf("invalid cron expression %q", p.CronExpr)
		}
	}

	switch p.Processor {
	case store.ProcessorStatic:
		if strings.TrimSpace(p.Message) == "" {
			return fmt.Errorf("static processor needs a message")
		}
	case store.ProcessorFunction:
		if p.ToolName == "" {
			return fmt.Errorf("function processor needs a tool_name")
		}
		if toolExists != nil && !toolExists(p.ToolName) {
			return fmt.Errorf("unknown tool %q", p.ToolName)
		}
	case store.ProcessorAgent:
		if strings.TrimSpace(p.Prompt) == "" {
			return fmt.Errorf("agent processor needs a prompt")
		}
		if toolExists != nil {
			for _, name := range p.Tools {
				if !toolExists(name) {
					return fmt.Errorf("unknown tool %q", name)
				}
			}
		}
	}
	return nil
}

func validCron(expr string) bool {
	return gronx.New().IsValid(expr)
}

// parsePlan runs the LLM output through schema validation and decodes it.
func parsePlan(jsonText string) (*Plan, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonText))
	if err != nil {
		return nil, errdefs.Errorf(errdefs.PlanInvalid, "delegation.parse", "decode plan: %v", err)
	}
	if err := planSchema.Validate(doc); err != nil {
		return nil, errdefs.E(errdefs.PlanInvalid, "delegation.parse", err)
	}
	var p Plan
	if err := json.Unmarshal([]byte(jsonText), &p); err != nil {
		return nil, errdefs.Errorf(errdefs.PlanInvalid, "delegation.parse", "decode plan: %v", err)
	}
	return &p, nil
}
