package delegation

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/omrylcn/gbot/internal/config"
	"github.com/omrylcn/gbot/internal/errdefs"
	"github.com/omrylcn/gbot/internal/providers"
	"github.com/omrylcn/gbot/internal/store"
)

type fakeLLM struct {
	fn func(req providers.ChatRequest) (*providers.ChatResponse, error)
}

func (f *fakeLLM) Name() string         { return "fake" }
func (f *fakeLLM) DefaultModel() string { return "fake-model" }
func (f *fakeLLM) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return f.fn(req)
}

type memDelegationLog struct {
	entries []store.DelegationLog
}

func (m *memDelegationLog) LogDelegation(_ context.Context, e *store.DelegationLog) error {
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memDelegationLog) Delegations(_ context.Context, _ string, _ int) ([]store.DelegationLog, error) {
	return m.entries, nil
}

func newTestPlanner(fn func(providers.ChatRequest) (*providers.ChatResponse, error), toolExists func(string) bool) (*Planner, *memDelegationLog) {
	reg := providers.NewRegistry("fake")
	reg.Register(&fakeLLM{fn: fn}, 0)
	logs := &memDelegationLog{}
	return NewPlanner(reg, config.Default(), logs, toolExists), logs
}

// allFields returns a schema-complete plan document with the given
// overrides, since the structured-output contract requires every key.
func allFields(overrides map[string]interface{}) string {
	doc := map[string]interface{}{
		"execution": "immediate", "processor": "agent",
		"delay_seconds": nil, "cron_expr": nil, "notify_condition": nil,
		"channel": nil, "message": nil, "tool_name": nil, "tool_args": nil,
		"tools": []string{}, "prompt": nil, "model": nil,
	}
	for k, v := range overrides {
		doc[k] = v
	}
	raw, _ := json.Marshal(doc)
	return string(raw)
}

// TestPlanner_Plan covers the happy path: prompt assembly, structured
// request options, normalization of open fields, and the audit row.
func TestPlanner_Plan(t *testing.T) {
	var got providers.ChatRequest
	plan := allFields(map[string]interface{}{
		"execution": "delayed", "processor": "static",
		"delay_seconds": 7200, "message": "Reminder: you have a meeting!",
	})
	p, logs := newTestPlanner(func(req providers.ChatRequest) (*providers.ChatResponse, error) {
		got = req
		return &providers.ChatResponse{Content: plan, FinishReason: "stop"}, nil
	}, nil)

	out, err := p.Plan(context.Background(), PlanRequest{
		UserID:  "u1",
		Task:    "remind me about the meeting in 2 hours",
		Catalog: "- send_message_to_user: Send a message to another user",
		Channel: "telegram",
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if len(got.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(got.Messages))
	}
	system := got.Messages[0]
	if system.Role != "system" || !strings.Contains(system.Content, "task delegation planner") {
		t.Errorf("system message missing planner prompt: %.80s", system.Content)
	}
	if !strings.Contains(system.Content, "- send_message_to_user: Send a message to another user") {
		t.Error("system prompt missing tool catalog")
	}
	if got.Messages[1].Role != "user" || got.Messages[1].Content != "Task: remind me about the meeting in 2 hours" {
		t.Errorf("user message = %q", got.Messages[1].Content)
	}
	if temp := got.Options[providers.OptTemperature]; temp != 0.3 {
		t.Errorf("temperature = %v, want 0.3", temp)
	}
	if mt := got.Options[providers.OptMaxTokens]; mt != plannerMaxTokens {
		t.Errorf("max_tokens = %v, want %d", mt, plannerMaxTokens)
	}
	rf, ok := got.Options[providers.OptResponseFormat].(*providers.ResponseFormat)
	if !ok || rf.Name != "delegation_plan" || rf.Schema == nil {
		t.Fatalf("response_format = %#v", got.Options[providers.OptResponseFormat])
	}

	if out.Execution != ExecDelayed || out.Processor != store.ProcessorStatic {
		t.Errorf("plan axes = %s/%s", out.Execution, out.Processor)
	}
	if out.DelaySeconds != 7200 || out.Message != "Reminder: you have a meeting!" {
		t.Errorf("plan fields = %+v", out)
	}
	if out.Channel != "telegram" {
		t.Errorf("channel = %q, want originating channel", out.Channel)
	}
	if out.NotifyCondition != store.NotifyAlways {
		t.Errorf("notify_condition = %q, want always", out.NotifyCondition)
	}

	if len(logs.entries) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(logs.entries))
	}
	row := logs.entries[0]
	if row.UserID != "u1" || row.Outcome != OutcomePlanned {
		t.Errorf("audit row = %+v", row)
	}
	logged, err := DecodePlan(row.PlanJSON)
	if err != nil {
		t.Fatalf("decode audit plan: %v", err)
	}
	if !reflect.DeepEqual(logged, out) {
		t.Errorf("audit plan %+v != returned plan %+v", logged, out)
	}
}

// TestPlanner_PlanFencedJSON accepts plans wrapped in a markdown fence.
func TestPlanner_PlanFencedJSON(t *testing.T) {
	plan := allFields(map[string]interface{}{
		"processor": "agent", "prompt": "Research the topic.",
		"tools": []string{"web_search"},
	})
	p, _ := newTestPlanner(func(providers.ChatRequest) (*providers.ChatResponse, error) {
		return &providers.ChatResponse{Content: "```json\n" + plan + "\n```"}, nil
	}, nil)

	out, err := p.Plan(context.Background(), PlanRequest{Task: "research", Channel: "ws"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if out.Prompt != "Research the topic." || len(out.Tools) != 1 {
		t.Errorf("plan = %+v", out)
	}
}

// TestPlanner_PlanMonitor forces notify_skip for monitor plans and drops
// placeholder model names.
func TestPlanner_PlanMonitor(t *testing.T) {
	plan := allFields(map[string]interface{}{
		"execution": "monitor", "processor": "agent",
		"cron_expr": "*/30 * * * *", "notify_condition": "always",
		"prompt": "Check gold price. Respond [SKIP] if below threshold.",
		"tools":  []string{"web_fetch"}, "model": "mini",
	})
	p, _ := newTestPlanner(func(providers.ChatRequest) (*providers.ChatResponse, error) {
		return &providers.ChatResponse{Content: plan}, nil
	}, nil)

	out, err := p.Plan(context.Background(), PlanRequest{Task: "gold alert", Channel: "telegram"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if out.NotifyCondition != store.NotifySkip {
		t.Errorf("notify_condition = %q, want notify_skip for monitor", out.NotifyCondition)
	}
	if out.Model != "" {
		t.Errorf("model = %q, want placeholder cleared", out.Model)
	}
}

// TestPlanner_PlanSchemaViolation rejects output outside the closed
// enums as PlanInvalid and keeps the raw response in the audit row.
func TestPlanner_PlanSchemaViolation(t *testing.T) {
	plan := allFields(map[string]interface{}{"processor": "runner"})
	p, logs := newTestPlanner(func(providers.ChatRequest) (*providers.ChatResponse, error) {
		return &providers.ChatResponse{Content: plan}, nil
	}, nil)

	_, err := p.Plan(context.Background(), PlanRequest{UserID: "u1", Task: "do it"})
	if errdefs.KindOf(err) != errdefs.PlanInvalid {
		t.Fatalf("err = %v, want PlanInvalid", err)
	}
	if len(logs.entries) != 1 || logs.entries[0].Outcome != OutcomeInvalid {
		t.Fatalf("audit rows = %+v", logs.entries)
	}
	var raw string
	if err := json.Unmarshal(logs.entries[0].PlanJSON, &raw); err != nil {
		t.Fatalf("audit plan_json not a JSON string: %v", err)
	}
	if !strings.Contains(raw, "runner") {
		t.Errorf("audit row lost the raw response: %q", raw)
	}
}

// TestPlanner_PlanUnknownTool rejects tool names missing from the
// background registry.
func TestPlanner_PlanUnknownTool(t *testing.T) {
	plan := allFields(map[string]interface{}{
		"processor": "function", "tool_name": "teleport_user",
		"tool_args": map[string]interface{}{"x": 1},
	})
	known := func(name string) bool { return name == "send_message_to_user" }
	p, _ := newTestPlanner(func(providers.ChatRequest) (*providers.ChatResponse, error) {
		return &providers.ChatResponse{Content: plan}, nil
	}, known)

	_, err := p.Plan(context.Background(), PlanRequest{Task: "teleport"})
	if errdefs.KindOf(err) != errdefs.PlanInvalid {
		t.Fatalf("err = %v, want PlanInvalid", err)
	}
	if !strings.Contains(err.Error(), "teleport_user") {
		t.Errorf("err = %v, want offending tool named", err)
	}
}

// TestPlanner_PlanProviderError surfaces transport failures unchanged
// and records an error audit row with no plan payload.
func TestPlanner_PlanProviderError(t *testing.T) {
	p, logs := newTestPlanner(func(providers.ChatRequest) (*providers.ChatResponse, error) {
		return nil, errors.New("boom")
	}, nil)

	_, err := p.Plan(context.Background(), PlanRequest{UserID: "u1", Task: "do it"})
	if err == nil {
		t.Fatal("want error")
	}
	if errdefs.KindOf(err) == errdefs.PlanInvalid {
		t.Errorf("provider failure misreported as PlanInvalid: %v", err)
	}
	if len(logs.entries) != 1 || logs.entries[0].Outcome != OutcomeError || logs.entries[0].PlanJSON != nil {
		t.Fatalf("audit rows = %+v", logs.entries)
	}
}

// TestPlan_Validate exercises the cross-field rules the JSON schema
// cannot express.
func TestPlan_Validate(t *testing.T) {
	known := func(name string) bool {
		return name == "web_fetch" || name == "send_message_to_user"
	}
	tests := []struct {
		name    string
		plan    Plan
		wantErr string
	}{
		{
			name: "delayed without delay",
			plan: Plan{Execution: ExecDelayed, Processor: store.ProcessorStatic,
				NotifyCondition: store.NotifyAlways, Message: "hi"},
			wantErr: "delay_seconds",
		},
		{
			name: "recurring with bad cron",
			plan: Plan{Execution: ExecRecurring, Processor: store.ProcessorStatic,
				NotifyCondition: store.NotifyAlways, CronExpr: "every 5 minutes", Message: "hi"},
			wantErr: "cron",
		},
		{
			name: "static without message",
			plan: Plan{Execution: ExecImmediate, Processor: store.ProcessorStatic,
				NotifyCondition: store.NotifyAlways},
			wantErr: "message",
		},
		{
			name: "function without tool",
			plan: Plan{Execution: ExecImmediate, Processor: store.ProcessorFunction,
				NotifyCondition: store.NotifyAlways},
			wantErr: "tool_name",
		},
		{
			name: "agent without prompt",
			plan: Plan{Execution: ExecImmediate, Processor: store.ProcessorAgent,
				NotifyCondition: store.NotifyAlways},
			wantErr: "prompt",
		},
		{
			name: "agent with unknown tool",
			plan: Plan{Execution: ExecImmediate, Processor: store.ProcessorAgent,
				NotifyCondition: store.NotifyAlways, Prompt: "go",
				Tools: []string{"web_fetch", "mystery"}},
			wantErr: "mystery",
		},
		{
			name: "valid recurring agent",
			plan: Plan{Execution: ExecRecurring, Processor: store.ProcessorAgent,
				NotifyCondition: store.NotifyAlways, CronExpr: "0 9 * * *",
				Prompt: "report weather", Tools: []string{"web_fetch"}},
		},
		{
			name: "valid delayed function",
			plan: Plan{Execution: ExecDelayed, Processor: store.ProcessorFunction,
				NotifyCondition: store.NotifyAlways, DelaySeconds: 300,
				ToolName: "send_message_to_user"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate(known)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

// TestPlan_RoundTrip re-parses a serialized plan into an equal plan.
func TestPlan_RoundTrip(t *testing.T) {
	orig := &Plan{
		Execution:       ExecMonitor,
		Processor:       store.ProcessorAgent,
		CronExpr:        "*/30 * * * *",
		NotifyCondition: store.NotifySkip,
		Channel:         "telegram",
		Prompt:          "Check gold price. Otherwise [SKIP].",
		Tools:           []string{"web_fetch", "send_message_to_user"},
		ToolArgs:        map[string]interface{}{"limit": "10"},
	}
	raw, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := DecodePlan(raw)
	if err != nil {
		t.Fatalf("DecodePlan: %v", err)
	}
	if !reflect.DeepEqual(orig, back) {
		t.Errorf("round trip changed plan:\n  orig %+v\n  back %+v", orig, back)
	}
}
