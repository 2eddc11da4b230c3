package agent

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/omrylcn/gbot/internal/providers"
	"github.com/omrylcn/gbot/internal/tokenizer"
	"github.com/omrylcn/gbot/internal/tools"
	"github.com/omrylcn/gbot/internal/tracing"
)

const (
	// lightIterationLimit bounds the reason/execute loop of a LightAgent.
	lightIterationLimit = 5

	lightFinalNudge = "Summarize your findings now. Do not make any more tool calls."
)

// LightConfig builds a LightAgent for one background task.
type LightConfig struct {
	Providers *providers.Registry
	Tools     *tools.Registry // background-safe subregistry
	Prompt    string          // system prompt, verbatim from the plan
	ToolNames []string        // tool subset; empty means no tools at all
	Model     string          // empty falls back to the registry default
	Counter   tokenizer.Counter
}

// LightAgent is the isolated agent behind scheduled jobs and delegated
// background tasks. It carries no session, no history, and no context
// layers: one system prompt, one user message, a small tool subset, and
// a hard iteration bound. Anything it wants a user to see it must send
// itself through a messaging tool.
type LightAgent struct {
	providers *providers.Registry
	registry  *tools.Registry
	prompt    string
	allowed   map[string]struct{}
	model     string
	counter   tokenizer.Counter
}

// LightResult is the outcome of one background run.
type LightResult struct {
	Text        string
	Tokens      int
	ToolsCalled []string
}

func NewLightAgent(cfg LightConfig) *LightAgent {
	counter := cfg.Counter
	if counter == nil {
		counter = tokenizer.Heuristic()
	}
	allowed := make(map[string]struct{}, len(cfg.ToolNames))
	for _, name := range cfg.ToolNames {
		allowed[name] = struct{}{}
	}
	return &LightAgent{
		providers: cfg.Providers,
		registry:  cfg.Tools,
		prompt:    cfg.Prompt,
		allowed:   allowed,
		model:     cfg.Model,
		counter:   counter,
	}
}

// Run executes the task message to completion: reason, execute tools,
// repeat, stopping at the first assistant message without tool calls.
// When the bound is hit mid-flight, one final call without tool
// definitions forces a textual answer out of the model.
func (a *LightAgent) Run(ctx context.Context, message string) (*LightResult, error) {
	ctx, span := tracing.Start(ctx, tracing.SpanLightAgent,
		attribute.String(tracing.AttrModel, a.model),
	)
	defer span.End()

	msgs := []providers.Message{
		{Role: "system", Content: a.prompt},
		{Role: "user", Content: message},
	}
	defs := a.registry.Definitions(a.allows)
	res := &LightResult{}

	for i := 0; i < lightIterationLimit; i++ {
		resp, err := a.providers.Chat(ctx, providers.ChatRequest{
			Messages: msgs,
			Tools:    defs,
			Model:    a.model,
		})
		if err != nil {
			return nil, err
		}
		a.addUsage(res, msgs, resp)
		msgs = append(msgs, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			Reasoning: resp.Reasoning,
		})
		if len(resp.ToolCalls) == 0 {
			res.Text = resp.Content
			return res, nil
		}
		for _, call := range resp.ToolCalls {
			res.ToolsCalled = append(res.ToolsCalled, call.Name)
			msgs = append(msgs, providers.Message{
				Role:       "tool",
				Content:    a.executeCall(ctx, call),
				ToolCallID: call.ID,
			})
		}
	}

	slog.Warn("background agent hit iteration limit", "limit", lightIterationLimit, "model", a.model)
	msgs = append(msgs, providers.Message{Role: "user", Content: lightFinalNudge})
	resp, err := a.providers.Chat(ctx, providers.ChatRequest{Messages: msgs, Model: a.model})
	if err != nil {
		return nil, err
	}
	a.addUsage(res, msgs, resp)
	res.Text = resp.Content
	return res, nil
}

func (a *LightAgent) allows(name string) bool {
	_, ok := a.allowed[name]
	return ok
}

func (a *LightAgent) executeCall(ctx context.Context, call providers.ToolCall) (out string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("background tool panicked", "tool", call.Name, "panic", r)
			out = fmt.Sprintf("Tool error: %v", r)
		}
	}()

	if !a.allows(call.Name) {
		return fmt.Sprintf("Tool '%s' is not allowed for this task.", call.Name)
	}
	tool, ok := a.registry.Get(call.Name)
	if !ok {
		return fmt.Sprintf("Tool '%s' not found", call.Name)
	}

	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	result := tool.Execute(ctx, args)
	if result == nil {
		return fmt.Sprintf("Tool error: %s returned no result", call.Name)
	}
	if result.IsError {
		slog.Warn("background tool returned error", "tool", call.Name, "result", result.ForLLM)
	}
	return result.ForLLM
}

func (a *LightAgent) addUsage(res *LightResult, msgs []providers.Message, resp *providers.ChatResponse) {
	if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
		res.Tokens += resp.Usage.TotalTokens
		return
	}
	n := 0
	for _, m := range msgs {
		n += a.counter.Count(m.Content)
	}
	res.Tokens += n
}
