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

// Node names of the turn state machine.
const (
	nodeLoadContext  = "load_context"
	nodeReason       = "reason"
	nodeExecuteTools = "execute_tools"
	nodeRespond      = "respond"
)

// DefaultIterationLimit bounds reason/execute_tools loops per turn.
const DefaultIterationLimit = 8

// GraphConfig configures a Graph.
type GraphConfig struct {
	Providers      *providers.Registry
	Tools          *tools.Registry
	Context        *ContextBuilder
	Model          string
	Temperature    float64
	IterationLimit int
	Counter        tokenizer.Counter
}

// Graph is the four-node turn state machine:
//
//	load_context → reason ⇄ execute_tools → respond
//
// It is compiled once at startup with the full tool set; per-turn RBAC
// filtering happens on the State's allowances. The graph mutates only
// the State it is given and persists nothing.
type Graph struct {
	providers      *providers.Registry
	tools          *tools.Registry
	context        *ContextBuilder
	model          string
	temperature    float64
	iterationLimit int
	counter        tokenizer.Counter
}

func NewGraph(cfg GraphConfig) *Graph {
	limit := cfg.IterationLimit
	if limit <= 0 {
		limit = DefaultIterationLimit
	}
	counter := cfg.Counter
	if counter == nil {
		counter = tokenizer.Heuristic()
	}
	return &Graph{
		providers:      cfg.Providers,
		tools:          cfg.Tools,
		context:        cfg.Context,
		model:          cfg.Model,
		temperature:    cfg.Temperature,
		iterationLimit: limit,
		counter:        counter,
	}
}

// Run drives the state machine to respond. It returns an error only
// when the turn is aborted (context cancellation); model and tool
// failures surface as synthetic messages inside the state.
func (g *Graph) Run(ctx context.Context, st *State) error {
	ctx = tools.WithToolUserID(ctx, st.UserID)
	ctx = tools.WithToolChannel(ctx, st.Channel)
	ctx = tools.WithToolSessionID(ctx, st.SessionID)

	node := nodeLoadContext
	for {
		var next string
		var err error
		switch node {
		case nodeLoadContext:
			next, err = g.loadContext(ctx, st)
		case nodeReason:
			next, err = g.reason(ctx, st)
		case nodeExecuteTools:
			next, err = g.executeTools(ctx, st)
		case nodeRespond:
			slog.Debug("turn finished",
				"user", st.UserID, "session", st.SessionID,
				"iterations", st.Iteration, "tokens", st.TokenCount)
			return nil
		default:
			return fmt.Errorf("graph: unknown node %q", node)
		}
		if err != nil {
			return err
		}
		node = next
	}
}

func (g *Graph) loadContext(ctx context.Context, st *State) (string, error) {
	if st.SkipContext {
		st.System = g.context.Identity()
		slog.Debug("identity-only context", "user", st.UserID)
		return nodeReason, nil
	}
	st.System = g.context.Build(ctx, st.UserID, st.Role, st.AllowedLayers)
	slog.Debug("context built", "user", st.UserID, "role", st.Role)
	return nodeReason, nil
}

func (g *Graph) reason(ctx context.Context, st *State) (string, error) {
	ctx, span := tracing.Start(ctx, tracing.SpanReason,
		attribute.String(tracing.AttrUserID, st.UserID),
		attribute.Int(tracing.AttrIteration, st.Iteration),
	)
	defer span.End()

	msgs := make([]providers.Message, 0, len(st.Messages)+1)
	msgs = append(msgs, providers.Message{Role: "system", Content: st.System})
	msgs = append(msgs, st.Messages...)

	resp, err := g.providers.Chat(ctx, providers.ChatRequest{
		Messages: msgs,
		Tools:    g.tools.Definitions(st.AllowedTools.Allows),
		Model:    g.model,
		Options:  map[string]interface{}{providers.OptTemperature: g.temperature},
	})
	if err != nil {
		tracing.Fail(span, err)
		if ctx.Err() != nil {
			return "", err
		}
		// The caller sees model failures as a final assistant message,
		// never as a dropped turn.
		slog.Error("model call failed", "user", st.UserID, "model", g.model, "error", err)
		st.Messages = append(st.Messages, providers.Message{
			Role:    "assistant",
			Content: fmt.Sprintf("(model error: %v)", err),
		})
		st.Iteration++
		return nodeRespond, nil
	}

	st.Messages = append(st.Messages, providers.Message{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
		Reasoning: resp.Reasoning,
	})
	g.addUsage(st, resp)
	st.Iteration++

	if st.Iteration >= g.iterationLimit {
		if len(resp.ToolCalls) > 0 {
			slog.Warn("iteration limit reached, forcing respond",
				"user", st.UserID, "limit", g.iterationLimit)
		}
		return nodeRespond, nil
	}
	if len(resp.ToolCalls) > 0 {
		return nodeExecuteTools, nil
	}
	return nodeRespond, nil
}

// addUsage accumulates the provider-reported spend; without usage data
// it falls back to a tokenizer estimate over the full context.
func (g *Graph) addUsage(st *State, resp *providers.ChatResponse) {
	if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
		st.TokenCount += resp.Usage.TotalTokens
		return
	}
	n := g.counter.Count(st.System)
	for _, m := range st.Messages {
		n += g.counter.Count(m.Content)
	}
	st.TokenCount += n
}

func (g *Graph) executeTools(ctx context.Context, st *State) (string, error) {
	last := st.Messages[len(st.Messages)-1]

	ctx, span := tracing.Start(ctx, tracing.SpanExecuteTools,
		attribute.String(tracing.AttrUserID, st.UserID),
		attribute.Int(tracing.AttrIteration, st.Iteration),
	)
	defer span.End()

	// Sequential, in call order; every call gets exactly one tool message.
	for _, call := range last.ToolCalls {
		st.Messages = append(st.Messages, providers.Message{
			Role:       "tool",
			Content:    g.executeCall(ctx, st, call),
			ToolCallID: call.ID,
		})
	}
	return nodeReason, nil
}

// executeCall runs one tool call under the RBAC guard and returns the
// tool message content. The guard is the second layer: the model only
// saw allowed definitions, but a hallucinated or replayed call must
// still be refused here.
func (g *Graph) executeCall(ctx context.Context, st *State, call providers.ToolCall) (out string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked", "tool", call.Name, "panic", r)
			out = fmt.Sprintf("Tool error: %v", r)
		}
	}()

	if !st.AllowedTools.Allows(call.Name) {
		slog.Warn("tool call denied", "user", st.UserID, "role", st.Role, "tool", call.Name)
		return fmt.Sprintf("Permission denied: '%s' is not available for role '%s'.", call.Name, st.Role)
	}

	tool, ok := g.tools.Get(call.Name)
	if !ok {
		slog.Warn("tool not found", "tool", call.Name)
		return fmt.Sprintf("Tool '%s' not found", call.Name)
	}

	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	// Tools that accept a channel get the session channel unless the
	// model chose one explicitly.
	if st.Channel != "" && acceptsChannel(tool) {
		if v, ok := args["channel"].(string); !ok || v == "" {
			args["channel"] = st.Channel
			slog.Debug("channel injected", "tool", call.Name, "channel", st.Channel)
		}
	}

	slog.Debug("executing tool", "tool", call.Name, "user", st.UserID)
	result := tool.Execute(ctx, args)
	if result == nil {
		return fmt.Sprintf("Tool error: %s returned no result", call.Name)
	}
	if result.IsError {
		slog.Warn("tool returned error", "tool", call.Name, "result", result.ForLLM, "error", result.Err)
	}
	return result.ForLLM
}

// acceptsChannel reports whether the tool's parameter schema declares a
// channel property.
func acceptsChannel(tool tools.Tool) bool {
	props, ok := tool.Parameters()["properties"].(map[string]interface{})
	if !ok {
		return false
	}
	_, ok = props["channel"]
	return ok
}
