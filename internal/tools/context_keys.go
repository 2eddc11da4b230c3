package tools

import "context"

// Tool execution context keys.
// These replace mutable setter fields on tool instances, making tools
// thread-safe for concurrent execution. Values are injected into context
// by the agent graph (or the scheduler dispatcher) and read by individual
// tools during Execute().

type toolContextKey string

const (
	ctxUserID    toolContextKey = "tool_user_id"
	ctxChannel   toolContextKey = "tool_channel"
	ctxSessionID toolContextKey = "tool_session_id"
)

func WithToolUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserID, userID)
}

func ToolUserIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserID).(string)
	return v
}

func WithToolChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ctxChannel, channel)
}

func ToolChannelFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxChannel).(string)
	return v
}

func WithToolSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ctxSessionID, sessionID)
}

func ToolSessionIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxSessionID).(string)
	return v
}
