package tools

import "context"

// Tool execution context keys. The handler injects the calling agent's
// identity before each dispatch; tools read it instead of carrying mutable
// per-call state.

type toolContextKey string

const (
	ctxAgentID toolContextKey = "tool_agent_id"
	ctxTaskID  toolContextKey = "tool_task_id"
)

func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, ctxAgentID, agentID)
}

func AgentIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxAgentID).(string)
	return v
}

func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, ctxTaskID, taskID)
}

func TaskIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxTaskID).(string)
	return v
}
