package tools

import (
	"context"
	"fmt"

	"github.com/hivemind-dev/hivemind/internal/convo"
)

// CompressContextTool replaces the middle of the caller's history with an
// LLM-provided summary. The handler applies the conversation side effect on
// the caller's own history.
type CompressContextTool struct{ orch Orchestrator }

func NewCompressContextTool(orch Orchestrator) *CompressContextTool {
	return &CompressContextTool{orch: orch}
}

func (t *CompressContextTool) Name() string { return "compress_context" }
func (t *CompressContextTool) Description() string {
	return "Compress your conversation history: keep the system prompt and recent entries, replace the rest with your summary."
}
func (t *CompressContextTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{"type": "string", "description": "Summary of the history being replaced"},
			"keepRecentCount": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("How many recent entries to keep (default %d)", convo.DefaultKeepRecent),
			},
		},
		"required": []string{"summary"},
	}
}

func (t *CompressContextTool) Execute(ctx context.Context, args map[string]any) *Result {
	summary, _ := args["summary"].(string)
	if summary == "" {
		return ErrorResult("summary is required")
	}
	keepRecent := convo.DefaultKeepRecent
	if k, ok := args["keepRecentCount"].(float64); ok && int(k) > 0 {
		keepRecent = int(k)
	}
	res, err := t.orch.Compress(AgentIDFromCtx(ctx), summary, keepRecent)
	if err != nil {
		return ErrorResult(fmt.Sprintf("compress failed: %v", err)).WithError(err)
	}
	return JSONResult(res)
}

// GetContextStatusTool reports window usage so agents can decide when to
// compress.
type GetContextStatusTool struct{ orch Orchestrator }

func NewGetContextStatusTool(orch Orchestrator) *GetContextStatusTool {
	return &GetContextStatusTool{orch: orch}
}

func (t *GetContextStatusTool) Name() string { return "get_context_status" }
func (t *GetContextStatusTool) Description() string {
	return "Report your context window usage: used tokens, max tokens, percentage and status."
}
func (t *GetContextStatusTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *GetContextStatusTool) Execute(ctx context.Context, args map[string]any) *Result {
	return JSONResult(t.orch.ContextStatus(AgentIDFromCtx(ctx)))
}
