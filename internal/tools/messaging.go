package tools

import (
	"context"
	"fmt"

	"github.com/hivemind-dev/hivemind/internal/bus"
)

// SendMessageTool is the only way an agent's output reaches anyone else.
// From and taskId come from the caller context, never from arguments.
type SendMessageTool struct{ orch Orchestrator }

func NewSendMessageTool(orch Orchestrator) *SendMessageTool {
	return &SendMessageTool{orch: orch}
}

func (t *SendMessageTool) Name() string { return "send_message" }
func (t *SendMessageTool) Description() string {
	return "Send a message to another agent or the user. Use delayMs to schedule future delivery."
}
func (t *SendMessageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to": map[string]any{"type": "string", "description": "Recipient agent id, or 'user'"},
			"payload": map[string]any{
				"type":        "object",
				"description": "Free-form payload; put human-readable text under 'text'",
			},
			"delayMs": map[string]any{"type": "integer", "description": "Delivery delay in milliseconds (optional)"},
		},
		"required": []string{"to", "payload"},
	}
}

func (t *SendMessageTool) Execute(ctx context.Context, args map[string]any) *Result {
	to, _ := args["to"].(string)
	if to == "" {
		return ErrorResult("to is required")
	}
	payload, _ := args["payload"].(map[string]any)
	if payload == nil {
		// Tolerate a bare string payload; wrap it the way agents expect.
		if s, ok := args["payload"].(string); ok {
			payload = map[string]any{"text": s}
		} else {
			return ErrorResult("payload is required")
		}
	}
	var delayMs int64
	if d, ok := args["delayMs"].(float64); ok {
		delayMs = int64(d)
	}

	receipt, err := t.orch.Send(bus.SendRequest{
		To:      to,
		From:    AgentIDFromCtx(ctx),
		TaskID:  TaskIDFromCtx(ctx),
		Payload: payload,
		DelayMs: delayMs,
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("send failed: %v", err)).WithError(err)
	}
	out := map[string]any{"messageId": receipt.MessageID}
	if receipt.ScheduledDeliveryTime != 0 {
		out["scheduledDeliveryTime"] = receipt.ScheduledDeliveryTime
	}
	return JSONResult(out)
}
