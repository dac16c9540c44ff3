package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hivemind-dev/hivemind/internal/bus"
	"github.com/hivemind-dev/hivemind/internal/convo"
	"github.com/hivemind-dev/hivemind/internal/llm"
	"github.com/hivemind-dev/hivemind/internal/org"
	"github.com/hivemind-dev/hivemind/internal/telemetry"
	"github.com/hivemind-dev/hivemind/internal/tools"
)

// runTurn executes one agent turn: ingest the envelope (merging anything else
// already queued), then drive the LLM tool loop to quiescence. The agent's
// only externally visible output is the send_message calls it makes.
func (rt *Runtime) runTurn(ctx context.Context, agentID string, env *bus.Envelope) {
	defer rt.finishTurn(agentID)
	rt.setStatus(agentID, org.StatusProcessing)

	ctx, span := telemetry.Tracer().Start(ctx, "agent.turn")
	span.SetAttributes(attribute.String("agent.id", agentID), attribute.String("message.id", env.ID))
	defer span.End()

	// Context-exceeded guard. First guarded turn skips the LLM entirely and
	// leaves an advisory; the next turn is allowed through so the agent can
	// actually run compress_context.
	status := rt.convos.GetContextStatus(agentID)
	guarded := false
	if status.Status == convo.ContextExceeded {
		rt.guardMu.Lock()
		strikes := rt.guardStrikes[agentID]
		rt.guardStrikes[agentID] = strikes + 1
		rt.guardMu.Unlock()

		if strikes == 0 {
			rt.ingest(agentID, env)
			rt.convos.Append(agentID, convo.Entry{
				Role:    convo.RoleUser,
				Content: "[system] Context window exceeded. You must call compress_context before anything else; the message above is queued in your history.",
			})
			slog.Warn("context exceeded, llm call skipped", "agent", agentID, "usedTokens", status.UsedTokens)
			span.SetAttributes(attribute.Bool("context.guarded", true))
			return
		}
		guarded = true
	}

	role := rt.roleOf(agentID)
	rt.convos.Ensure(agentID, rt.builder.SystemPrompt(agentID))
	rt.convos.SetSystem(agentID, rt.builder.SystemPrompt(agentID))

	// A previous turn may have been interrupted mid tool loop; drop the
	// unresolved assistant tail so the history stays consistent.
	if rt.convos.StripUnresolvedTail(agentID) {
		slog.Info("stripped unresolved tool calls from interrupted turn", "agent", agentID)
	}

	rt.ingest(agentID, env)
	// Merge anything that arrived while this agent was queued or interrupted.
	for {
		extra := rt.bus.ReceiveNext(agentID)
		if extra == nil {
			break
		}
		rt.ingest(agentID, extra)
	}

	rt.toolLoop(ctx, agentID, role, guarded)
	rt.events.Broadcast(bus.Event{Name: EventMessageHandled, Payload: map[string]any{
		"agent": agentID, "messageId": env.ID,
	}})

	// Compression progress clears guard strikes; a still-exceeded window
	// after a guarded turn escalates to the parent.
	if rt.convos.GetContextStatus(agentID).Status != convo.ContextExceeded {
		rt.guardMu.Lock()
		delete(rt.guardStrikes, agentID)
		rt.guardMu.Unlock()
	} else if guarded {
		rt.notifyError(agentID, "context_exceeded", "context window still exceeded after compression was requested")
		span.SetStatus(codes.Error, "context_exceeded")
	}
}

// ingest appends one inbound envelope as a formatted user entry and records
// the correspondent.
func (rt *Runtime) ingest(agentID string, env *bus.Envelope) {
	if env.TaskID != "" {
		rt.taskMu.Lock()
		rt.activeTask[agentID] = env.TaskID
		rt.taskMu.Unlock()
	}
	rt.registry.RecordCorrespondent(agentID, env.From)
	rt.convos.Ensure(agentID, rt.builder.SystemPrompt(agentID))
	rt.convos.Append(agentID, convo.Entry{
		Role:    convo.RoleUser,
		Content: rt.builder.FormatInbound(agentID, env),
	})
}

// toolLoop calls the LLM and dispatches tool calls until the model stops
// asking for tools or the round budget runs out.
func (rt *Runtime) toolLoop(ctx context.Context, agentID string, role *org.Role, guarded bool) {
	maxRounds := rt.cfg.Runtime.MaxToolRounds
	defs := rt.toolset.DefsFor(role)
	serviceID := ""
	if role != nil {
		serviceID = role.LLMServiceID
	}

	for round := 0; round < maxRounds; round++ {
		rt.setStatus(agentID, org.StatusWaitingLLM)
		resp, err := rt.chat(ctx, agentID, llm.Request{
			Messages:  rt.convos.History(agentID),
			Tools:     defs,
			ServiceID: serviceID,
		})
		rt.setStatus(agentID, org.StatusProcessing)

		if err != nil {
			if llm.IsAbort(err) {
				// Interrupted by a newer message; the scheduler redispatches
				// with everything merged. Appended entries stay.
				slog.Info("llm call interrupted", "agent", agentID)
				return
			}
			slog.Error("llm call failed", "agent", agentID, "error", err)
			rt.convos.Append(agentID, convo.Entry{
				Role:    convo.RoleAssistant,
				Content: fmt.Sprintf("[llm error] request failed: %v", err),
			})
			rt.notifyError(agentID, "llm_transport_error", err.Error())
			return
		}

		rt.convos.Append(agentID, convo.Entry{
			Role:             convo.RoleAssistant,
			Content:          resp.Content,
			ToolCalls:        resp.ToolCalls,
			ReasoningContent: resp.ReasoningContent,
		})
		rt.convos.UpdateTokenUsage(agentID, resp.Usage)
		rt.events.Broadcast(bus.Event{Name: EventTokenUsage, Payload: map[string]any{
			"agent": agentID, "status": rt.convos.GetContextStatus(agentID),
		}})

		if len(resp.ToolCalls) == 0 {
			return // quiescent; plain assistant text is not delivered anywhere
		}
		for _, tc := range resp.ToolCalls {
			rt.execTool(ctx, agentID, role, tc)
		}
		// Termination can race the loop when a parent kills this agent while
		// it still has rounds to go.
		switch rt.registry.Status(agentID) {
		case org.StatusTerminating, org.StatusTerminated:
			return
		}
	}

	slog.Warn("tool round budget exhausted", "agent", agentID, "rounds", maxRounds)
	rt.convos.Append(agentID, convo.Entry{
		Role:    convo.RoleAssistant,
		Content: "[system] Tool round budget exhausted; the turn was stopped. Summarize where you are and wait for the next message.",
	})
	rt.notifyError(agentID, "tool_rounds_exceeded", fmt.Sprintf("agent used all %d tool rounds in one turn", maxRounds))
}

// chat wraps the pool call in a span.
func (rt *Runtime) chat(ctx context.Context, agentID string, req llm.Request) (*llm.Response, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "llm.chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.id", agentID),
		attribute.Int("llm.messages", len(req.Messages)),
	)
	resp, err := rt.pool.Chat(ctx, agentID, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp, nil
}

// execTool dispatches one tool call and appends its tool entry.
func (rt *Runtime) execTool(ctx context.Context, agentID string, role *org.Role, tc convo.ToolCall) {
	ctx, span := telemetry.Tracer().Start(ctx, "tool.exec")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", tc.Function.Name), attribute.String("agent.id", agentID))

	toolCtx := tools.WithAgentID(ctx, agentID)
	if taskID := rt.currentTaskID(agentID); taskID != "" {
		toolCtx = tools.WithTaskID(toolCtx, taskID)
	}
	result := rt.toolset.Execute(toolCtx, role, tc.Function.Name, tc.Function.Arguments)
	if result.IsError {
		span.SetStatus(codes.Error, result.ForLLM)
	}

	entry := convo.Entry{
		Role:       convo.RoleTool,
		Content:    result.ForLLM,
		ToolCallID: tc.ID,
	}
	if result.ImageURL != "" {
		entry.Content = ""
		entry.Parts = []convo.ContentPart{
			{Type: "text", Text: result.ForLLM},
			{Type: "image_url", ImageURL: result.ImageURL},
		}
	}
	rt.convos.Append(agentID, entry)
}

// currentTaskID returns the taskId of the turn in progress.
func (rt *Runtime) currentTaskID(agentID string) string {
	rt.taskMu.RLock()
	defer rt.taskMu.RUnlock()
	return rt.activeTask[agentID]
}

// finishTurn restores the post-turn compute status. Stopping resolves to
// stopped, termination states are left alone, everything else returns to
// idle.
func (rt *Runtime) finishTurn(agentID string) {
	if r := recover(); r != nil {
		slog.Error("turn handler panicked", "agent", agentID, "panic", r)
	}
	rt.taskMu.Lock()
	delete(rt.activeTask, agentID)
	rt.taskMu.Unlock()
	switch rt.registry.Status(agentID) {
	case org.StatusStopping:
		rt.setStatus(agentID, org.StatusStopped)
	case org.StatusTerminating, org.StatusTerminated:
		// leave as-is
	default:
		rt.setStatus(agentID, org.StatusIdle)
	}
	rt.sched.turnDone(agentID)
}

// roleOf resolves the agent's role, nil when unknown.
func (rt *Runtime) roleOf(agentID string) *org.Role {
	agent := rt.registry.Agent(agentID)
	if agent == nil {
		return nil
	}
	return rt.registry.Role(agent.RoleID)
}
