package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hivemind-dev/hivemind/internal/bus"
	"github.com/hivemind-dev/hivemind/internal/convo"
	"github.com/hivemind-dev/hivemind/internal/org"
)

// Orchestrator is the runtime surface the built-in tools drive. The runtime
// package implements it; tools stay free of a dependency on the scheduler.
type Orchestrator interface {
	FindRoleByName(name string) *org.Role
	CreateRole(name, rolePrompt, llmServiceID string, toolGroups []string, createdBy string) *org.Role
	SpawnAgent(roleID, parentID string, brief *org.TaskBrief) (*org.Agent, error)
	Terminate(agentID, callerID, reason string) error
	Send(req bus.SendRequest) (*bus.Receipt, error)
	Compress(agentID, summary string, keepRecent int) (*convo.CompressResult, error)
	ContextStatus(agentID string) convo.ContextStatus
	RoleNameOf(roleID string) string
}

// --- find_role_by_name ---

type FindRoleTool struct{ orch Orchestrator }

func NewFindRoleTool(orch Orchestrator) *FindRoleTool { return &FindRoleTool{orch: orch} }

func (t *FindRoleTool) Name() string { return "find_role_by_name" }
func (t *FindRoleTool) Description() string {
	return "Look up an existing role by its unique name. Returns the role or null."
}
func (t *FindRoleTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string", "description": "Role name to look up"},
		},
		"required": []string{"name"},
	}
}

func (t *FindRoleTool) Execute(ctx context.Context, args map[string]any) *Result {
	name, _ := args["name"].(string)
	if name == "" {
		return ErrorResult("name is required")
	}
	role := t.orch.FindRoleByName(name)
	if role == nil {
		return NewResult("null")
	}
	return JSONResult(role)
}

// --- create_role ---

type CreateRoleTool struct{ orch Orchestrator }

func NewCreateRoleTool(orch Orchestrator) *CreateRoleTool { return &CreateRoleTool{orch: orch} }

func (t *CreateRoleTool) Name() string { return "create_role" }
func (t *CreateRoleTool) Description() string {
	return "Create a new role (an agent template). Idempotent on name: creating an existing name returns the existing role."
}
func (t *CreateRoleTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":         map[string]any{"type": "string", "description": "Unique role name"},
			"rolePrompt":   map[string]any{"type": "string", "description": "System prompt fragment describing the role"},
			"llmServiceId": map[string]any{"type": "string", "description": "Configured LLM service to use (optional)"},
			"toolGroups": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Allowed tool groups; omit for all groups",
			},
		},
		"required": []string{"name", "rolePrompt"},
	}
}

func (t *CreateRoleTool) Execute(ctx context.Context, args map[string]any) *Result {
	name, _ := args["name"].(string)
	rolePrompt, _ := args["rolePrompt"].(string)
	if name == "" || rolePrompt == "" {
		return ErrorResult("name and rolePrompt are required")
	}
	llmServiceID, _ := args["llmServiceId"].(string)
	var groups []string
	if raw, ok := args["toolGroups"].([]any); ok {
		groups = make([]string, 0, len(raw))
		for _, g := range raw {
			if s, ok := g.(string); ok {
				groups = append(groups, s)
			}
		}
	}
	role := t.orch.CreateRole(name, rolePrompt, llmServiceID, groups, AgentIDFromCtx(ctx))
	return JSONResult(role)
}

// --- spawn_agent ---

type SpawnAgentTool struct{ orch Orchestrator }

func NewSpawnAgentTool(orch Orchestrator) *SpawnAgentTool { return &SpawnAgentTool{orch: orch} }

func (t *SpawnAgentTool) Name() string { return "spawn_agent" }
func (t *SpawnAgentTool) Description() string {
	return "Spawn a new agent from a role with a structured task brief. You become its parent."
}
func (t *SpawnAgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"roleId":    map[string]any{"type": "string", "description": "Role to instantiate"},
			"taskBrief": taskBriefSchema(),
		},
		"required": []string{"roleId", "taskBrief"},
	}
}

func (t *SpawnAgentTool) Execute(ctx context.Context, args map[string]any) *Result {
	roleID, _ := args["roleId"].(string)
	if roleID == "" {
		return ErrorResult("roleId is required")
	}
	brief, err := parseTaskBrief(args["taskBrief"])
	if err != nil {
		return ErrorResult(err.Error())
	}
	agent, err := t.orch.SpawnAgent(roleID, AgentIDFromCtx(ctx), brief)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return JSONResult(map[string]any{
		"id":       agent.ID,
		"roleId":   agent.RoleID,
		"roleName": t.orch.RoleNameOf(agent.RoleID),
	})
}

// --- spawn_agent_with_task ---

// SpawnAgentWithTaskTool spawns and sends the first message in one step, so
// the child never exists without work queued.
type SpawnAgentWithTaskTool struct{ orch Orchestrator }

func NewSpawnAgentWithTaskTool(orch Orchestrator) *SpawnAgentWithTaskTool {
	return &SpawnAgentWithTaskTool{orch: orch}
}

func (t *SpawnAgentWithTaskTool) Name() string { return "spawn_agent_with_task" }
func (t *SpawnAgentWithTaskTool) Description() string {
	return "Spawn a new agent and deliver its first message atomically."
}
func (t *SpawnAgentWithTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"roleId":    map[string]any{"type": "string", "description": "Role to instantiate"},
			"taskBrief": taskBriefSchema(),
			"initialMessage": map[string]any{
				"type":        "object",
				"description": "Payload of the first message delivered to the new agent",
			},
		},
		"required": []string{"roleId", "taskBrief", "initialMessage"},
	}
}

func (t *SpawnAgentWithTaskTool) Execute(ctx context.Context, args map[string]any) *Result {
	roleID, _ := args["roleId"].(string)
	if roleID == "" {
		return ErrorResult("roleId is required")
	}
	brief, err := parseTaskBrief(args["taskBrief"])
	if err != nil {
		return ErrorResult(err.Error())
	}
	payload, _ := args["initialMessage"].(map[string]any)
	if payload == nil {
		return ErrorResult("initialMessage is required")
	}

	callerID := AgentIDFromCtx(ctx)
	agent, err := t.orch.SpawnAgent(roleID, callerID, brief)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	receipt, err := t.orch.Send(bus.SendRequest{
		To:      agent.ID,
		From:    callerID,
		TaskID:  TaskIDFromCtx(ctx),
		Payload: payload,
	})
	if err != nil {
		// The spawn already happened; tear the agent back down so the pair
		// stays atomic.
		_ = t.orch.Terminate(agent.ID, callerID, "spawn_agent_with_task send failed")
		return ErrorResult(fmt.Sprintf("initial message rejected: %v", err)).WithError(err)
	}
	return JSONResult(map[string]any{
		"id":        agent.ID,
		"roleId":    agent.RoleID,
		"roleName":  t.orch.RoleNameOf(agent.RoleID),
		"messageId": receipt.MessageID,
	})
}

// --- terminate_agent ---

type TerminateAgentTool struct{ orch Orchestrator }

func NewTerminateAgentTool(orch Orchestrator) *TerminateAgentTool {
	return &TerminateAgentTool{orch: orch}
}

func (t *TerminateAgentTool) Name() string { return "terminate_agent" }
func (t *TerminateAgentTool) Description() string {
	return "Terminate one of your child agents. Its queue is drained and its conversation removed."
}
func (t *TerminateAgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agentId": map[string]any{"type": "string", "description": "Child agent to terminate"},
			"reason":  map[string]any{"type": "string", "description": "Optional audit reason"},
		},
		"required": []string{"agentId"},
	}
}

func (t *TerminateAgentTool) Execute(ctx context.Context, args map[string]any) *Result {
	agentID, _ := args["agentId"].(string)
	if agentID == "" {
		return ErrorResult("agentId is required")
	}
	reason, _ := args["reason"].(string)
	if err := t.orch.Terminate(agentID, AgentIDFromCtx(ctx), reason); err != nil {
		if errors.Is(err, org.ErrNotChildAgent) || errors.Is(err, org.ErrAgentNotFound) {
			return ErrorResult(err.Error()).WithError(err)
		}
		return ErrorResult(fmt.Sprintf("terminate failed: %v", err)).WithError(err)
	}
	return JSONResult(map[string]any{"ok": true, "terminatedAgentId": agentID})
}

// taskBriefSchema is the shared JSON-Schema for the structured task brief.
func taskBriefSchema() map[string]any {
	return map[string]any{
		"type":        "object",
		"description": "Structured task brief; objective, constraints, inputs, outputs and completion_criteria are required",
		"properties": map[string]any{
			"objective":           map[string]any{"type": "string"},
			"constraints":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"inputs":              map[string]any{"description": "What the agent starts from"},
			"outputs":             map[string]any{"description": "What the agent must produce"},
			"completion_criteria": map[string]any{"type": "string"},
			"collaborators": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":   map[string]any{"type": "string"},
						"role": map[string]any{"type": "string"},
					},
				},
			},
			"references": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"priority":   map[string]any{"type": "string"},
		},
		"required": []string{"objective", "constraints", "inputs", "outputs", "completion_criteria"},
	}
}

func parseTaskBrief(raw any) (*org.TaskBrief, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.New("taskBrief must be an object")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("taskBrief: %w", err)
	}
	var brief org.TaskBrief
	if err := json.Unmarshal(data, &brief); err != nil {
		return nil, fmt.Errorf("taskBrief: %w", err)
	}
	return &brief, nil
}
