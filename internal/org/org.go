// Package org holds the organization primitives: role and agent registries,
// parent/child lifecycle, per-agent contact registries, and their on-disk
// snapshot under <runtimeDir>/org.json and <runtimeDir>/contacts/.
package org

import (
	"errors"
	"fmt"
	"time"
)

// Distinguished agent IDs. "user" is the external endpoint; "root" is the
// system-created top-level agent.
const (
	UserAgentID = "user"
	RootAgentID = "root"
)

// RootRoleName is the implicit role the root agent runs under.
const RootRoleName = "root"

var (
	ErrAgentNotFound    = errors.New("agent_not_found")
	ErrRoleNotFound     = errors.New("role_not_found")
	ErrNotChildAgent    = errors.New("not_child_agent")
	ErrInvalidParent    = errors.New("invalid_parent")
	ErrAgentTerminating = errors.New("agent_terminating")
)

// ComputeStatus is the per-agent compute state that drives scheduler and bus
// decisions.
type ComputeStatus string

const (
	StatusIdle        ComputeStatus = "idle"
	StatusWaitingLLM  ComputeStatus = "waiting_llm"
	StatusProcessing  ComputeStatus = "processing"
	StatusStopped     ComputeStatus = "stopped"
	StatusStopping    ComputeStatus = "stopping"
	StatusTerminating ComputeStatus = "terminating"
	StatusTerminated  ComputeStatus = "terminated"
)

// Role is a named template from which agents are spawned. toolGroups == nil
// means all groups allowed. Names are a unique secondary key.
type Role struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	RolePrompt   string    `json:"rolePrompt"`
	LLMServiceID string    `json:"llmServiceId,omitempty"`
	ToolGroups   []string  `json:"toolGroups,omitempty"`
	CreatedBy    string    `json:"createdBy,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AllowsGroup reports whether the role permits tools from the given group.
func (r *Role) AllowsGroup(group string) bool {
	if r.ToolGroups == nil {
		return true
	}
	for _, g := range r.ToolGroups {
		if g == group {
			return true
		}
	}
	return false
}

// Agent is a running instance of a role. ParentAgentID is empty only for
// root; terminated agents keep their registry entry for audit.
type Agent struct {
	ID            string    `json:"id"`
	RoleID        string    `json:"roleId"`
	ParentAgentID string    `json:"parentAgentId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	Status        string    `json:"status"` // "active" or "terminated"
}

// Contact is one entry in an agent's contact registry. Source is one of
// "parent", "preset", "system", "introduction".
type Contact struct {
	ID           string    `json:"id"`
	Role         string    `json:"role"`
	Source       string    `json:"source"`
	IntroducedBy string    `json:"introducedBy,omitempty"`
	AddedAt      time.Time `json:"addedAt"`
}

// Termination is an audit record of an agent termination.
type Termination struct {
	AgentID      string    `json:"agentId"`
	TerminatedBy string    `json:"terminatedBy,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}

// TaskBrief is the structured prologue passed at spawn time and rendered
// into the system prompt.
type TaskBrief struct {
	Objective          string         `json:"objective"`
	Constraints        []string       `json:"constraints"`
	Inputs             any            `json:"inputs"`
	Outputs            any            `json:"outputs"`
	CompletionCriteria string         `json:"completion_criteria"`
	Collaborators      []Collaborator `json:"collaborators,omitempty"`
	References         []string       `json:"references,omitempty"`
	Priority           string         `json:"priority,omitempty"`
}

// Collaborator is a preset contact carried on the task brief.
type Collaborator struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Validate checks the five required task brief fields.
func (tb *TaskBrief) Validate() error {
	var missing []string
	if tb.Objective == "" {
		missing = append(missing, "objective")
	}
	if tb.Constraints == nil {
		missing = append(missing, "constraints")
	}
	if tb.Inputs == nil {
		missing = append(missing, "inputs")
	}
	if tb.Outputs == nil {
		missing = append(missing, "outputs")
	}
	if tb.CompletionCriteria == "" {
		missing = append(missing, "completion_criteria")
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid_task_brief: missing %v", missing)
	}
	return nil
}
