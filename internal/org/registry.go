package org

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry owns roles, agents, contact registries and compute statuses.
// Safe for concurrent use; all relations are by opaque ID (no back-pointers).
type Registry struct {
	mu          sync.RWMutex
	roles       map[string]*Role // by id
	rolesByName map[string]*Role
	agents      map[string]*Agent
	contacts    map[string][]Contact // by agent id, ordered
	briefs      map[string]*TaskBrief
	statuses    map[string]ComputeStatus
	terminated  []Termination

	persister *Persister // nil in tests that don't touch disk
}

// NewRegistry creates an empty registry with the root agent pre-created
// under the implicit root role.
func NewRegistry() *Registry {
	r := &Registry{
		roles:       make(map[string]*Role),
		rolesByName: make(map[string]*Role),
		agents:      make(map[string]*Agent),
		contacts:    make(map[string][]Contact),
		briefs:      make(map[string]*TaskBrief),
		statuses:    make(map[string]ComputeStatus),
	}
	r.mu.Lock()
	r.seedRootLocked()
	r.mu.Unlock()
	return r
}

// seedRootLocked installs the root role and agent and the user<->root contact
// pair. Caller holds r.mu.
func (r *Registry) seedRootLocked() {
	now := time.Now().UTC()
	if _, ok := r.rolesByName[RootRoleName]; !ok {
		role := &Role{
			ID:         uuid.NewString(),
			Name:       RootRoleName,
			RolePrompt: "You are the root agent of a multi-agent organization. You receive tasks from the user, break them down, and delegate by creating roles and spawning agents.",
			CreatedAt:  now,
		}
		r.roles[role.ID] = role
		r.rolesByName[role.Name] = role
	}
	if _, ok := r.agents[RootAgentID]; !ok {
		r.agents[RootAgentID] = &Agent{
			ID:        RootAgentID,
			RoleID:    r.rolesByName[RootRoleName].ID,
			CreatedAt: now,
			Status:    "active",
		}
		r.statuses[RootAgentID] = StatusIdle
		r.contacts[RootAgentID] = []Contact{{ID: UserAgentID, Role: "user", Source: "system", AddedAt: now}}
		r.contacts[UserAgentID] = []Contact{{ID: RootAgentID, Role: RootRoleName, Source: "system", AddedAt: now}}
	}
}

// SetPersister attaches the on-disk snapshot writer.
func (r *Registry) SetPersister(p *Persister) { r.persister = p }

// CreateRole registers a role. Idempotent on name: creating an existing name
// returns the existing role.
func (r *Registry) CreateRole(name, rolePrompt, llmServiceID string, toolGroups []string, createdBy string) *Role {
	r.mu.Lock()
	if existing, ok := r.rolesByName[name]; ok {
		r.mu.Unlock()
		return existing
	}
	role := &Role{
		ID:           uuid.NewString(),
		Name:         name,
		RolePrompt:   rolePrompt,
		LLMServiceID: llmServiceID,
		ToolGroups:   toolGroups,
		CreatedBy:    createdBy,
		CreatedAt:    time.Now().UTC(),
	}
	r.roles[role.ID] = role
	r.rolesByName[name] = role
	r.mu.Unlock()

	slog.Info("role created", "role", name, "id", role.ID, "by", createdBy)
	r.save()
	return role
}

// FindRoleByName returns the role with the given name, or nil.
func (r *Registry) FindRoleByName(name string) *Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rolesByName[name]
}

// Role returns a role by id, or nil.
func (r *Registry) Role(id string) *Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[id]
}

// Roles returns all roles sorted by creation time.
func (r *Registry) Roles() []*Role {
	r.mu.RLock()
	out := make([]*Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SpawnAgent creates a new active agent under parentID with the given role
// and task brief. The contact registry is seeded with the parent and any
// preset collaborators from the brief.
func (r *Registry) SpawnAgent(roleID, parentID string, brief *TaskBrief) (*Agent, error) {
	if brief != nil {
		if err := brief.Validate(); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	role, ok := r.roles[roleID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrRoleNotFound
	}
	parent, ok := r.agents[parentID]
	if !ok || parent.Status != "active" {
		r.mu.Unlock()
		return nil, ErrInvalidParent
	}

	now := time.Now().UTC()
	agent := &Agent{
		ID:            uuid.NewString(),
		RoleID:        roleID,
		ParentAgentID: parentID,
		CreatedAt:     now,
		Status:        "active",
	}
	r.agents[agent.ID] = agent
	r.statuses[agent.ID] = StatusIdle
	if brief != nil {
		r.briefs[agent.ID] = brief
	}

	parentRole := "agent"
	if pr, ok := r.roles[parent.RoleID]; ok {
		parentRole = pr.Name
	}
	if parentID == RootAgentID {
		parentRole = RootRoleName
	}
	contacts := []Contact{{ID: parentID, Role: parentRole, Source: "parent", AddedAt: now}}
	if brief != nil {
		for _, c := range brief.Collaborators {
			if c.ID == parentID {
				continue
			}
			contacts = append(contacts, Contact{ID: c.ID, Role: c.Role, Source: "preset", AddedAt: now})
		}
	}
	r.contacts[agent.ID] = contacts
	r.mu.Unlock()

	slog.Info("agent spawned", "agent", agent.ID, "role", role.Name, "parent", parentID)
	r.save()
	r.saveContacts(agent.ID)
	return agent, nil
}

// TerminateAgent marks the agent terminated. Only the current parent may
// terminate; callers pass their own id for the check. The registry entry is
// retained for audit.
func (r *Registry) TerminateAgent(agentID, callerID, reason string) error {
	r.mu.Lock()
	agent, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return ErrAgentNotFound
	}
	if agent.ParentAgentID != callerID {
		r.mu.Unlock()
		return ErrNotChildAgent
	}
	agent.Status = "terminated"
	r.statuses[agentID] = StatusTerminated
	delete(r.briefs, agentID)
	delete(r.contacts, agentID)
	r.terminated = append(r.terminated, Termination{
		AgentID:      agentID,
		TerminatedBy: callerID,
		Reason:       reason,
		At:           time.Now().UTC(),
	})
	r.mu.Unlock()

	slog.Info("agent terminated", "agent", agentID, "by", callerID, "reason", reason)
	r.save()
	return nil
}

// BeginTermination flips the agent to terminating so the bus starts
// rejecting sends while the queue drains.
func (r *Registry) BeginTermination(agentID string) {
	r.mu.Lock()
	if _, ok := r.agents[agentID]; ok {
		r.statuses[agentID] = StatusTerminating
	}
	r.mu.Unlock()
}

// Agent returns an agent by id, or nil.
func (r *Registry) Agent(id string) *Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[id]
}

// AgentExists reports whether id is a known recipient. The user endpoint is
// always addressable.
func (r *Registry) AgentExists(id string) bool {
	if id == UserAgentID {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[id]
	return ok
}

// Agents returns all registered agents sorted by creation time.
func (r *Registry) Agents() []*Agent {
	r.mu.RLock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Status returns the compute status for an agent. Unknown agents and the
// user endpoint read as idle.
func (r *Registry) Status(agentID string) ComputeStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.statuses[agentID]; ok {
		return s
	}
	return StatusIdle
}

// SetStatus records a compute status transition.
func (r *Registry) SetStatus(agentID string, s ComputeStatus) {
	r.mu.Lock()
	prev := r.statuses[agentID]
	r.statuses[agentID] = s
	r.mu.Unlock()
	if prev != s {
		slog.Debug("compute status", "agent", agentID, "from", prev, "to", s)
	}
}

// Brief returns the agent's task brief, or nil.
func (r *Registry) Brief(agentID string) *TaskBrief {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.briefs[agentID]
}

// Contacts returns a copy of the agent's contact registry.
func (r *Registry) Contacts(agentID string) []Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Contact, len(r.contacts[agentID]))
	copy(out, r.contacts[agentID])
	return out
}

// RecordCorrespondent adds from to agentID's contact registry the first time
// a new correspondent appears in an inbound message. Informational only; it
// never gates sending.
func (r *Registry) RecordCorrespondent(agentID, from string) {
	r.mu.Lock()
	for _, c := range r.contacts[agentID] {
		if c.ID == from {
			r.mu.Unlock()
			return
		}
	}
	roleName := "agent"
	if from == UserAgentID {
		roleName = "user"
	} else if a, ok := r.agents[from]; ok {
		if role, ok := r.roles[a.RoleID]; ok {
			roleName = role.Name
		}
	}
	r.contacts[agentID] = append(r.contacts[agentID], Contact{
		ID:      from,
		Role:    roleName,
		Source:  "introduction",
		AddedAt: time.Now().UTC(),
	})
	r.mu.Unlock()
	r.saveContacts(agentID)
}

// RoleNameFor resolves the role name of an agent for display purposes.
func (r *Registry) RoleNameFor(agentID string) string {
	if agentID == UserAgentID {
		return "user"
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.agents[agentID]; ok {
		if role, ok := r.roles[a.RoleID]; ok {
			return role.Name
		}
	}
	return "agent"
}

// Terminations returns the audit trail of terminated agents.
func (r *Registry) Terminations() []Termination {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Termination, len(r.terminated))
	copy(out, r.terminated)
	return out
}

func (r *Registry) save() {
	if r.persister == nil {
		return
	}
	if err := r.persister.SaveOrg(r); err != nil {
		slog.Error("org snapshot failed", "error", err)
	}
}

func (r *Registry) saveContacts(agentID string) {
	if r.persister == nil {
		return
	}
	if err := r.persister.SaveContacts(agentID, r.Contacts(agentID)); err != nil {
		slog.Error("contacts snapshot failed", "agent", agentID, "error", err)
	}
}
