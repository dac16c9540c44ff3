package org

import (
	"errors"
	"strings"
	"testing"
)

func validBrief() *TaskBrief {
	return &TaskBrief{
		Objective:          "summarize the report",
		Constraints:        []string{"no external calls"},
		Inputs:             map[string]any{"report": "artifact:abc"},
		Outputs:            "a one-page summary",
		CompletionCriteria: "summary sent to parent",
	}
}

func TestTaskBriefValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TaskBrief)
		wantErr string
	}{
		{"complete", func(tb *TaskBrief) {}, ""},
		{"missing objective", func(tb *TaskBrief) { tb.Objective = "" }, "objective"},
		{"missing constraints", func(tb *TaskBrief) { tb.Constraints = nil }, "constraints"},
		{"missing inputs", func(tb *TaskBrief) { tb.Inputs = nil }, "inputs"},
		{"missing outputs", func(tb *TaskBrief) { tb.Outputs = nil }, "outputs"},
		{"missing completion criteria", func(tb *TaskBrief) { tb.CompletionCriteria = "" }, "completion_criteria"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := validBrief()
			tt.mutate(tb)
			err := tb.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error naming %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewRegistrySeedsRoot(t *testing.T) {
	r := NewRegistry()
	root := r.Agent(RootAgentID)
	if root == nil || root.Status != "active" {
		t.Fatalf("root agent = %+v", root)
	}
	if root.ParentAgentID != "" {
		t.Error("root must have no parent")
	}
	if r.FindRoleByName(RootRoleName) == nil {
		t.Error("root role missing")
	}
	if !r.AgentExists(UserAgentID) {
		t.Error("user endpoint must be addressable")
	}

	contacts := r.Contacts(RootAgentID)
	if len(contacts) != 1 || contacts[0].ID != UserAgentID {
		t.Errorf("root contacts = %+v, want just user", contacts)
	}
}

func TestCreateRoleIdempotentOnName(t *testing.T) {
	r := NewRegistry()
	a := r.CreateRole("researcher", "You research.", "", []string{"web"}, RootAgentID)
	b := r.CreateRole("researcher", "different prompt", "", nil, RootAgentID)
	if a.ID != b.ID {
		t.Errorf("second CreateRole created a new role: %s vs %s", a.ID, b.ID)
	}
	if b.RolePrompt != "You research." {
		t.Errorf("existing role was overwritten: %q", b.RolePrompt)
	}
}

func TestSpawnAgent(t *testing.T) {
	r := NewRegistry()
	role := r.CreateRole("worker", "You work.", "", nil, RootAgentID)

	brief := validBrief()
	brief.Collaborators = []Collaborator{{ID: "peer-1", Role: "reviewer"}}
	agent, err := r.SpawnAgent(role.ID, RootAgentID, brief)
	if err != nil {
		t.Fatal(err)
	}
	if agent.ParentAgentID != RootAgentID || agent.Status != "active" {
		t.Errorf("agent = %+v", agent)
	}
	if r.Status(agent.ID) != StatusIdle {
		t.Errorf("new agent status = %s, want idle", r.Status(agent.ID))
	}
	if got := r.Brief(agent.ID); got == nil || got.Objective != brief.Objective {
		t.Errorf("brief not stored: %+v", got)
	}

	contacts := r.Contacts(agent.ID)
	if len(contacts) != 2 {
		t.Fatalf("contacts = %+v, want parent + collaborator", contacts)
	}
	if contacts[0].ID != RootAgentID || contacts[0].Source != "parent" {
		t.Errorf("first contact = %+v, want parent", contacts[0])
	}
	if contacts[1].ID != "peer-1" || contacts[1].Source != "preset" {
		t.Errorf("second contact = %+v, want preset collaborator", contacts[1])
	}
}

func TestSpawnAgentValidation(t *testing.T) {
	r := NewRegistry()
	role := r.CreateRole("worker", "p", "", nil, RootAgentID)

	if _, err := r.SpawnAgent("no-such-role", RootAgentID, nil); !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("unknown role: got %v", err)
	}
	if _, err := r.SpawnAgent(role.ID, "no-such-parent", nil); !errors.Is(err, ErrInvalidParent) {
		t.Errorf("unknown parent: got %v", err)
	}

	bad := validBrief()
	bad.Objective = ""
	if _, err := r.SpawnAgent(role.ID, RootAgentID, bad); err == nil {
		t.Error("invalid brief accepted")
	}

	// A terminated agent cannot parent new spawns.
	child, err := r.SpawnAgent(role.ID, RootAgentID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.TerminateAgent(child.ID, RootAgentID, "done"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.SpawnAgent(role.ID, child.ID, nil); !errors.Is(err, ErrInvalidParent) {
		t.Errorf("terminated parent: got %v", err)
	}
}

func TestTerminateAgentParentOnly(t *testing.T) {
	r := NewRegistry()
	role := r.CreateRole("worker", "p", "", nil, RootAgentID)
	mid, _ := r.SpawnAgent(role.ID, RootAgentID, nil)
	leaf, _ := r.SpawnAgent(role.ID, mid.ID, nil)

	if err := r.TerminateAgent(leaf.ID, RootAgentID, ""); !errors.Is(err, ErrNotChildAgent) {
		t.Errorf("grandparent terminate: got %v, want ErrNotChildAgent", err)
	}
	if err := r.TerminateAgent("ghost", RootAgentID, ""); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("unknown agent: got %v", err)
	}

	if err := r.TerminateAgent(leaf.ID, mid.ID, "task complete"); err != nil {
		t.Fatal(err)
	}
	if a := r.Agent(leaf.ID); a == nil || a.Status != "terminated" {
		t.Errorf("terminated agent entry = %+v, must be retained for audit", a)
	}
	if r.Status(leaf.ID) != StatusTerminated {
		t.Errorf("status = %s, want terminated", r.Status(leaf.ID))
	}
	if len(r.Contacts(leaf.ID)) != 0 {
		t.Error("contacts survived termination")
	}

	terms := r.Terminations()
	if len(terms) != 1 || terms[0].AgentID != leaf.ID || terms[0].Reason != "task complete" {
		t.Errorf("terminations = %+v", terms)
	}
}

func TestBeginTermination(t *testing.T) {
	r := NewRegistry()
	role := r.CreateRole("worker", "p", "", nil, RootAgentID)
	a, _ := r.SpawnAgent(role.ID, RootAgentID, nil)

	r.BeginTermination(a.ID)
	if r.Status(a.ID) != StatusTerminating {
		t.Errorf("status = %s, want terminating", r.Status(a.ID))
	}
	r.BeginTermination("ghost")
	if r.Status("ghost") != StatusIdle {
		t.Error("BeginTermination invented a status for an unknown agent")
	}
}

func TestRecordCorrespondent(t *testing.T) {
	r := NewRegistry()
	role := r.CreateRole("analyst", "p", "", nil, RootAgentID)
	a, _ := r.SpawnAgent(role.ID, RootAgentID, nil)
	b, _ := r.SpawnAgent(role.ID, RootAgentID, nil)

	before := len(r.Contacts(a.ID))
	r.RecordCorrespondent(a.ID, b.ID)
	r.RecordCorrespondent(a.ID, b.ID) // duplicate is a no-op

	contacts := r.Contacts(a.ID)
	if len(contacts) != before+1 {
		t.Fatalf("contacts = %+v, want one new entry", contacts)
	}
	last := contacts[len(contacts)-1]
	if last.ID != b.ID || last.Source != "introduction" || last.Role != "analyst" {
		t.Errorf("recorded contact = %+v", last)
	}
}

func TestAllowsGroup(t *testing.T) {
	tests := []struct {
		name   string
		groups []string
		group  string
		want   bool
	}{
		{"nil allows everything", nil, "web", true},
		{"listed group", []string{"web", "fs"}, "fs", true},
		{"unlisted group", []string{"web"}, "runtime", false},
		{"empty list allows nothing", []string{}, "web", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role := &Role{ToolGroups: tt.groups}
			if got := role.AllowsGroup(tt.group); got != tt.want {
				t.Errorf("AllowsGroup(%q) = %v, want %v", tt.group, got, tt.want)
			}
		})
	}
}

func TestRoleNameFor(t *testing.T) {
	r := NewRegistry()
	role := r.CreateRole("scribe", "p", "", nil, RootAgentID)
	a, _ := r.SpawnAgent(role.ID, RootAgentID, nil)

	if got := r.RoleNameFor(UserAgentID); got != "user" {
		t.Errorf("user role = %q", got)
	}
	if got := r.RoleNameFor(a.ID); got != "scribe" {
		t.Errorf("agent role = %q", got)
	}
	if got := r.RoleNameFor("ghost"); got != "agent" {
		t.Errorf("unknown agent role = %q", got)
	}
}
