package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/hivemind-dev/hivemind/internal/org"
)

type staticTool struct {
	name   string
	result *Result
	panics bool
}

func (t *staticTool) Name() string               { return t.name }
func (t *staticTool) Description() string        { return "test tool" }
func (t *staticTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *staticTool) Execute(ctx context.Context, args map[string]any) *Result {
	if t.panics {
		panic("boom")
	}
	return t.result
}

func TestGroupOf(t *testing.T) {
	tests := []struct {
		tool string
		want string
	}{
		{"send_message", "messaging"},
		{"spawn_agent", "org"},
		{"compress_context", "context"},
		{"read_file", "fs"},
		{"never_registered", ""},
	}
	for _, tt := range tests {
		if got := GroupOf(tt.tool); got != tt.want {
			t.Errorf("GroupOf(%q) = %q, want %q", tt.tool, got, tt.want)
		}
	}
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register(&staticTool{name: "ephemeral", result: NewResult("ok")})
	if _, ok := r.Get("ephemeral"); !ok {
		t.Fatal("tool not registered")
	}
	r.Unregister("ephemeral")
	if _, ok := r.Get("ephemeral"); ok {
		t.Error("tool survived unregister")
	}
	r.Unregister("ephemeral") // absent, no-op

	RegisterToolGroup("transient", []string{"ephemeral"})
	if GroupOf("ephemeral") != "transient" {
		t.Fatal("group not registered")
	}
	UnregisterToolGroup("transient")
	if GroupOf("ephemeral") != "" {
		t.Error("group survived unregister")
	}
}

func TestAllowed(t *testing.T) {
	restricted := &org.Role{ToolGroups: []string{"fs"}}
	open := &org.Role{} // nil ToolGroups

	tests := []struct {
		name string
		role *org.Role
		tool string
		want bool
	}{
		{"nil groups allow all", open, "run_command", true},
		{"listed group", restricted, "read_file", true},
		{"unlisted group", restricted, "run_command", false},
		{"messaging always allowed", restricted, "send_message", true},
		{"context always allowed", restricted, "get_context_status", true},
		{"ungrouped tool allowed", restricted, "custom_module_tool", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Allowed(tt.role, tt.tool); got != tt.want {
				t.Errorf("Allowed(%q) = %v, want %v", tt.tool, got, tt.want)
			}
		})
	}
}

func TestDefsForFiltersByRole(t *testing.T) {
	r := NewRegistry()
	r.Register(&staticTool{name: "send_message"})
	r.Register(&staticTool{name: "read_file"})
	r.Register(&staticTool{name: "run_command"})

	role := &org.Role{ToolGroups: []string{"fs"}}
	defs := r.DefsFor(role)

	names := make(map[string]bool)
	for _, d := range defs {
		names[d.Function.Name] = true
	}
	if !names["send_message"] || !names["read_file"] {
		t.Errorf("defs = %v, missing allowed tools", names)
	}
	if names["run_command"] {
		t.Error("run_command visible to a role without the runtime group")
	}
}

func TestExecute(t *testing.T) {
	r := NewRegistry()
	r.Register(&staticTool{name: "echo_ok", result: NewResult("done")})
	r.Register(&staticTool{name: "explodes", panics: true})
	r.Register(&staticTool{name: "run_command", result: NewResult("ran")})

	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		res := r.Execute(ctx, nil, "echo_ok", `{"x":1}`)
		if res.IsError || res.ForLLM != "done" {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("unknown tool", func(t *testing.T) {
		res := r.Execute(ctx, nil, "nope", "{}")
		if !res.IsError || !strings.Contains(res.ForLLM, "unknown tool") {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("disallowed tool", func(t *testing.T) {
		role := &org.Role{ToolGroups: []string{"fs"}}
		res := r.Execute(ctx, role, "run_command", "{}")
		if !res.IsError || !strings.Contains(res.ForLLM, "not allowed") {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("malformed arguments", func(t *testing.T) {
		res := r.Execute(ctx, nil, "echo_ok", "{broken")
		if !res.IsError || !strings.Contains(res.ForLLM, "invalid tool arguments") {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("panic becomes error result", func(t *testing.T) {
		res := r.Execute(ctx, nil, "explodes", "{}")
		if !res.IsError || !strings.Contains(res.ForLLM, "panicked") {
			t.Errorf("result = %+v", res)
		}
	})
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(&staticTool{name: "zeta"})
	r.Register(&staticTool{name: "alpha"})
	got := r.List()
	if len(got) != 2 || got[0] != "alpha" || got[1] != "zeta" {
		t.Errorf("List() = %v", got)
	}
}
