// Package tools implements the tool dispatcher: a registry of built-in and
// module tools, group-based authorisation, and execution with the calling
// agent's identity injected through the context.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hivemind-dev/hivemind/internal/llm"
	"github.com/hivemind-dev/hivemind/internal/org"
)

// Tool is one executable tool. Parameters returns the JSON-Schema object for
// the function declaration.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *Result
}

// toolGroups maps group names to tool names. A role's toolGroups filter
// selects from these; nil toolGroups on the role means all groups.
var toolGroups = map[string][]string{
	"org":       {"find_role_by_name", "create_role", "spawn_agent", "spawn_agent_with_task", "terminate_agent"},
	"messaging": {"send_message"},
	"context":   {"compress_context", "get_context_status"},
	"artifacts": {"put_artifact", "get_artifact"},
	"fs":        {"read_file", "write_file", "list_files"},
	"runtime":   {"run_command"},
	"web":       {"http_request"},
}

// coreGroups are always allowed regardless of the role's toolGroups. Without
// send_message an agent cannot reply to anyone; without the context tools it
// cannot recover from a full window.
var coreGroups = map[string]bool{
	"messaging": true,
	"context":   true,
}

// GroupOf returns the declared group for a tool name, or "".
func GroupOf(name string) string {
	for group, members := range toolGroups {
		for _, m := range members {
			if m == name {
				return group
			}
		}
	}
	return ""
}

// RegisterToolGroup adds or replaces a group. Module tool packs use this to
// declare their members before registering the tools themselves.
func RegisterToolGroup(name string, members []string) {
	toolGroups[name] = members
}

// UnregisterToolGroup removes a group declaration. Members lose their group
// and become ungated until re-registered.
func UnregisterToolGroup(name string) {
	delete(toolGroups, name)
}

// Registry holds the loaded tool set.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	r.tools[t.Name()] = t
	r.mu.Unlock()
}

// Unregister removes a tool by name. No-op when absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.tools, name)
	r.mu.Unlock()
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Allowed reports whether the role may call the named tool. Tools without a
// declared group are allowed (module packs that skip group registration).
func Allowed(role *org.Role, name string) bool {
	group := GroupOf(name)
	if group == "" || coreGroups[group] {
		return true
	}
	if role == nil {
		return true
	}
	return role.AllowsGroup(group)
}

// DefsFor builds the chat tool declarations visible to the given role.
func (r *Registry) DefsFor(role *org.Role) []llm.ToolDefinition {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		if !Allowed(role, name) {
			continue
		}
		t, _ := r.Get(name)
		defs = append(defs, llm.ToolDefinition{
			Type: "function",
			Function: llm.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute parses the JSON arguments and runs the named tool. Unknown or
// disallowed tools return an error result rather than an error; the LLM
// observes it and can pivot.
func (r *Registry) Execute(ctx context.Context, role *org.Role, name, arguments string) *Result {
	t, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}
	if !Allowed(role, name) {
		return ErrorResult(fmt.Sprintf("tool %s is not allowed for this role", name))
	}

	args := map[string]any{}
	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return ErrorResult(fmt.Sprintf("invalid tool arguments: %v", err))
		}
	}

	var result *Result
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("tool panicked", "tool", name, "panic", rec)
				result = ErrorResult(fmt.Sprintf("tool %s panicked: %v", name, rec))
			}
		}()
		result = t.Execute(ctx, args)
	}()
	if result == nil {
		return ErrorResult(fmt.Sprintf("tool %s returned no result", name))
	}
	if result.Err != nil {
		slog.Warn("tool error", "tool", name, "error", result.Err)
	}
	return result
}
