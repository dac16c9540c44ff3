package mcp

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/hivemind-dev/hivemind/internal/tools"
)

type fakeCaller struct {
	result  *mcpgo.CallToolResult
	err     error
	gotName string
	called  bool
}

func (f *fakeCaller) CallTool(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	f.called = true
	f.gotName = req.Params.Name
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func searchTool() mcpgo.Tool {
	return mcpgo.Tool{
		Name:        "search",
		Description: "Search the index",
		InputSchema: mcpgo.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"query": map[string]any{"type": "string"}},
			Required:   []string{"query"},
		},
	}
}

func TestBridgeToolName(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		want   string
	}{
		{"no prefix", "", "search"},
		{"prefixed", "idx_", "idx_search"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bt := NewBridgeTool("index", searchTool(), &fakeCaller{}, tt.prefix, 0, nil)
			if bt.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", bt.Name(), tt.want)
			}
			if bt.OriginalName() != "search" {
				t.Errorf("OriginalName() = %q, want search", bt.OriginalName())
			}
		})
	}
}

func TestBridgeToolParameters(t *testing.T) {
	bt := NewBridgeTool("index", searchTool(), &fakeCaller{}, "", 0, nil)
	params := bt.Parameters()
	if params["type"] != "object" {
		t.Errorf("type = %v", params["type"])
	}
	props, ok := params["properties"].(map[string]any)
	if !ok || props["query"] == nil {
		t.Errorf("properties = %v", params["properties"])
	}
	req, ok := params["required"].([]string)
	if !ok || len(req) != 1 || req[0] != "query" {
		t.Errorf("required = %v", params["required"])
	}
}

func TestBridgeToolExecute(t *testing.T) {
	var connected atomic.Bool
	connected.Store(true)
	caller := &fakeCaller{result: mcpgo.NewToolResultText("three hits")}
	bt := NewBridgeTool("index", searchTool(), caller, "idx_", 5, &connected)

	res := bt.Execute(context.Background(), map[string]any{"query": "go"})
	if res.IsError || res.ForLLM != "three hits" {
		t.Errorf("result = %+v", res)
	}
	// The server sees its own tool name, not the prefixed one.
	if caller.gotName != "search" {
		t.Errorf("called tool %q, want search", caller.gotName)
	}
}

func TestBridgeToolExecuteTransportError(t *testing.T) {
	var connected atomic.Bool
	connected.Store(true)
	caller := &fakeCaller{err: errors.New("pipe closed")}
	bt := NewBridgeTool("index", searchTool(), caller, "", 5, &connected)

	res := bt.Execute(context.Background(), nil)
	if !res.IsError || !strings.Contains(res.ForLLM, "pipe closed") {
		t.Errorf("result = %+v", res)
	}
}

func TestBridgeToolExecuteServerError(t *testing.T) {
	var connected atomic.Bool
	connected.Store(true)
	errRes := mcpgo.NewToolResultText("index unavailable")
	errRes.IsError = true
	bt := NewBridgeTool("index", searchTool(), &fakeCaller{result: errRes}, "", 5, &connected)

	res := bt.Execute(context.Background(), nil)
	if !res.IsError || res.ForLLM != "index unavailable" {
		t.Errorf("result = %+v", res)
	}
}

func TestBridgeToolDisconnectedShortCircuits(t *testing.T) {
	var connected atomic.Bool
	caller := &fakeCaller{result: mcpgo.NewToolResultText("unreachable")}
	bt := NewBridgeTool("index", searchTool(), caller, "", 5, &connected)

	res := bt.Execute(context.Background(), nil)
	if !res.IsError || !strings.Contains(res.ForLLM, "not connected") {
		t.Errorf("result = %+v", res)
	}
	if caller.called {
		t.Error("disconnected bridge still called the server")
	}
}

func TestManagerGroupTracksServers(t *testing.T) {
	m := &Manager{
		servers:  map[string]*serverState{"index": {name: "index", toolNames: []string{"idx_search"}}},
		registry: tools.NewRegistry(),
	}
	m.refreshGroup()
	if tools.GroupOf("idx_search") != "mcp" {
		t.Errorf("GroupOf(idx_search) = %q, want mcp", tools.GroupOf("idx_search"))
	}

	m.mu.Lock()
	m.servers = map[string]*serverState{}
	m.mu.Unlock()
	m.refreshGroup()
	if tools.GroupOf("idx_search") != "" {
		t.Error("mcp group survived last server removal")
	}
}
