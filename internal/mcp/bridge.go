package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/hivemind-dev/hivemind/internal/tools"
)

const defaultCallTimeout = 60 * time.Second

// toolCaller is the slice of the MCP client the bridge needs. Satisfied by
// *client.Client; tests substitute a fake.
type toolCaller interface {
	CallTool(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)
}

// BridgeTool adapts one discovered MCP tool to the registry's Tool
// interface. Calls are forwarded to the owning server with a per-call
// timeout; results are flattened into a tool result.
type BridgeTool struct {
	server    string
	tool      mcpgo.Tool
	client    toolCaller
	prefix    string
	timeout   time.Duration
	connected *atomic.Bool
}

func NewBridgeTool(server string, tool mcpgo.Tool, client toolCaller, prefix string, timeoutSec int, connected *atomic.Bool) *BridgeTool {
	timeout := defaultCallTimeout
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}
	return &BridgeTool{
		server:    server,
		tool:      tool,
		client:    client,
		prefix:    prefix,
		timeout:   timeout,
		connected: connected,
	}
}

// Name returns the registered name, prefixed when the server declares one so
// same-named tools from different servers stay distinct.
func (b *BridgeTool) Name() string {
	if b.prefix != "" {
		return b.prefix + b.tool.Name
	}
	return b.tool.Name
}

// OriginalName returns the server-side tool name.
func (b *BridgeTool) OriginalName() string { return b.tool.Name }

func (b *BridgeTool) Description() string {
	if b.tool.Description != "" {
		return fmt.Sprintf("[%s] %s", b.server, b.tool.Description)
	}
	return fmt.Sprintf("[%s] MCP tool %s", b.server, b.tool.Name)
}

// Parameters maps the server-declared input schema onto the function
// declaration shape.
func (b *BridgeTool) Parameters() map[string]any {
	params := map[string]any{"type": "object"}
	if b.tool.InputSchema.Type != "" {
		params["type"] = b.tool.InputSchema.Type
	}
	if len(b.tool.InputSchema.Properties) > 0 {
		params["properties"] = b.tool.InputSchema.Properties
	}
	if len(b.tool.InputSchema.Required) > 0 {
		params["required"] = b.tool.InputSchema.Required
	}
	return params
}

func (b *BridgeTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	if b.connected != nil && !b.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("mcp server %s is not connected", b.server))
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.tool.Name
	req.Params.Arguments = args

	res, err := b.client.CallTool(callCtx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("mcp call %s failed: %v", b.Name(), err)).WithError(err)
	}
	return convertResult(res)
}

// convertResult flattens the MCP content list: text parts concatenate, the
// first image becomes a data URL for the multimodal tool entry.
func convertResult(res *mcpgo.CallToolResult) *tools.Result {
	var sb strings.Builder
	imageURL := ""
	for _, item := range res.Content {
		if tc, ok := mcpgo.AsTextContent(item); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(tc.Text)
			continue
		}
		if ic, ok := mcpgo.AsImageContent(item); ok && imageURL == "" {
			imageURL = "data:" + ic.MIMEType + ";base64," + ic.Data
		}
	}

	text := sb.String()
	if text == "" && imageURL == "" {
		data, _ := json.Marshal(res.Content)
		text = string(data)
	}
	if res.IsError {
		if text == "" {
			text = "mcp tool reported an error"
		}
		return tools.ErrorResult(text)
	}
	out := tools.NewResult(text)
	out.ImageURL = imageURL
	return out
}
