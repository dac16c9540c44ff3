// Package llm wraps the consumed LLM chat contract: an OpenAI-compatible
// client plus a service pool with per-agent abortable in-flight requests.
package llm

import (
	"context"
	"errors"

	"github.com/hivemind-dev/hivemind/internal/convo"
)

var (
	// ErrTransport marks a request that failed after retry exhaustion.
	ErrTransport = errors.New("llm_transport_error")
	// ErrAborted marks a request cancelled through the abort registry.
	ErrAborted = errors.New("llm_aborted")
)

// ToolDefinition declares one tool schema for a chat call.
type ToolDefinition struct {
	Type     string             `json:"type"` // always "function"
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the JSON-Schema function declaration.
type ToolFunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is the input to one chat call. Messages reuse the conversation
// entry shape; ServiceID selects a configured service (empty = default).
type Request struct {
	Messages  []convo.Entry
	Tools     []ToolDefinition
	ServiceID string
}

// Response is the assistant turn returned by the service.
type Response struct {
	Content          string
	ToolCalls        []convo.ToolCall
	ReasoningContent string
	Usage            convo.Usage
}

// Client is one chat endpoint.
type Client interface {
	Chat(ctx context.Context, req Request) (*Response, error)
	Name() string
}
