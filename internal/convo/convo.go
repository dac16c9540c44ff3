// Package convo owns per-agent conversation histories, token accounting,
// compression, and structural consistency of tool calls and responses.
package convo

import (
	"strings"
	"sync"
	"time"
)

// Entry roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ContentPart is one element of a multimodal content array.
// Type is "text", "image_url" or "file".
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	FileRef  string `json:"file,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// FunctionCall carries the tool name and raw JSON arguments as produced by
// the LLM.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is an assistant request to invoke a named tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Function FunctionCall `json:"function"`
}

// Entry is one conversation element. Content holds plain text; Parts holds
// multimodal content and takes precedence when non-empty.
type Entry struct {
	Role             string        `json:"role"`
	Content          string        `json:"content"`
	Parts            []ContentPart `json:"parts,omitempty"`
	ToolCalls        []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID       string        `json:"tool_call_id,omitempty"`
	ReasoningContent string        `json:"reasoning_content,omitempty"`
}

// Usage is the token accounting reported by the LLM client per call.
type Usage struct {
	PromptTokens     int       `json:"promptTokens"`
	CompletionTokens int       `json:"completionTokens"`
	TotalTokens      int       `json:"totalTokens"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// conversation is the per-agent record guarded by Manager.mu.
type conversation struct {
	AgentID  string  `json:"agentId"`
	Messages []Entry `json:"messages"`
	Usage    Usage   `json:"tokenUsage"`
	Updated  time.Time `json:"updatedAt"`
}

// Thresholds configure the context guardrails as fractions of MaxTokens.
type Thresholds struct {
	MaxTokens int
	Warning   float64
	Critical  float64
	Hard      float64
}

// DefaultThresholds mirror the configured defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{MaxTokens: 200000, Warning: 0.7, Critical: 0.9, Hard: 0.95}
}

// Manager owns all conversations. The scheduler and handler reference it;
// they never hold entries directly.
type Manager struct {
	mu         sync.RWMutex
	convos     map[string]*conversation
	thresholds Thresholds
	persister  *Persister // nil when persistence is disabled
}

func NewManager(th Thresholds) *Manager {
	if th.MaxTokens <= 0 {
		th = DefaultThresholds()
	}
	return &Manager{
		convos:     make(map[string]*conversation),
		thresholds: th,
	}
}

// SetPersister attaches the debounced on-disk writer.
func (m *Manager) SetPersister(p *Persister) { m.persister = p }

// Ensure creates the conversation [{system, systemPrompt}] if absent and
// returns its current length.
func (m *Manager) Ensure(agentID, systemPrompt string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convos[agentID]
	if !ok {
		c = &conversation{
			AgentID:  agentID,
			Messages: []Entry{{Role: RoleSystem, Content: systemPrompt}},
			Updated:  time.Now().UTC(),
		}
		m.convos[agentID] = c
	}
	return len(c.Messages)
}

// SetSystem overwrites the index-0 system entry. The system prompt is
// rebuilt each turn so brief/contact/tool changes show up immediately.
func (m *Manager) SetSystem(agentID, systemPrompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convos[agentID]
	if !ok {
		m.convos[agentID] = &conversation{
			AgentID:  agentID,
			Messages: []Entry{{Role: RoleSystem, Content: systemPrompt}},
			Updated:  time.Now().UTC(),
		}
		return
	}
	if len(c.Messages) == 0 {
		c.Messages = []Entry{{Role: RoleSystem, Content: systemPrompt}}
	} else {
		c.Messages[0] = Entry{Role: RoleSystem, Content: systemPrompt}
	}
	c.Updated = time.Now().UTC()
}

// Append adds entries to the conversation and marks it dirty.
func (m *Manager) Append(agentID string, entries ...Entry) {
	m.mu.Lock()
	c, ok := m.convos[agentID]
	if !ok {
		c = &conversation{AgentID: agentID, Messages: []Entry{{Role: RoleSystem}}}
		m.convos[agentID] = c
	}
	c.Messages = append(c.Messages, entries...)
	c.Updated = time.Now().UTC()
	m.mu.Unlock()
	m.markDirty(agentID)
}

// History returns a copy of the conversation entries.
func (m *Manager) History(agentID string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convos[agentID]
	if !ok {
		return nil
	}
	out := make([]Entry, len(c.Messages))
	copy(out, c.Messages)
	return out
}

// Len returns the number of entries, 0 when absent.
func (m *Manager) Len(agentID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.convos[agentID]; ok {
		return len(c.Messages)
	}
	return 0
}

// Remove drops an agent's conversation entirely (termination path).
func (m *Manager) Remove(agentID string) {
	m.mu.Lock()
	delete(m.convos, agentID)
	m.mu.Unlock()
	if m.persister != nil {
		m.persister.Remove(agentID)
	}
}

// LastEntryText returns the content of the final entry, for fallback replies.
func (m *Manager) LastEntryText(agentID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convos[agentID]
	if !ok || len(c.Messages) == 0 {
		return ""
	}
	return strings.TrimSpace(c.Messages[len(c.Messages)-1].Content)
}

func (m *Manager) markDirty(agentID string) {
	if m.persister != nil {
		m.persister.MarkDirty(agentID)
	}
}
