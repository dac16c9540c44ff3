package convo

import (
	"log/slog"
	"time"
)

// ConsistencyReport is the result of a structural check over one
// conversation.
type ConsistencyReport struct {
	Consistent        bool     `json:"consistent"`
	OrphanedResponses []string `json:"orphanedResponses"`
}

// VerifyHistoryConsistency checks that every tool entry's tool_call_id
// matches a preceding assistant tool call. Run before every LLM call and on
// load.
func (m *Manager) VerifyHistoryConsistency(agentID string) ConsistencyReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convos[agentID]
	if !ok {
		return ConsistencyReport{Consistent: true, OrphanedResponses: []string{}}
	}
	return verify(c.Messages)
}

func verify(entries []Entry) ConsistencyReport {
	seen := make(map[string]bool)
	orphans := []string{}
	for _, e := range entries {
		switch e.Role {
		case RoleAssistant:
			for _, tc := range e.ToolCalls {
				seen[tc.ID] = true
			}
		case RoleTool:
			if !seen[e.ToolCallID] {
				orphans = append(orphans, e.ToolCallID)
			}
		}
	}
	return ConsistencyReport{Consistent: len(orphans) == 0, OrphanedResponses: orphans}
}

// RepairOrphans discards tool entries whose originating call is missing.
// Used on restart after load.
func (m *Manager) RepairOrphans(agentID string) int {
	m.mu.Lock()
	c, ok := m.convos[agentID]
	if !ok {
		m.mu.Unlock()
		return 0
	}
	seen := make(map[string]bool)
	kept := c.Messages[:0]
	removed := 0
	for _, e := range c.Messages {
		if e.Role == RoleAssistant {
			for _, tc := range e.ToolCalls {
				seen[tc.ID] = true
			}
		}
		if e.Role == RoleTool && !seen[e.ToolCallID] {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	c.Messages = kept
	if removed > 0 {
		c.Updated = time.Now().UTC()
	}
	m.mu.Unlock()

	if removed > 0 {
		slog.Warn("discarded orphan tool responses on load", "agent", agentID, "count", removed)
		m.markDirty(agentID)
	}
	return removed
}

// RemoveToolCallEntry removes a pending tool call and every response
// referencing its id. An assistant entry left with no other calls and no
// text content is removed entirely. Supports cancellation flows.
func (m *Manager) RemoveToolCallEntry(agentID, toolCallID string) {
	m.mu.Lock()
	c, ok := m.convos[agentID]
	if !ok {
		m.mu.Unlock()
		return
	}
	kept := c.Messages[:0]
	for _, e := range c.Messages {
		if e.Role == RoleTool && e.ToolCallID == toolCallID {
			continue
		}
		if e.Role == RoleAssistant {
			// Fresh slice: the backing array is shared with entry copies
			// handed out by History() and the persister.
			calls := make([]ToolCall, 0, len(e.ToolCalls))
			for _, tc := range e.ToolCalls {
				if tc.ID != toolCallID {
					calls = append(calls, tc)
				}
			}
			e.ToolCalls = calls
			if len(e.ToolCalls) == 0 && e.Content == "" && len(e.Parts) == 0 {
				continue
			}
		}
		kept = append(kept, e)
	}
	c.Messages = kept
	c.Updated = time.Now().UTC()
	m.mu.Unlock()
	m.markDirty(agentID)
}

// RemoveToolResponseEntry removes every tool entry referencing the id.
func (m *Manager) RemoveToolResponseEntry(agentID, toolCallID string) {
	m.mu.Lock()
	c, ok := m.convos[agentID]
	if !ok {
		m.mu.Unlock()
		return
	}
	kept := c.Messages[:0]
	for _, e := range c.Messages {
		if e.Role == RoleTool && e.ToolCallID == toolCallID {
			continue
		}
		kept = append(kept, e)
	}
	c.Messages = kept
	c.Updated = time.Now().UTC()
	m.mu.Unlock()
	m.markDirty(agentID)
}

// StripUnresolvedTail removes a trailing assistant entry whose tool calls
// have no recorded responses, together with any partial responses after it.
// Run when an interruption merged new messages over an aborted tool loop.
func (m *Manager) StripUnresolvedTail(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convos[agentID]
	if !ok || len(c.Messages) == 0 {
		return false
	}

	// Find the last assistant entry with tool calls; everything after it can
	// only be its (possibly partial) responses.
	idx := -1
	for i := len(c.Messages) - 1; i >= 0; i-- {
		e := c.Messages[i]
		if e.Role == RoleAssistant && len(e.ToolCalls) > 0 {
			idx = i
			break
		}
		if e.Role != RoleTool {
			return false // a completed turn sits on top, nothing to strip
		}
	}
	if idx < 0 {
		return false
	}

	responded := make(map[string]bool)
	for _, e := range c.Messages[idx+1:] {
		if e.Role == RoleTool {
			responded[e.ToolCallID] = true
		}
	}
	for _, tc := range c.Messages[idx].ToolCalls {
		if !responded[tc.ID] {
			c.Messages = c.Messages[:idx]
			c.Updated = time.Now().UTC()
			m.markDirty(agentID)
			return true
		}
	}
	return false
}
