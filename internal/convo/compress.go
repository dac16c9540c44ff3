package convo

import (
	"log/slog"
	"time"
)

// DefaultKeepRecent is the number of trailing entries preserved by
// compression when the caller does not specify one.
const DefaultKeepRecent = 10

// SummaryPrefix marks the synthetic system entry inserted at index 1.
const SummaryPrefix = "[history summary] "

// CompressResult reports what compression did.
type CompressResult struct {
	OK            bool `json:"ok"`
	Compressed    bool `json:"compressed"`
	OriginalCount int  `json:"originalCount"`
	NewCount      int  `json:"newCount"`
}

// Compress reduces the conversation to [system, summary, ...recent N].
// Index 0 is preserved, a summary system entry is inserted at index 1, and
// the last keepRecent entries are kept. A no-op when the history is already
// short enough. The kept tail is swept so no tool response is left without
// its originating call.
func (m *Manager) Compress(agentID, summary string, keepRecent int) CompressResult {
	if keepRecent <= 0 {
		keepRecent = DefaultKeepRecent
	}

	m.mu.Lock()
	c, ok := m.convos[agentID]
	if !ok {
		m.mu.Unlock()
		return CompressResult{OK: false}
	}
	orig := len(c.Messages)
	if orig <= keepRecent+1 {
		m.mu.Unlock()
		return CompressResult{OK: true, Compressed: false, OriginalCount: orig, NewCount: orig}
	}

	tail := make([]Entry, keepRecent)
	copy(tail, c.Messages[orig-keepRecent:])
	tail = sweepTail(tail)

	next := make([]Entry, 0, len(tail)+2)
	next = append(next, c.Messages[0])
	next = append(next, Entry{Role: RoleSystem, Content: SummaryPrefix + summary})
	next = append(next, tail...)

	c.Messages = next
	c.Updated = time.Now().UTC()
	newCount := len(next)
	m.mu.Unlock()

	slog.Info("conversation compressed", "agent", agentID, "from", orig, "to", newCount)
	m.markDirty(agentID)
	return CompressResult{OK: true, Compressed: true, OriginalCount: orig, NewCount: newCount}
}

// sweepTail enforces tool-call consistency on the kept tail: tool responses
// whose call was trimmed away are dropped, and calls whose responses were
// trimmed are removed from their assistant entry. The final entry is left
// untouched so an in-flight tool call (compression itself runs as one) keeps
// its id for the response about to be appended.
func sweepTail(tail []Entry) []Entry {
	calls := make(map[string]bool)
	for _, e := range tail {
		for _, tc := range e.ToolCalls {
			calls[tc.ID] = true
		}
	}

	responded := make(map[string]bool)
	out := tail[:0]
	for _, e := range tail {
		if e.Role == RoleTool && !calls[e.ToolCallID] {
			continue // orphan response, call was trimmed
		}
		if e.Role == RoleTool {
			responded[e.ToolCallID] = true
		}
		out = append(out, e)
	}

	// Remove dangling calls (no response in the tail) except on the last
	// entry, whose responses may still be pending.
	for i := range out {
		if i == len(out)-1 || out[i].Role != RoleAssistant || len(out[i].ToolCalls) == 0 {
			continue
		}
		// Fresh slice: the backing array is shared with History() and
		// persister snapshots taken before this compression.
		kept := make([]ToolCall, 0, len(out[i].ToolCalls))
		for _, tc := range out[i].ToolCalls {
			if responded[tc.ID] {
				kept = append(kept, tc)
			}
		}
		out[i].ToolCalls = kept
	}

	// Drop assistant entries left with neither calls nor content.
	final := out[:0]
	for i, e := range out {
		if i < len(out)-1 && e.Role == RoleAssistant && len(e.ToolCalls) == 0 && e.Content == "" && len(e.Parts) == 0 {
			continue
		}
		final = append(final, e)
	}
	return final
}
