package convo

import (
	"testing"
)

func TestEnsureAndSetSystem(t *testing.T) {
	m := NewManager(DefaultThresholds())
	if n := m.Ensure("a", "sys v1"); n != 1 {
		t.Fatalf("Ensure() = %d, want 1", n)
	}
	m.Append("a", Entry{Role: RoleUser, Content: "hello"})
	if n := m.Ensure("a", "ignored"); n != 2 {
		t.Fatalf("Ensure() after append = %d, want 2", n)
	}

	m.SetSystem("a", "sys v2")
	h := m.History("a")
	if h[0].Role != RoleSystem || h[0].Content != "sys v2" {
		t.Errorf("system entry = %+v, want sys v2", h[0])
	}
	if h[1].Content != "hello" {
		t.Errorf("user entry lost: %+v", h[1])
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	m := NewManager(DefaultThresholds())
	m.Ensure("a", "sys")
	h := m.History("a")
	h[0].Content = "mutated"
	if got := m.History("a")[0].Content; got != "sys" {
		t.Errorf("History exposed internal state: %q", got)
	}
}

func TestRemoveAndLastEntryText(t *testing.T) {
	m := NewManager(DefaultThresholds())
	m.Ensure("a", "sys")
	m.Append("a", Entry{Role: RoleAssistant, Content: "  final reply  "})
	if got := m.LastEntryText("a"); got != "final reply" {
		t.Errorf("LastEntryText() = %q", got)
	}

	m.Remove("a")
	if m.Len("a") != 0 {
		t.Error("conversation survived Remove")
	}
	if got := m.LastEntryText("a"); got != "" {
		t.Errorf("LastEntryText after remove = %q", got)
	}
}

func TestCompressShape(t *testing.T) {
	m := NewManager(DefaultThresholds())
	m.Ensure("a", "sys")
	for i := 0; i < 20; i++ {
		m.Append("a",
			Entry{Role: RoleUser, Content: "q"},
			Entry{Role: RoleAssistant, Content: "a"},
		)
	}

	res := m.Compress("a", "the story so far", 4)
	if !res.OK || !res.Compressed {
		t.Fatalf("Compress() = %+v", res)
	}
	if res.OriginalCount != 41 {
		t.Errorf("OriginalCount = %d, want 41", res.OriginalCount)
	}

	h := m.History("a")
	if len(h) != 6 {
		t.Fatalf("len(history) = %d, want 6 (system + summary + 4)", len(h))
	}
	if h[0].Content != "sys" {
		t.Errorf("index 0 = %+v, want original system prompt", h[0])
	}
	if h[1].Role != RoleSystem || h[1].Content != SummaryPrefix+"the story so far" {
		t.Errorf("index 1 = %+v, want summary entry", h[1])
	}
}

func TestCompressNoopWhenShort(t *testing.T) {
	m := NewManager(DefaultThresholds())
	m.Ensure("a", "sys")
	m.Append("a", Entry{Role: RoleUser, Content: "q"})

	res := m.Compress("a", "summary", 10)
	if !res.OK || res.Compressed {
		t.Errorf("short history should be a no-op: %+v", res)
	}
	if m.Len("a") != 2 {
		t.Errorf("history mutated by no-op compress")
	}
}

func TestCompressUnknownAgent(t *testing.T) {
	m := NewManager(DefaultThresholds())
	if res := m.Compress("ghost", "s", 5); res.OK {
		t.Errorf("Compress on missing agent should report !OK: %+v", res)
	}
}

func TestCompressSweepsOrphanResponses(t *testing.T) {
	m := NewManager(DefaultThresholds())
	m.Ensure("a", "sys")
	// Padding so the orphan lands at the head of the kept tail.
	for i := 0; i < 10; i++ {
		m.Append("a", Entry{Role: RoleUser, Content: "pad"})
	}
	m.Append("a",
		Entry{Role: RoleTool, ToolCallID: "call-cut", Content: "orphaned"},
		Entry{Role: RoleUser, Content: "next"},
		Entry{Role: RoleAssistant, Content: "done"},
	)

	m.Compress("a", "s", 3)
	for _, e := range m.History("a") {
		if e.Role == RoleTool {
			t.Errorf("orphan tool response survived compression: %+v", e)
		}
	}
}

func TestCompressKeepsFinalPendingCall(t *testing.T) {
	m := NewManager(DefaultThresholds())
	m.Ensure("a", "sys")
	for i := 0; i < 10; i++ {
		m.Append("a", Entry{Role: RoleUser, Content: "pad"})
	}
	// The compress_context call itself is the last entry; its response has
	// not been appended yet and must survive.
	m.Append("a", Entry{
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{ID: "call-live", Function: FunctionCall{Name: "compress_context"}}},
	})

	m.Compress("a", "s", 3)
	h := m.History("a")
	last := h[len(h)-1]
	if len(last.ToolCalls) != 1 || last.ToolCalls[0].ID != "call-live" {
		t.Errorf("pending tool call on final entry was swept: %+v", last)
	}
}

func TestCompressDoesNotMutateSnapshots(t *testing.T) {
	m := NewManager(DefaultThresholds())
	m.Ensure("a", "sys")
	for i := 0; i < 10; i++ {
		m.Append("a", Entry{Role: RoleUser, Content: "pad"})
	}
	// The dangling call gets swept from the kept tail; a snapshot taken
	// before compression must keep seeing both calls.
	m.Append("a",
		Entry{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "dangling", Function: FunctionCall{Name: "read_file"}},
			{ID: "answered", Function: FunctionCall{Name: "list_files"}},
		}},
		Entry{Role: RoleTool, ToolCallID: "answered", Content: "ok"},
		Entry{Role: RoleUser, Content: "next"},
		Entry{Role: RoleAssistant, Content: "done"},
	)

	before := m.History("a")
	res := m.Compress("a", "story so far", 4)
	if !res.Compressed {
		t.Fatalf("compress result = %+v", res)
	}
	for _, e := range before {
		if e.Role != RoleAssistant || len(e.ToolCalls) == 0 {
			continue
		}
		if len(e.ToolCalls) != 2 || e.ToolCalls[0].ID != "dangling" || e.ToolCalls[1].ID != "answered" {
			t.Fatalf("snapshot tool calls mutated by compression: %+v", e.ToolCalls)
		}
	}
}

func TestRemoveToolCallEntryDoesNotMutateSnapshots(t *testing.T) {
	m := NewManager(DefaultThresholds())
	m.Ensure("a", "sys")
	m.Append("a",
		Entry{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1"}, {ID: "c2"}}},
		Entry{Role: RoleTool, ToolCallID: "c1", Content: "one"},
	)

	before := m.History("a")
	m.RemoveToolCallEntry("a", "c1")
	if got := before[1].ToolCalls; len(got) != 2 || got[0].ID != "c1" || got[1].ID != "c2" {
		t.Errorf("snapshot tool calls mutated by removal: %+v", got)
	}
}

func TestVerifyHistoryConsistency(t *testing.T) {
	tests := []struct {
		name        string
		entries     []Entry
		consistent  bool
		wantOrphans int
	}{
		{
			name:       "empty",
			consistent: true,
		},
		{
			name: "paired call and response",
			entries: []Entry{
				{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1"}}},
				{Role: RoleTool, ToolCallID: "c1", Content: "ok"},
			},
			consistent: true,
		},
		{
			name: "orphan response",
			entries: []Entry{
				{Role: RoleTool, ToolCallID: "missing", Content: "ok"},
			},
			consistent:  false,
			wantOrphans: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(DefaultThresholds())
			m.Ensure("a", "sys")
			m.Append("a", tt.entries...)
			rep := m.VerifyHistoryConsistency("a")
			if rep.Consistent != tt.consistent {
				t.Errorf("Consistent = %v, want %v", rep.Consistent, tt.consistent)
			}
			if len(rep.OrphanedResponses) != tt.wantOrphans {
				t.Errorf("orphans = %v, want %d", rep.OrphanedResponses, tt.wantOrphans)
			}
		})
	}
}

func TestRepairOrphans(t *testing.T) {
	m := NewManager(DefaultThresholds())
	m.Ensure("a", "sys")
	m.Append("a",
		Entry{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1"}}},
		Entry{Role: RoleTool, ToolCallID: "c1", Content: "ok"},
		Entry{Role: RoleTool, ToolCallID: "gone", Content: "orphan"},
	)
	if removed := m.RepairOrphans("a"); removed != 1 {
		t.Fatalf("removed %d, want 1", removed)
	}
	if !m.VerifyHistoryConsistency("a").Consistent {
		t.Error("history still inconsistent after repair")
	}
}

func TestRemoveToolCallEntry(t *testing.T) {
	m := NewManager(DefaultThresholds())
	m.Ensure("a", "sys")
	m.Append("a",
		Entry{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1"}, {ID: "c2"}}},
		Entry{Role: RoleTool, ToolCallID: "c1", Content: "r1"},
		Entry{Role: RoleTool, ToolCallID: "c2", Content: "r2"},
	)

	m.RemoveToolCallEntry("a", "c1")
	h := m.History("a")
	if len(h) != 3 {
		t.Fatalf("len = %d, want 3", len(h))
	}
	if len(h[1].ToolCalls) != 1 || h[1].ToolCalls[0].ID != "c2" {
		t.Errorf("assistant entry = %+v, want only c2 left", h[1])
	}

	// Removing the last call drops the now-empty assistant entry too.
	m.RemoveToolCallEntry("a", "c2")
	if n := m.Len("a"); n != 1 {
		t.Errorf("len = %d, want only system entry", n)
	}
}

func TestStripUnresolvedTail(t *testing.T) {
	tests := []struct {
		name     string
		entries  []Entry
		stripped bool
		wantLen  int
	}{
		{
			name: "dangling call stripped",
			entries: []Entry{
				{Role: RoleUser, Content: "q"},
				{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1"}}},
			},
			stripped: true,
			wantLen:  2, // system + user
		},
		{
			name: "partial responses stripped with the call",
			entries: []Entry{
				{Role: RoleUser, Content: "q"},
				{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1"}, {ID: "c2"}}},
				{Role: RoleTool, ToolCallID: "c1", Content: "r1"},
			},
			stripped: true,
			wantLen:  2,
		},
		{
			name: "fully responded tail untouched",
			entries: []Entry{
				{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1"}}},
				{Role: RoleTool, ToolCallID: "c1", Content: "r1"},
			},
			stripped: false,
			wantLen:  3,
		},
		{
			name: "completed turn on top untouched",
			entries: []Entry{
				{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1"}}},
				{Role: RoleUser, Content: "interjection"},
			},
			stripped: false,
			wantLen:  3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(DefaultThresholds())
			m.Ensure("a", "sys")
			m.Append("a", tt.entries...)
			if got := m.StripUnresolvedTail("a"); got != tt.stripped {
				t.Errorf("StripUnresolvedTail() = %v, want %v", got, tt.stripped)
			}
			if n := m.Len("a"); n != tt.wantLen {
				t.Errorf("len = %d, want %d", n, tt.wantLen)
			}
		})
	}
}

func TestGetContextStatusThresholds(t *testing.T) {
	tests := []struct {
		name   string
		prompt int
		want   string
	}{
		{"fresh", 0, ContextNormal},
		{"under warning", 600, ContextNormal},
		{"warning", 700, ContextWarning},
		{"critical", 900, ContextCritical},
		{"exceeded", 950, ContextExceeded},
		{"over limit", 1200, ContextExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(Thresholds{MaxTokens: 1000, Warning: 0.7, Critical: 0.9, Hard: 0.95})
			m.Ensure("a", "sys")
			if tt.prompt > 0 {
				m.UpdateTokenUsage("a", Usage{PromptTokens: tt.prompt, TotalTokens: tt.prompt})
			}
			st := m.GetContextStatus("a")
			if st.Status != tt.want {
				t.Errorf("status = %s, want %s (used=%d)", st.Status, tt.want, st.UsedTokens)
			}
		})
	}
}

func TestUpdateTokenUsageIgnoresZero(t *testing.T) {
	m := NewManager(Thresholds{MaxTokens: 100, Warning: 0.7, Critical: 0.9, Hard: 0.95})
	m.Ensure("a", "sys")
	m.UpdateTokenUsage("a", Usage{PromptTokens: 99, TotalTokens: 99})
	m.UpdateTokenUsage("a", Usage{})
	if got := m.TokenUsage("a").PromptTokens; got != 99 {
		t.Errorf("zero usage overwrote real counts: %d", got)
	}
}
