package convo

import (
	"log/slog"
	"time"
)

// Context status values derived from the configured thresholds.
const (
	ContextNormal   = "normal"
	ContextWarning  = "warning"
	ContextCritical = "critical"
	ContextExceeded = "exceeded"
)

// ContextStatus is the guardrail report for one agent.
type ContextStatus struct {
	UsedTokens   int     `json:"usedTokens"`
	MaxTokens    int     `json:"maxTokens"`
	UsagePercent float64 `json:"usagePercent"`
	Status       string  `json:"status"`
}

// UpdateTokenUsage records the last LLM-reported counts. The runtime does
// not tokenize locally; absent usage leaves the status at normal.
func (m *Manager) UpdateTokenUsage(agentID string, u Usage) {
	if u.TotalTokens == 0 && u.PromptTokens == 0 && u.CompletionTokens == 0 {
		slog.Warn("llm reported no token usage, context status stays normal", "agent", agentID)
		return
	}
	m.mu.Lock()
	if c, ok := m.convos[agentID]; ok {
		u.UpdatedAt = time.Now().UTC()
		c.Usage = u
	}
	m.mu.Unlock()
	m.markDirty(agentID)
}

// TokenUsage returns the last recorded usage.
func (m *Manager) TokenUsage(agentID string) Usage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.convos[agentID]; ok {
		return c.Usage
	}
	return Usage{}
}

// GetContextStatus derives the guardrail status from the last prompt token
// count against the configured limits.
func (m *Manager) GetContextStatus(agentID string) ContextStatus {
	m.mu.RLock()
	var used int
	if c, ok := m.convos[agentID]; ok {
		used = c.Usage.PromptTokens
	}
	th := m.thresholds
	m.mu.RUnlock()

	ratio := float64(used) / float64(th.MaxTokens)
	status := ContextNormal
	switch {
	case ratio >= th.Hard:
		status = ContextExceeded
	case ratio >= th.Critical:
		status = ContextCritical
	case ratio >= th.Warning:
		status = ContextWarning
	}
	return ContextStatus{
		UsedTokens:   used,
		MaxTokens:    th.MaxTokens,
		UsagePercent: ratio,
		Status:       status,
	}
}
