// Package prompt composes the index-0 system entry for each turn and
// formats inbound messages for the conversation.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hivemind-dev/hivemind/internal/bus"
	"github.com/hivemind-dev/hivemind/internal/org"
)

// BasePrompt frames every non-root agent.
const BasePrompt = `You are an agent inside a multi-agent organization. You communicate with other agents and the user exclusively through the send_message tool. Work on the task described below; report results to your parent when done.`

// ToolRulesPrompt reminds agents how tool messaging works.
const ToolRulesPrompt = `Rules:
- To reply to anyone, call send_message with their agent id. Plain assistant text is NOT delivered.
- Spawn helper agents with create_role / spawn_agent when a subtask deserves its own worker; terminate your children with terminate_agent when they are done.
- Watch get_context_status and call compress_context before the context window fills up.`

// Builder renders system prompts and inbound message formats. The system
// entry is rebuilt every turn so brief, contact and tool changes are
// reflected immediately.
type Builder struct {
	registry *org.Registry
}

func NewBuilder(registry *org.Registry) *Builder {
	return &Builder{registry: registry}
}

// SystemPrompt composes the index-0 entry for an agent.
func (b *Builder) SystemPrompt(agentID string) string {
	agent := b.registry.Agent(agentID)
	if agent == nil {
		return BasePrompt
	}
	role := b.registry.Role(agent.RoleID)

	var sb strings.Builder
	if agentID != org.RootAgentID {
		sb.WriteString(BasePrompt)
		sb.WriteString("\n")
	}
	if role != nil && role.RolePrompt != "" {
		sb.WriteString(role.RolePrompt)
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("\n【runtime】 agentId=%s  parentAgentId=%s\n", agentID, orDash(agent.ParentAgentID)))

	if agentID == org.RootAgentID {
		return sb.String()
	}

	if brief := b.registry.Brief(agentID); brief != nil {
		sb.WriteString(renderBrief(brief))
	}
	if contacts := b.registry.Contacts(agentID); len(contacts) > 0 {
		sb.WriteString("\nContacts:\n")
		for _, c := range contacts {
			sb.WriteString(fmt.Sprintf("- %s（%s）\n", c.Role, c.ID))
		}
	}
	sb.WriteString("\n")
	sb.WriteString(ToolRulesPrompt)
	return sb.String()
}

func renderBrief(tb *org.TaskBrief) string {
	var sb strings.Builder
	sb.WriteString("\nTask brief:\n")
	sb.WriteString("- objective: " + tb.Objective + "\n")
	if len(tb.Constraints) > 0 {
		sb.WriteString("- constraints: " + strings.Join(tb.Constraints, "; ") + "\n")
	}
	sb.WriteString("- inputs: " + renderAny(tb.Inputs) + "\n")
	sb.WriteString("- outputs: " + renderAny(tb.Outputs) + "\n")
	sb.WriteString("- completion_criteria: " + tb.CompletionCriteria + "\n")
	if tb.Priority != "" {
		sb.WriteString("- priority: " + tb.Priority + "\n")
	}
	if len(tb.References) > 0 {
		sb.WriteString("- references: " + strings.Join(tb.References, ", ") + "\n")
	}
	return sb.String()
}

// FormatInbound renders one envelope as the user-entry text for the
// recipient's conversation.
//
// Non-root agents see a reply hint; user-originating messages carry none;
// the root agent gets the minimal raw form.
func (b *Builder) FormatInbound(recipientID string, env *bus.Envelope) string {
	text := PayloadText(env.Payload)

	if recipientID == org.RootAgentID {
		payload, _ := json.Marshal(env.Payload)
		return fmt.Sprintf("from=%s\nto=%s\ntaskId=%s\npayload=%s", env.From, env.To, env.TaskID, payload)
	}
	if env.From == org.UserAgentID {
		return fmt.Sprintf("【from user】 %s", text)
	}
	fromRole := b.registry.RoleNameFor(env.From)
	return fmt.Sprintf("【from %s(%s)】 %s — reply with send_message(to='%s', …)", fromRole, env.From, text, env.From)
}

// PayloadText extracts the text field of a free-form payload, falling back
// to its JSON rendering.
func PayloadText(payload map[string]any) string {
	if payload != nil {
		if t, ok := payload["text"].(string); ok {
			return t
		}
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func renderAny(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "-"
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}
