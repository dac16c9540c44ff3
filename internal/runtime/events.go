package runtime

// Event names broadcast through the event publisher. The gateway relays them
// to WebSocket clients.
const (
	EventMessageSent    = "message_sent"    // {from, to, messageId, taskId}
	EventMessageHandled = "message_handled" // {agent, messageId}
	EventStatusChanged  = "status_changed"  // {agent, status}
	EventAgentSpawned   = "agent_spawned"   // {agent, role, parent}
	EventAgentKilled    = "agent_terminated" // {agent, by, reason}
	EventTokenUsage     = "token_usage"     // convo.ContextStatus + agent
	EventUserMessage    = "user_message"    // envelope addressed to the user
	EventError          = "agent_error"     // {agent, errorType, message}
)
