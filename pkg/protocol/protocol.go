// Package protocol defines the WebSocket wire frames exchanged between the
// gateway and its clients.
package protocol

import "encoding/json"

// ProtocolVersion is bumped on incompatible frame changes.
const ProtocolVersion = 1

// Frame types.
const (
	TypeSend    = "send"    // client -> server: send a message onto the bus
	TypeReceipt = "receipt" // server -> client: reply to a send
	TypeEvent   = "event"   // server -> client: broadcast runtime event
	TypeError   = "error"   // server -> client: reply to a failed send
	TypePing    = "ping"    // client -> server keepalive
	TypePong    = "pong"
)

// Frame is the envelope for every WebSocket message.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"` // client correlation id, echoed on receipt/error
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// SendPayload is the payload of a TypeSend frame. From is always the user
// endpoint; clients cannot impersonate agents.
type SendPayload struct {
	To      string         `json:"to"`
	Payload map[string]any `json:"payload"`
	TaskID  string         `json:"taskId,omitempty"`
	DelayMs int64          `json:"delayMs,omitempty"`
}

// ReceiptPayload is the payload of a TypeReceipt frame.
type ReceiptPayload struct {
	MessageID             string `json:"messageId"`
	ScheduledDeliveryTime int64  `json:"scheduledDeliveryTime,omitempty"`
}

// EventFrame builds a server event frame.
func EventFrame(event string, payload any) (*Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: TypeEvent, Event: event, Payload: data}, nil
}
