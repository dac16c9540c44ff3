package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hivemind-dev/hivemind/internal/bus"
	"github.com/hivemind-dev/hivemind/internal/org"
	"github.com/hivemind-dev/hivemind/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendQueueSize  = 64
)

// Client is one WebSocket connection. Writes go through a buffered channel
// drained by a single write pump; slow clients get disconnected rather than
// blocking the broadcaster.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan *protocol.Frame
	done   chan struct{}
}

func NewClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: server,
		send:   make(chan *protocol.Frame, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Enqueue queues a frame for delivery. Returns false when the client's queue
// is full.
func (c *Client) Enqueue(frame *protocol.Frame) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Run drives the read and write pumps until the connection drops.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.conn.Close()
}

func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame protocol.Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "client", c.id, "error", err)
			}
			return
		}
		c.handleFrame(&frame)
	}
}

func (c *Client) handleFrame(frame *protocol.Frame) {
	switch frame.Type {
	case protocol.TypePing:
		c.Enqueue(&protocol.Frame{Type: protocol.TypePong, ID: frame.ID})
	case protocol.TypeSend:
		var req protocol.SendPayload
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			c.Enqueue(&protocol.Frame{Type: protocol.TypeError, ID: frame.ID, Error: "malformed send payload"})
			return
		}
		receipt, err := c.server.rt.Send(bus.SendRequest{
			To:      req.To,
			From:    org.UserAgentID,
			TaskID:  req.TaskID,
			Payload: req.Payload,
			DelayMs: req.DelayMs,
		})
		if err != nil {
			c.Enqueue(&protocol.Frame{Type: protocol.TypeError, ID: frame.ID, Error: err.Error()})
			return
		}
		data, _ := json.Marshal(protocol.ReceiptPayload{
			MessageID:             receipt.MessageID,
			ScheduledDeliveryTime: receipt.ScheduledDeliveryTime,
		})
		c.Enqueue(&protocol.Frame{Type: protocol.TypeReceipt, ID: frame.ID, Payload: data})
	default:
		c.Enqueue(&protocol.Frame{Type: protocol.TypeError, ID: frame.ID, Error: "unknown frame type"})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
