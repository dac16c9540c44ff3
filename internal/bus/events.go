package bus

import "sync"

// Event is a server-side event broadcast to WebSocket clients and other
// subscribers (message sent/received, compute-status change, token usage).
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription so the gateway and
// runtime stay decoupled from the concrete broadcaster.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// Broadcaster is the in-process EventPublisher.
type Broadcaster struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{handlers: make(map[string]EventHandler)}
}

func (b *Broadcaster) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	b.handlers[id] = handler
	b.mu.Unlock()
}

func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
}

// Broadcast delivers the event to every subscriber. Handlers must not block.
func (b *Broadcaster) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(event)
	}
}
