// Package bus routes envelopes between agents: per-recipient FIFO queues,
// at-most-once delivery, a delayed-delivery heap, and interruption hooks for
// in-flight LLM calls.
package bus

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hivemind-dev/hivemind/internal/org"
)

// Envelope is an immutable routed message.
type Envelope struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	To        string         `json:"to"`
	From      string         `json:"from"`
	TaskID    string         `json:"taskId,omitempty"`
	Payload   map[string]any `json:"payload"`
	DeliverAt int64          `json:"deliverAt,omitempty"` // unix millis, 0 = immediate
}

// SendRequest is the input to Send. Negative DelayMs is normalised to 0.
type SendRequest struct {
	To      string
	From    string
	TaskID  string
	Payload map[string]any
	DelayMs int64
}

// Receipt confirms an accepted send.
type Receipt struct {
	MessageID             string `json:"messageId"`
	ScheduledDeliveryTime int64  `json:"scheduledDeliveryTime,omitempty"`
}

// Hooks connect the bus to the runtime. Exists gates recipients, Status
// drives rejection, ActivelyProcessing plus OnInterruptionNeeded implement
// the interruption path.
type Hooks struct {
	Exists               func(agentID string) bool
	Status               func(agentID string) org.ComputeStatus
	ActivelyProcessing   func(agentID string) bool
	OnInterruptionNeeded func(agentID string, env *Envelope)
}

// MessageBus is safe for many producers and a single scheduler consumer.
type MessageBus struct {
	mu      sync.Mutex
	queues  map[string][]*Envelope
	delayed delayHeap
	seq     uint64
	waiters map[string][]chan struct{}
	notify  chan struct{}
	hooks   Hooks
}

func New(hooks Hooks) *MessageBus {
	return &MessageBus{
		queues:  make(map[string][]*Envelope),
		waiters: make(map[string][]chan struct{}),
		notify:  make(chan struct{}, 1),
		hooks:   hooks,
	}
}

// Notify returns a channel that receives a tick whenever an envelope is
// enqueued or scheduled. The scheduler waits on it between passes.
func (b *MessageBus) Notify() <-chan struct{} { return b.notify }

// Send validates the recipient, fires the interruption hook when needed, and
// enqueues or schedules the envelope. At-most-once: an accepted envelope is
// delivered to exactly one ReceiveNext.
func (b *MessageBus) Send(req SendRequest) (*Receipt, error) {
	if b.hooks.Exists != nil && !b.hooks.Exists(req.To) {
		return nil, org.ErrAgentNotFound
	}
	var status org.ComputeStatus
	if b.hooks.Status != nil {
		status = b.hooks.Status(req.To)
	}
	if status == org.StatusTerminating || status == org.StatusTerminated {
		return nil, org.ErrAgentTerminating
	}

	delay := req.DelayMs
	if delay < 0 {
		delay = 0
	}

	env := &Envelope{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		To:        req.To,
		From:      req.From,
		TaskID:    req.TaskID,
		Payload:   req.Payload,
	}

	// Interruption hook: new message for an agent blocked on an LLM call.
	// Invoked before enqueueing, outside the bus lock; the envelope is
	// enqueued regardless of what the callback does.
	if delay == 0 && status == org.StatusWaitingLLM &&
		b.hooks.ActivelyProcessing != nil && b.hooks.ActivelyProcessing(req.To) &&
		b.hooks.OnInterruptionNeeded != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("interruption hook panicked", "agent", req.To, "panic", r)
				}
			}()
			b.hooks.OnInterruptionNeeded(req.To, env)
		}()
	}

	if delay > 0 {
		env.DeliverAt = time.Now().Add(time.Duration(delay) * time.Millisecond).UnixMilli()
		b.mu.Lock()
		b.seq++
		heap.Push(&b.delayed, &delayedItem{env: env, seq: b.seq})
		b.mu.Unlock()
		b.wakeScheduler()
		return &Receipt{MessageID: env.ID, ScheduledDeliveryTime: env.DeliverAt}, nil
	}

	b.mu.Lock()
	b.enqueueLocked(env)
	b.mu.Unlock()
	b.wakeScheduler()
	return &Receipt{MessageID: env.ID}, nil
}

// enqueueLocked appends and signals waiters. Caller holds b.mu.
func (b *MessageBus) enqueueLocked(env *Envelope) {
	b.queues[env.To] = append(b.queues[env.To], env)
	for _, w := range b.waiters[env.To] {
		close(w)
	}
	delete(b.waiters, env.To)
}

// ReceiveNext pops the next envelope for the recipient, or nil.
func (b *MessageBus) ReceiveNext(agentID string) *Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[agentID]
	if len(q) == 0 {
		return nil
	}
	env := q[0]
	if len(q) == 1 {
		delete(b.queues, agentID)
	} else {
		b.queues[agentID] = q[1:]
	}
	return env
}

// WaitForMessage blocks until the recipient's queue is non-empty or ctx is
// cancelled. No busy polling; enqueues signal registered waiters.
func (b *MessageBus) WaitForMessage(ctx context.Context, agentID string) error {
	for {
		b.mu.Lock()
		if len(b.queues[agentID]) > 0 {
			b.mu.Unlock()
			return nil
		}
		w := make(chan struct{})
		b.waiters[agentID] = append(b.waiters[agentID], w)
		b.mu.Unlock()

		select {
		case <-w:
			return nil
		case <-ctx.Done():
			b.removeWaiter(agentID, w)
			return ctx.Err()
		}
	}
}

func (b *MessageBus) removeWaiter(agentID string, w chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ws := b.waiters[agentID]
	for i, cand := range ws {
		if cand == w {
			b.waiters[agentID] = append(ws[:i], ws[i+1:]...)
			return
		}
	}
}

// DeliverDueMessages moves every delayed envelope whose deliverAt has passed
// onto its recipient queue. Ties on deliverAt deliver in send order.
func (b *MessageBus) DeliverDueMessages() int {
	now := time.Now().UnixMilli()
	b.mu.Lock()
	count := 0
	for b.delayed.Len() > 0 && b.delayed[0].env.DeliverAt <= now {
		item := heap.Pop(&b.delayed).(*delayedItem)
		b.enqueueLocked(item.env)
		count++
	}
	b.mu.Unlock()
	if count > 0 {
		b.wakeScheduler()
	}
	return count
}

// ForceDeliverAllDelayed flushes the entire delayed heap onto the queues,
// regardless of deliverAt. Used on graceful shutdown so in-flight timers are
// observed.
func (b *MessageBus) ForceDeliverAllDelayed() int {
	b.mu.Lock()
	count := 0
	for b.delayed.Len() > 0 {
		item := heap.Pop(&b.delayed).(*delayedItem)
		b.enqueueLocked(item.env)
		count++
	}
	b.mu.Unlock()
	if count > 0 {
		b.wakeScheduler()
	}
	return count
}

// DropDelayed discards all delayed envelopes. Forced shutdown only.
func (b *MessageBus) DropDelayed() int {
	b.mu.Lock()
	n := b.delayed.Len()
	b.delayed = b.delayed[:0]
	b.mu.Unlock()
	if n > 0 {
		slog.Warn("dropped delayed messages on forced shutdown", "count", n)
	}
	return n
}

// NextDue returns the earliest pending delivery time, if any.
func (b *MessageBus) NextDue() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.delayed.Len() == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(b.delayed[0].env.DeliverAt), true
}

// QueueDepth returns the number of queued envelopes for a recipient.
func (b *MessageBus) QueueDepth(agentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[agentID])
}

// DelayedCount returns the delayed heap size.
func (b *MessageBus) DelayedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delayed.Len()
}

// Recipients lists agents with non-empty queues.
func (b *MessageBus) Recipients() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.queues))
	for id, q := range b.queues {
		if len(q) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// QueueHeadSince returns the creation time of the oldest queued envelope for
// the recipient. The scheduler uses it for oldest-first selection.
func (b *MessageBus) QueueHeadSince(agentID string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[agentID]
	if len(q) == 0 {
		return time.Time{}, false
	}
	return q[0].CreatedAt, true
}

// PurgeQueue drops every queued envelope for a recipient (termination path)
// and returns how many were discarded.
func (b *MessageBus) PurgeQueue(agentID string) int {
	b.mu.Lock()
	n := len(b.queues[agentID])
	delete(b.queues, agentID)
	b.mu.Unlock()
	return n
}

func (b *MessageBus) wakeScheduler() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}
