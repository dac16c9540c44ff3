package runtime

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hivemind-dev/hivemind/internal/bus"
	"github.com/hivemind-dev/hivemind/internal/org"
)

// Scheduler drives agent turns: it watches the bus, picks idle agents with
// queued messages oldest-first, and runs up to maxConcurrent handlers.
type Scheduler struct {
	rt            *Runtime
	maxConcurrent int

	mu      sync.Mutex
	running map[string]bool
	halted  bool

	done chan struct{} // ticked by finished handlers
	wg   sync.WaitGroup
}

func NewScheduler(rt *Runtime, maxConcurrent int) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Scheduler{
		rt:            rt,
		maxConcurrent: maxConcurrent,
		running:       make(map[string]bool),
		done:          make(chan struct{}, 1),
	}
}

// Run loops until ctx is cancelled: deliver due delayed messages, dispatch
// eligible agents, then sleep until the bus signals or the next delayed
// message comes due.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("scheduler started", "maxConcurrent", s.maxConcurrent)
	b := s.rt.bus
	for {
		b.DeliverDueMessages()
		s.dispatch(ctx)

		var timer *time.Timer
		var due <-chan time.Time
		if next, ok := b.NextDue(); ok {
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			due = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			slog.Info("scheduler stopping")
			return
		case <-b.Notify():
		case <-due:
		case <-s.done:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// dispatch starts handlers for eligible agents while slots remain. An agent
// is eligible when its queue is non-empty, its status is idle, and no handler
// is already running for it. Ready agents go oldest queued message first.
func (s *Scheduler) dispatch(ctx context.Context) {
	type candidate struct {
		agentID string
		since   time.Time
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return
	}

	slots := s.maxConcurrent - len(s.running)
	if slots <= 0 {
		return
	}

	var ready []candidate
	for _, id := range s.rt.bus.Recipients() {
		if id == org.UserAgentID || s.running[id] {
			continue
		}
		if s.rt.registry.Status(id) != org.StatusIdle {
			continue
		}
		if since, ok := s.rt.bus.QueueHeadSince(id); ok {
			ready = append(ready, candidate{agentID: id, since: since})
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].since.Before(ready[j].since) })

	for _, c := range ready {
		if slots == 0 {
			return
		}
		env := s.rt.bus.ReceiveNext(c.agentID)
		if env == nil {
			continue
		}
		s.running[c.agentID] = true
		slots--
		s.wg.Add(1)
		go func(agentID string, env *bus.Envelope) {
			defer s.wg.Done()
			s.rt.runTurn(ctx, agentID, env)
		}(c.agentID, env)
	}
}

// turnDone releases the agent's slot and wakes the loop.
func (s *Scheduler) turnDone(agentID string) {
	s.mu.Lock()
	delete(s.running, agentID)
	s.mu.Unlock()
	select {
	case s.done <- struct{}{}:
	default:
	}
}

// Drain stops dispatching and waits up to timeout for running handlers.
func (s *Scheduler) Drain(timeout time.Duration) {
	s.mu.Lock()
	s.halted = true
	n := len(s.running)
	s.mu.Unlock()
	if n > 0 {
		slog.Info("waiting for running handlers", "count", n, "timeout", timeout)
	}

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(timeout):
		slog.Warn("drain timeout, handlers still running")
	}
}

// Halt stops dispatching immediately without waiting.
func (s *Scheduler) Halt() {
	s.mu.Lock()
	s.halted = true
	s.mu.Unlock()
}

// RunningCount reports how many handlers are active.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}
