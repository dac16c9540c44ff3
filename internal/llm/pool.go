package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/hivemind-dev/hivemind/internal/config"
)

// Pool holds the configured chat services and the per-agent abort registry.
// A global inflight semaphore bounds concurrent outbound requests
// independently of the scheduler's handler cap; per-service rate limiters
// smooth request bursts.
type Pool struct {
	mu        sync.Mutex
	services  map[string]Client
	limiters  map[string]*rate.Limiter
	defaultID string
	sem       chan struct{}
	active    map[string]context.CancelFunc // agentID -> abort
}

// NewPool builds clients for every configured service.
func NewPool(cfg config.LLMConfig, defaultID string) *Pool {
	maxInflight := cfg.MaxInflight
	if maxInflight <= 0 {
		maxInflight = 8
	}
	p := &Pool{
		services:  make(map[string]Client),
		limiters:  make(map[string]*rate.Limiter),
		defaultID: defaultID,
		sem:       make(chan struct{}, maxInflight),
		active:    make(map[string]context.CancelFunc),
	}
	for id, svc := range cfg.Services {
		p.services[id] = NewOpenAIClient(id, svc.APIKey, svc.BaseURL, svc.Model, svc.MaxRetries, svc.RequestTimeoutSec)
		if svc.RequestsPerMinute > 0 {
			p.limiters[id] = rate.NewLimiter(rate.Limit(svc.RequestsPerMinute/60), 1)
		}
	}
	return p
}

// Reconfigure rebuilds the clients and limiters for every service in cfg,
// applied on config hot-reload so endpoint, model and key changes take
// effect without a restart. Services absent from cfg keep their current
// client; in-flight calls finish on the client they started with.
func (p *Pool) Reconfigure(cfg config.LLMConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, svc := range cfg.Services {
		p.services[id] = NewOpenAIClient(id, svc.APIKey, svc.BaseURL, svc.Model, svc.MaxRetries, svc.RequestTimeoutSec)
		if svc.RequestsPerMinute > 0 {
			p.limiters[id] = rate.NewLimiter(rate.Limit(svc.RequestsPerMinute/60), 1)
		} else {
			delete(p.limiters, id)
		}
	}
}

// Register installs a client under an id (used by tests and custom wiring).
func (p *Pool) Register(id string, c Client) {
	p.mu.Lock()
	p.services[id] = c
	p.mu.Unlock()
}

// Chat performs one abortable chat call on behalf of an agent. The call is
// registered under the agent id for the interruption path; Abort cancels it.
func (p *Pool) Chat(ctx context.Context, agentID string, req Request) (*Response, error) {
	id := req.ServiceID
	if id == "" {
		id = p.defaultID
	}
	p.mu.Lock()
	client, ok := p.services[id]
	limiter := p.limiters[id]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("llm service %q not configured", id)
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	p.active[agentID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.active, agentID)
		p.mu.Unlock()
	}()

	// Global inflight cap, then per-service pacing.
	select {
	case p.sem <- struct{}{}:
	case <-callCtx.Done():
		return nil, abortErr(ctx, callCtx)
	}
	defer func() { <-p.sem }()

	if limiter != nil {
		if err := limiter.Wait(callCtx); err != nil {
			return nil, abortErr(ctx, callCtx)
		}
	}

	resp, err := client.Chat(callCtx, req)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, abortErr(ctx, callCtx)
		}
		return nil, err
	}
	return resp, nil
}

// abortErr distinguishes an Abort() from parent-context cancellation.
func abortErr(parent, call context.Context) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if call.Err() != nil {
		return ErrAborted
	}
	return call.Err()
}

// HasActiveRequest reports whether the agent has an in-flight chat call.
func (p *Pool) HasActiveRequest(agentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[agentID]
	return ok
}

// Abort cancels the agent's in-flight chat call, if any.
func (p *Pool) Abort(agentID string) bool {
	p.mu.Lock()
	cancel, ok := p.active[agentID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// AbortAll cancels every in-flight call. Forced shutdown only.
func (p *Pool) AbortAll() int {
	p.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(p.active))
	for _, c := range p.active {
		cancels = append(cancels, c)
	}
	p.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	return len(cancels)
}

// IsAbort reports whether err is a clean cancellation (either the abort
// registry or the surrounding context).
func IsAbort(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}
