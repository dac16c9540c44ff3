// Package runtime assembles the orchestration core: the registry, bus,
// conversations, LLM pool and tool set, plus the scheduler that drives agent
// turns. It implements the Orchestrator surface the built-in tools call.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hivemind-dev/hivemind/internal/artifacts"
	"github.com/hivemind-dev/hivemind/internal/bus"
	"github.com/hivemind-dev/hivemind/internal/config"
	"github.com/hivemind-dev/hivemind/internal/convo"
	"github.com/hivemind-dev/hivemind/internal/llm"
	"github.com/hivemind-dev/hivemind/internal/org"
	"github.com/hivemind-dev/hivemind/internal/prompt"
	"github.com/hivemind-dev/hivemind/internal/tools"
)

// Runtime owns every subsystem of the orchestration core.
type Runtime struct {
	cfg      *config.Config
	registry *org.Registry
	convos   *convo.Manager
	persist  *convo.Persister
	bus      *bus.MessageBus
	pool     *llm.Pool
	toolset  *tools.Registry
	builder  *prompt.Builder
	store    *artifacts.Store
	events   bus.EventPublisher
	sched    *Scheduler

	// guardStrikes counts consecutive context-exceeded turns per agent. One
	// strike skips the LLM with an advisory; on the second the turn runs so
	// the agent can compress, and a still-exceeded third escalates.
	guardMu      sync.Mutex
	guardStrikes map[string]int

	// activeTask tracks the taskId of the turn each agent is running, so
	// send_message propagates it without the LLM restating it.
	taskMu     sync.RWMutex
	activeTask map[string]string
}

// New builds a runtime from config, restoring persisted org and conversation
// state from runtimeDir.
func New(cfg *config.Config) (*Runtime, error) {
	runtimeDir := cfg.RuntimeDirPath()

	registry := org.NewRegistry()
	orgPersist, err := org.NewPersister(runtimeDir)
	if err != nil {
		return nil, fmt.Errorf("org persistence: %w", err)
	}
	if err := orgPersist.Load(registry); err != nil {
		return nil, fmt.Errorf("restore org state: %w", err)
	}
	registry.SetPersister(orgPersist)

	convos := convo.NewManager(convo.Thresholds{
		MaxTokens: cfg.ContextLimit.MaxTokens,
		Warning:   cfg.ContextLimit.WarningThreshold,
		Critical:  cfg.ContextLimit.CriticalThreshold,
		Hard:      cfg.ContextLimit.HardLimitThreshold,
	})
	persist, err := convo.NewPersister(convos, runtimeDir, cfg.Runtime.PersistDebounce())
	if err != nil {
		return nil, fmt.Errorf("conversation persistence: %w", err)
	}
	persist.LoadAll()

	store, err := artifacts.Open(cfg.ArtifactsDirPath())
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}

	rt := &Runtime{
		cfg:          cfg,
		registry:     registry,
		convos:       convos,
		persist:      persist,
		pool:         llm.NewPool(cfg.LLM, cfg.Runtime.DefaultLLMService),
		toolset:      tools.NewRegistry(),
		builder:      prompt.NewBuilder(registry),
		store:        store,
		events:       bus.NewBroadcaster(),
		guardStrikes: make(map[string]int),
		activeTask:   make(map[string]string),
	}

	rt.bus = bus.New(bus.Hooks{
		Exists:             registry.AgentExists,
		Status:             registry.Status,
		ActivelyProcessing: rt.pool.HasActiveRequest,
		OnInterruptionNeeded: func(agentID string, env *bus.Envelope) {
			slog.Info("interrupting in-flight llm call", "agent", agentID, "message", env.ID)
			rt.pool.Abort(agentID)
		},
	})

	rt.registerTools()
	rt.sched = NewScheduler(rt, cfg.Runtime.MaxConcurrent)
	return rt, nil
}

// registerTools installs the built-in set plus the module tools (fs, runtime,
// web) bound to the configured workspace.
func (rt *Runtime) registerTools() {
	for _, t := range []tools.Tool{
		tools.NewFindRoleTool(rt),
		tools.NewCreateRoleTool(rt),
		tools.NewSpawnAgentTool(rt),
		tools.NewSpawnAgentWithTaskTool(rt),
		tools.NewTerminateAgentTool(rt),
		tools.NewSendMessageTool(rt),
		tools.NewCompressContextTool(rt),
		tools.NewGetContextStatusTool(rt),
		tools.NewPutArtifactTool(rt.store),
		tools.NewGetArtifactTool(rt.store),
	} {
		rt.toolset.Register(t)
	}

	workspace := rt.cfg.WorkspacePath()
	restrict := rt.cfg.Tools.RestrictToWorkspace
	rt.toolset.Register(tools.NewReadFileTool(workspace, restrict))
	rt.toolset.Register(tools.NewWriteFileTool(workspace, restrict))
	rt.toolset.Register(tools.NewListFilesTool(workspace, restrict))
	rt.toolset.Register(tools.NewRunCommandTool(workspace, rt.cfg.Tools.CommandTimeoutSec))
	rt.toolset.Register(tools.NewHTTPRequestTool(rt.cfg.Tools.HTTPTimeoutSec))
}

// Accessors for the gateway and CLI wiring.

func (rt *Runtime) Bus() *bus.MessageBus          { return rt.bus }
func (rt *Runtime) Registry() *org.Registry       { return rt.registry }
func (rt *Runtime) Conversations() *convo.Manager { return rt.convos }
func (rt *Runtime) Events() bus.EventPublisher    { return rt.events }
func (rt *Runtime) Artifacts() *artifacts.Store   { return rt.store }
func (rt *Runtime) Pool() *llm.Pool               { return rt.pool }
func (rt *Runtime) Tools() *tools.Registry        { return rt.toolset }

// Start runs the scheduler until ctx is cancelled.
func (rt *Runtime) Start(ctx context.Context) {
	rt.sched.Run(ctx)
}

// Shutdown stops the runtime. Graceful mode waits for running handlers, then
// forces delayed messages onto queues and flushes persistence. Forced mode
// aborts in-flight LLM calls and drops the delayed heap.
func (rt *Runtime) Shutdown(graceful bool, timeout time.Duration) {
	if graceful {
		rt.sched.Drain(timeout)
		rt.bus.ForceDeliverAllDelayed()
	} else {
		rt.sched.Halt()
		rt.pool.AbortAll()
		rt.bus.DropDelayed()
	}
	rt.persist.FlushAll()
	if err := rt.store.Close(); err != nil {
		slog.Error("artifact store close failed", "error", err)
	}
	slog.Info("runtime stopped", "graceful", graceful)
}

// --- tools.Orchestrator ---

func (rt *Runtime) FindRoleByName(name string) *org.Role { return rt.registry.FindRoleByName(name) }

func (rt *Runtime) CreateRole(name, rolePrompt, llmServiceID string, toolGroups []string, createdBy string) *org.Role {
	return rt.registry.CreateRole(name, rolePrompt, llmServiceID, toolGroups, createdBy)
}

func (rt *Runtime) SpawnAgent(roleID, parentID string, brief *org.TaskBrief) (*org.Agent, error) {
	agent, err := rt.registry.SpawnAgent(roleID, parentID, brief)
	if err != nil {
		return nil, err
	}
	rt.events.Broadcast(bus.Event{Name: EventAgentSpawned, Payload: map[string]any{
		"agent":  agent.ID,
		"role":   rt.RoleNameOf(agent.RoleID),
		"parent": parentID,
	}})
	return agent, nil
}

// Terminate runs the full termination sequence: status flips to terminating
// so the bus rejects new sends, the queue drains, any in-flight LLM call is
// aborted, and conversation plus brief are removed.
func (rt *Runtime) Terminate(agentID, callerID, reason string) error {
	agent := rt.registry.Agent(agentID)
	if agent == nil {
		return org.ErrAgentNotFound
	}
	if agent.ParentAgentID != callerID {
		return org.ErrNotChildAgent
	}

	rt.registry.BeginTermination(agentID)
	purged := rt.bus.PurgeQueue(agentID)
	rt.pool.Abort(agentID)
	rt.convos.Remove(agentID)
	if err := rt.registry.TerminateAgent(agentID, callerID, reason); err != nil {
		return err
	}

	rt.guardMu.Lock()
	delete(rt.guardStrikes, agentID)
	rt.guardMu.Unlock()

	if purged > 0 {
		slog.Info("purged queue on termination", "agent", agentID, "count", purged)
	}
	rt.events.Broadcast(bus.Event{Name: EventAgentKilled, Payload: map[string]any{
		"agent": agentID, "by": callerID, "reason": reason,
	}})
	return nil
}

func (rt *Runtime) Send(req bus.SendRequest) (*bus.Receipt, error) {
	receipt, err := rt.bus.Send(req)
	if err != nil {
		return nil, err
	}
	rt.events.Broadcast(bus.Event{Name: EventMessageSent, Payload: map[string]any{
		"from": req.From, "to": req.To, "messageId": receipt.MessageID, "taskId": req.TaskID,
	}})
	return receipt, nil
}

func (rt *Runtime) Compress(agentID, summary string, keepRecent int) (*convo.CompressResult, error) {
	res := rt.convos.Compress(agentID, summary, keepRecent)
	if !res.OK {
		return nil, fmt.Errorf("no conversation for agent %s", agentID)
	}
	return &res, nil
}

func (rt *Runtime) ContextStatus(agentID string) convo.ContextStatus {
	return rt.convos.GetContextStatus(agentID)
}

func (rt *Runtime) RoleNameOf(roleID string) string {
	if role := rt.registry.Role(roleID); role != nil {
		return role.Name
	}
	return ""
}

// StopAgent pauses dispatch for an agent; its queue keeps accumulating.
func (rt *Runtime) StopAgent(agentID string) error {
	if rt.registry.Agent(agentID) == nil {
		return org.ErrAgentNotFound
	}
	switch rt.registry.Status(agentID) {
	case org.StatusIdle, org.StatusStopped:
		rt.setStatus(agentID, org.StatusStopped)
	default:
		rt.setStatus(agentID, org.StatusStopping)
	}
	return nil
}

// ResumeAgent returns a stopped agent to idle so queued work dispatches.
func (rt *Runtime) ResumeAgent(agentID string) error {
	if rt.registry.Agent(agentID) == nil {
		return org.ErrAgentNotFound
	}
	s := rt.registry.Status(agentID)
	if s == org.StatusStopped || s == org.StatusStopping {
		rt.setStatus(agentID, org.StatusIdle)
	}
	return nil
}

func (rt *Runtime) setStatus(agentID string, s org.ComputeStatus) {
	rt.registry.SetStatus(agentID, s)
	rt.events.Broadcast(bus.Event{Name: EventStatusChanged, Payload: map[string]any{
		"agent": agentID, "status": string(s),
	}})
}

// notifyError reports a handler failure upward: to the agent's parent, or to
// the user when the failing agent is root.
func (rt *Runtime) notifyError(agentID, errorType, message string) {
	target := org.UserAgentID
	if agent := rt.registry.Agent(agentID); agent != nil && agent.ParentAgentID != "" {
		target = agent.ParentAgentID
	}
	_, err := rt.Send(bus.SendRequest{
		To:   target,
		From: agentID,
		Payload: map[string]any{
			"kind":      "error",
			"errorType": errorType,
			"agentId":   agentID,
			"message":   message,
		},
	})
	if err != nil {
		slog.Error("error notification undeliverable", "agent", agentID, "target", target, "error", err)
	}
	rt.events.Broadcast(bus.Event{Name: EventError, Payload: map[string]any{
		"agent": agentID, "errorType": errorType, "message": message,
	}})
}
