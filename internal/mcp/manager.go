// Package mcp connects to configured MCP servers and bridges their
// discovered tools into the tool registry. Bridged tools carry the "mcp"
// group plus a per-server "mcp:<name>" group so role toolGroups can gate
// them like any built-in.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/hivemind-dev/hivemind/internal/config"
	"github.com/hivemind-dev/hivemind/internal/tools"
)

const healthCheckInterval = 30 * time.Second

// ServerStatus reports the connection state of one MCP server.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"toolCount"`
	Error     string `json:"error,omitempty"`
}

// serverState tracks a single server connection.
type serverState struct {
	name      string
	transport string
	client    *mcpclient.Client
	connected atomic.Bool
	toolNames []string
	cancel    context.CancelFunc

	mu      sync.Mutex
	lastErr string
}

// Manager owns the MCP server connections and the tools they contribute.
type Manager struct {
	mu       sync.RWMutex
	servers  map[string]*serverState
	registry *tools.Registry
	configs  map[string]*config.MCPServerConfig
}

func NewManager(registry *tools.Registry, configs map[string]*config.MCPServerConfig) *Manager {
	return &Manager{
		servers:  make(map[string]*serverState),
		registry: registry,
		configs:  configs,
	}
}

// Start connects every enabled server. Individual failures are logged and
// collected; the runtime keeps serving with whatever connected.
func (m *Manager) Start(ctx context.Context) error {
	var errs []string
	for name, cfg := range m.configs {
		if !cfg.IsEnabled() {
			slog.Info("mcp server disabled", "server", name)
			continue
		}
		if err := m.connect(ctx, name, cfg); err != nil {
			slog.Warn("mcp server connect failed", "server", name, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("mcp servers failed to connect: %s", strings.Join(errs, "; "))
	}
	return nil
}

// connect establishes the transport, runs the MCP handshake, discovers tools
// and registers a bridge for each.
func (m *Manager) connect(ctx context.Context, name string, cfg *config.MCPServerConfig) error {
	client, err := newClient(cfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	// Stdio transports start on creation; network transports need Start.
	if cfg.Transport != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "hivemind", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	list, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	ss := &serverState{name: name, transport: cfg.Transport, client: client}
	ss.connected.Store(true)

	var names []string
	for _, mt := range list.Tools {
		bt := NewBridgeTool(name, mt, client, cfg.ToolPrefix, cfg.TimeoutSec, &ss.connected)
		if _, exists := m.registry.Get(bt.Name()); exists {
			slog.Warn("mcp tool name collision, skipped", "server", name, "tool", bt.Name())
			continue
		}
		m.registry.Register(bt)
		names = append(names, bt.Name())
	}
	ss.toolNames = names
	if len(names) > 0 {
		tools.RegisterToolGroup("mcp:"+name, names)
	}

	hctx, hcancel := context.WithCancel(context.Background())
	ss.cancel = hcancel
	go m.healthLoop(hctx, ss)

	m.mu.Lock()
	m.servers[name] = ss
	m.mu.Unlock()
	m.refreshGroup()

	slog.Info("mcp server connected", "server", name, "transport", cfg.Transport, "tools", len(names))
	return nil
}

func newClient(cfg *config.MCPServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio":
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		return mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(cfg.Headers))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)
	case "streamable-http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
	default:
		return nil, fmt.Errorf("unsupported transport: %q", cfg.Transport)
	}
}

// healthLoop pings the server on an interval. A failed ping flips the
// connected flag so bridge calls short-circuit instead of hanging; a later
// successful ping flips it back.
func (m *Manager) healthLoop(ctx context.Context, ss *serverState) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := ss.client.Ping(ctx)
			// Servers without a ping handler are still alive.
			if err != nil && strings.Contains(strings.ToLower(err.Error()), "method not found") {
				err = nil
			}
			if err != nil {
				ss.connected.Store(false)
				ss.mu.Lock()
				ss.lastErr = err.Error()
				ss.mu.Unlock()
				slog.Warn("mcp server health check failed", "server", ss.name, "error", err)
				continue
			}
			if !ss.connected.Load() {
				slog.Info("mcp server recovered", "server", ss.name)
			}
			ss.connected.Store(true)
			ss.mu.Lock()
			ss.lastErr = ""
			ss.mu.Unlock()
		}
	}
}

// ToolNames returns all bridged tool names across servers.
func (m *Manager) ToolNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for _, ss := range m.servers {
		names = append(names, ss.toolNames...)
	}
	return names
}

// refreshGroup rebuilds the aggregate "mcp" group. Called with m.mu not
// held.
func (m *Manager) refreshGroup() {
	names := m.ToolNames()
	if len(names) > 0 {
		tools.RegisterToolGroup("mcp", names)
	} else {
		tools.UnregisterToolGroup("mcp")
	}
}

// ServerStatus reports every server for the status endpoint.
func (m *Manager) ServerStatus() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		ss.mu.Lock()
		lastErr := ss.lastErr
		ss.mu.Unlock()
		out = append(out, ServerStatus{
			Name:      ss.name,
			Transport: ss.transport,
			Connected: ss.connected.Load(),
			ToolCount: len(ss.toolNames),
			Error:     lastErr,
		})
	}
	return out
}

// Stop closes every connection and unregisters the bridged tools.
func (m *Manager) Stop() {
	m.mu.Lock()
	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		if err := ss.client.Close(); err != nil {
			slog.Debug("mcp server close error", "server", name, "error", err)
		}
		for _, toolName := range ss.toolNames {
			m.registry.Unregister(toolName)
		}
		tools.UnregisterToolGroup("mcp:" + name)
	}
	m.servers = make(map[string]*serverState)
	m.mu.Unlock()
	m.refreshGroup()
}
