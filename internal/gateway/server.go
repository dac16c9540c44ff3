// Package gateway is the HTTP/WebSocket surface: user messages in, runtime
// events out, plus a read-mostly admin API over agents, roles and artifacts.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hivemind-dev/hivemind/internal/bus"
	"github.com/hivemind-dev/hivemind/internal/config"
	"github.com/hivemind-dev/hivemind/internal/org"
	"github.com/hivemind-dev/hivemind/internal/runtime"
	"github.com/hivemind-dev/hivemind/pkg/protocol"
)

// Server handles WebSocket and HTTP connections for one runtime.
type Server struct {
	cfg *config.Config
	rt  *runtime.Runtime

	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter

	mu            sync.RWMutex
	clients       map[string]*Client
	clientArrived chan struct{}

	statusMu        sync.RWMutex
	statusProviders map[string]func() any

	httpServer *http.Server
	mux        *http.ServeMux
}

func NewServer(cfg *config.Config, rt *runtime.Runtime) *Server {
	s := &Server{
		cfg:           cfg,
		rt:            rt,
		clients:       make(map[string]*Client),
		clientArrived: make(chan struct{}, 1),
		rateLimiter:   NewRateLimiter(cfg.Gateway.RateLimitRPM),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin validates the WebSocket Origin header against the configured
// whitelist. No configuration allows all origins; an empty Origin header
// (CLI, SDK) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("websocket origin rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux. Called before Start when an
// additional listener (tsnet) needs the same handler.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/agents/{id}/messages", s.auth(s.handleSendMessage))
	mux.HandleFunc("GET /api/agents", s.auth(s.handleListAgents))
	mux.HandleFunc("GET /api/agents/{id}", s.auth(s.handleGetAgent))
	mux.HandleFunc("POST /api/agents/{id}/stop", s.auth(s.handleStopAgent))
	mux.HandleFunc("POST /api/agents/{id}/resume", s.auth(s.handleResumeAgent))
	mux.HandleFunc("GET /api/roles", s.auth(s.handleListRoles))
	mux.HandleFunc("GET /api/status", s.auth(s.handleStatus))
	mux.HandleFunc("GET /api/artifacts", s.auth(s.handleListArtifacts))
	mux.HandleFunc("POST /api/artifacts", s.auth(s.handleUploadArtifact))

	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled. The runtime's event publisher feeds
// every connected WebSocket client; messages addressed to the user are
// drained while at least one client is connected.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	s.rt.Events().Subscribe("gateway", s.onEvent)
	defer s.rt.Events().Unsubscribe("gateway")
	go s.drainUserQueue(ctx)

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// onEvent relays a runtime event to every connected client.
func (s *Server) onEvent(event bus.Event) {
	frame, err := protocol.EventFrame(event.Name, event.Payload)
	if err != nil {
		slog.Error("event encode failed", "event", event.Name, "error", err)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if !c.Enqueue(frame) {
			slog.Warn("dropping event for slow client", "client", c.id, "event", event.Name)
		}
	}
}

// drainUserQueue consumes the user's bus queue while clients are connected
// and rebroadcasts each envelope as a user_message event. With no clients the
// queue accumulates.
func (s *Server) drainUserQueue(ctx context.Context) {
	for ctx.Err() == nil {
		if s.clientCount() == 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.clientArrived:
			}
			continue
		}
		if err := s.rt.Bus().WaitForMessage(ctx, org.UserAgentID); err != nil {
			return
		}
		if env := s.rt.Bus().ReceiveNext(org.UserAgentID); env != nil {
			s.rt.Events().Broadcast(bus.Event{Name: runtime.EventUserMessage, Payload: env})
		}
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.mu.Lock()
	s.clients[client.id] = client
	s.mu.Unlock()
	select {
	case s.clientArrived <- struct{}{}:
	default:
	}
	slog.Info("websocket client connected", "client", client.id)

	defer func() {
		s.mu.Lock()
		delete(s.clients, client.id)
		s.mu.Unlock()
		client.Close()
		slog.Info("websocket client disconnected", "client", client.id)
	}()
	client.Run(r.Context())
}

// authorized checks the gateway token from the Authorization header or the
// token query parameter. An empty configured token disables auth (dev mode).
func (s *Server) authorized(r *http.Request) bool {
	token := s.cfg.Gateway.Token
	if token == "" {
		return true
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ") == token
	}
	return r.URL.Query().Get("token") == token
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if s.rateLimiter.Enabled() {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !s.rateLimiter.Allow(host) {
				http.Error(w, `{"error":"rate_limited"}`, http.StatusTooManyRequests)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

// handleSendMessage injects a user message addressed to one agent.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	var req protocol.SendPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	receipt, err := s.rt.Send(bus.SendRequest{
		To:      agentID,
		From:    org.UserAgentID,
		TaskID:  req.TaskID,
		Payload: req.Payload,
		DelayMs: req.DelayMs,
	})
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, org.ErrAgentNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, protocol.ReceiptPayload{
		MessageID:             receipt.MessageID,
		ScheduledDeliveryTime: receipt.ScheduledDeliveryTime,
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	registry := s.rt.Registry()
	agents := registry.Agents()
	out := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		out = append(out, map[string]any{
			"id":            a.ID,
			"roleId":        a.RoleID,
			"roleName":      registry.RoleNameFor(a.ID),
			"parentAgentId": a.ParentAgentID,
			"status":        registry.Status(a.ID),
			"queueDepth":    s.rt.Bus().QueueDepth(a.ID),
			"createdAt":     a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	registry := s.rt.Registry()
	agent := registry.Agent(agentID)
	if agent == nil {
		writeError(w, http.StatusNotFound, org.ErrAgentNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            agent.ID,
		"roleId":        agent.RoleID,
		"roleName":      registry.RoleNameFor(agent.ID),
		"parentAgentId": agent.ParentAgentID,
		"status":        registry.Status(agent.ID),
		"queueDepth":    s.rt.Bus().QueueDepth(agent.ID),
		"taskBrief":     registry.Brief(agent.ID),
		"contacts":      registry.Contacts(agent.ID),
		"context":       s.rt.ContextStatus(agent.ID),
		"createdAt":     agent.CreatedAt,
	})
}

func (s *Server) handleStopAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.StopAgent(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleResumeAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.ResumeAgent(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Registry().Roles())
}

// RegisterStatusProvider adds a named section to the /api/status payload.
// Subsystems assembled outside the runtime (mcp servers, tsnet) report
// through this.
func (s *Server) RegisterStatusProvider(name string, fn func() any) {
	s.statusMu.Lock()
	if s.statusProviders == nil {
		s.statusProviders = make(map[string]func() any)
	}
	s.statusProviders[name] = fn
	s.statusMu.Unlock()
}

func (s *Server) statusExtras() map[string]any {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	if len(s.statusProviders) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.statusProviders))
	for name, fn := range s.statusProviders {
		out[name] = fn()
	}
	return out
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	registry := s.rt.Registry()
	active := 0
	for _, a := range registry.Agents() {
		if a.Status == "active" {
			active++
		}
	}
	payload := map[string]any{
		"agents":       active,
		"delayed":      s.rt.Bus().DelayedCount(),
		"userQueue":    s.rt.Bus().QueueDepth(org.UserAgentID),
		"wsClients":    s.clientCount(),
		"terminations": len(registry.Terminations()),
	}
	for name, v := range s.statusExtras() {
		payload[name] = v
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	metas, err := s.rt.Artifacts().List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, metas)
}

// handleUploadArtifact stores a raw request body as an artifact. Filename and
// type come from query parameters, the mime type from Content-Type.
func (s *Server) handleUploadArtifact(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	typ := r.URL.Query().Get("type")
	if typ == "" {
		typ = "file"
	}
	ref, meta, err := s.rt.Artifacts().SaveUploadedFile(r.Context(), data,
		r.URL.Query().Get("filename"), r.Header.Get("Content-Type"), typ)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"artifactRef": ref, "metadata": meta})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
