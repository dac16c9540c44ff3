// Package config holds the runtime configuration: file values (JSON5) with
// environment variable overlays. Secrets come from env only and are never
// written back to disk.
package config

import (
	"time"
)

// Config is the root configuration for the hivemind runtime.
type Config struct {
	Runtime      RuntimeConfig               `json:"runtime"`
	ContextLimit ContextLimitConfig          `json:"contextLimit"`
	LLM          LLMConfig                   `json:"llm"`
	Gateway      GatewayConfig               `json:"gateway"`
	Tools        ToolsConfig                 `json:"tools"`
	Telemetry    TelemetryConfig             `json:"telemetry,omitempty"`
	Tailscale    TailscaleConfig             `json:"tailscale,omitempty"`
	Cron         []CronSchedule              `json:"cron,omitempty"`
	MCPServers   map[string]*MCPServerConfig `json:"mcpServers,omitempty"`
}

// RuntimeConfig bounds the scheduler and persistence layer.
type RuntimeConfig struct {
	MaxConcurrent    int    `json:"maxConcurrent"`    // scheduler handler cap (>=1)
	MaxToolRounds    int    `json:"maxToolRounds"`    // tool-loop budget per turn (>=1)
	PersistDebounceMs int   `json:"persistDebounceMs"`
	RuntimeDir       string `json:"runtimeDir"`
	ArtifactsDir     string `json:"artifactsDir"`
	DefaultLLMService string `json:"defaultLlmServiceId"`
}

// PersistDebounce returns the debounce as a duration.
func (r RuntimeConfig) PersistDebounce() time.Duration {
	return time.Duration(r.PersistDebounceMs) * time.Millisecond
}

// ContextLimitConfig sets the context-window guardrails.
type ContextLimitConfig struct {
	MaxTokens          int     `json:"maxTokens"`
	WarningThreshold   float64 `json:"warningThreshold"`
	CriticalThreshold  float64 `json:"criticalThreshold"`
	HardLimitThreshold float64 `json:"hardLimitThreshold"`
}

// LLMConfig maps service ids to service definitions.
type LLMConfig struct {
	Services map[string]LLMServiceConfig `json:"services,omitempty"`
	// MaxInflight bounds concurrent outbound LLM requests across all
	// services, independent of the scheduler's maxConcurrent.
	MaxInflight int `json:"maxInflight,omitempty"`
}

// LLMServiceConfig describes one OpenAI-compatible chat endpoint.
// APIKey comes from env HIVEMIND_LLM_APIKEY_<ID> only.
type LLMServiceConfig struct {
	BaseURL           string  `json:"baseUrl"`
	Model             string  `json:"model"`
	APIKey            string  `json:"-"`
	MaxRetries        int     `json:"maxRetries,omitempty"`
	RequestTimeoutSec int     `json:"requestTimeoutSec,omitempty"`
	RequestsPerMinute float64 `json:"requestsPerMinute,omitempty"` // 0 = unlimited
}

// GatewayConfig configures the HTTP/WebSocket surface.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"-"` // from env HIVEMIND_GATEWAY_TOKEN only
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	RateLimitRPM   int      `json:"rate_limit_rpm,omitempty"` // 0 = disabled
}

// ToolsConfig configures the module tool set (fs, runtime, web groups).
type ToolsConfig struct {
	Workspace           string `json:"workspace"`
	RestrictToWorkspace bool   `json:"restrict_to_workspace"`
	CommandTimeoutSec   int    `json:"command_timeout_sec,omitempty"`
	HTTPTimeoutSec      int    `json:"http_timeout_sec,omitempty"`
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// TailscaleConfig configures the optional tsnet listener. Requires building
// with -tags tsnet. Auth key from env only.
type TailscaleConfig struct {
	Hostname  string `json:"hostname,omitempty"`
	StateDir  string `json:"state_dir,omitempty"`
	AuthKey   string `json:"-"` // from env HIVEMIND_TSNET_AUTH_KEY only
	Ephemeral bool   `json:"ephemeral,omitempty"`
}

// MCPServerConfig describes one MCP tool server. Stdio servers run a local
// command; sse and streamable-http servers are reached by URL.
type MCPServerConfig struct {
	Transport  string            `json:"transport"` // stdio, sse, streamable-http
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	ToolPrefix string            `json:"toolPrefix,omitempty"`
	TimeoutSec int               `json:"timeoutSec,omitempty"`
	Enabled    *bool             `json:"enabled,omitempty"` // nil = enabled
}

// IsEnabled reports whether the server should be connected.
func (c *MCPServerConfig) IsEnabled() bool {
	return c != nil && (c.Enabled == nil || *c.Enabled)
}

// CronSchedule delivers a recurring message to an agent on a cron expression.
type CronSchedule struct {
	ID     string `json:"id"`
	To     string `json:"to"`   // agent id, defaults to root
	Expr   string `json:"expr"` // cron expression (gronx syntax)
	Text   string `json:"text"`
	TaskID string `json:"taskId,omitempty"`
}
