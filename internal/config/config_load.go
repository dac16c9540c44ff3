package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			MaxConcurrent:     4,
			MaxToolRounds:     200,
			PersistDebounceMs: 500,
			RuntimeDir:        "~/.hivemind/runtime",
			ArtifactsDir:      "~/.hivemind/artifacts",
			DefaultLLMService: "default",
		},
		ContextLimit: ContextLimitConfig{
			MaxTokens:          200000,
			WarningThreshold:   0.7,
			CriticalThreshold:  0.9,
			HardLimitThreshold: 0.95,
		},
		LLM: LLMConfig{
			Services: map[string]LLMServiceConfig{
				"default": {
					BaseURL:           "https://api.openai.com/v1",
					Model:             "gpt-4o",
					MaxRetries:        3,
					RequestTimeoutSec: 120,
				},
			},
			MaxInflight: 8,
		},
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18890,
			RateLimitRPM: 0,
		},
		Tools: ToolsConfig{
			Workspace:           "~/.hivemind/workspace",
			RestrictToWorkspace: true,
			CommandTimeoutSec:   60,
			HTTPTimeoutSec:      30,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Runtime.MaxConcurrent < 1 {
		return fmt.Errorf("runtime.maxConcurrent must be >= 1, got %d", c.Runtime.MaxConcurrent)
	}
	if c.Runtime.MaxToolRounds < 1 {
		return fmt.Errorf("runtime.maxToolRounds must be >= 1, got %d", c.Runtime.MaxToolRounds)
	}
	cl := c.ContextLimit
	for name, v := range map[string]float64{
		"warningThreshold":   cl.WarningThreshold,
		"criticalThreshold":  cl.CriticalThreshold,
		"hardLimitThreshold": cl.HardLimitThreshold,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("contextLimit.%s must be in (0,1], got %v", name, v)
		}
	}
	return nil
}

// applyEnvOverrides overlays env vars; they take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("HIVEMIND_RUNTIME_DIR", &c.Runtime.RuntimeDir)
	envStr("HIVEMIND_ARTIFACTS_DIR", &c.Runtime.ArtifactsDir)
	envStr("HIVEMIND_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("HIVEMIND_HOST", &c.Gateway.Host)
	if v := os.Getenv("HIVEMIND_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	if v := os.Getenv("HIVEMIND_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			c.Runtime.MaxConcurrent = n
		}
	}

	// Per-service API keys: HIVEMIND_LLM_APIKEY_<ID> (id uppercased).
	for id, svc := range c.LLM.Services {
		key := "HIVEMIND_LLM_APIKEY_" + strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
		if v := os.Getenv(key); v != "" {
			svc.APIKey = v
			c.LLM.Services[id] = svc
		}
	}

	// Telemetry
	envStr("HIVEMIND_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("HIVEMIND_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("HIVEMIND_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("HIVEMIND_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}

	// Tailscale (tsnet)
	envStr("HIVEMIND_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("HIVEMIND_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("HIVEMIND_TSNET_DIR", &c.Tailscale.StateDir)
}

// Save writes the config to a JSON file. Secret fields carry `json:"-"` and
// never persist.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// RuntimeDirPath returns the expanded runtime directory.
func (c *Config) RuntimeDirPath() string { return ExpandHome(c.Runtime.RuntimeDir) }

// ArtifactsDirPath returns the expanded artifacts directory.
func (c *Config) ArtifactsDirPath() string { return ExpandHome(c.Runtime.ArtifactsDir) }

// WorkspacePath returns the expanded tool workspace directory.
func (c *Config) WorkspacePath() string { return ExpandHome(c.Tools.Workspace) }

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
