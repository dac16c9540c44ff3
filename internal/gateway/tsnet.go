//go:build tsnet

package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"tailscale.com/tsnet"

	"github.com/hivemind-dev/hivemind/internal/config"
)

// InitTailscale serves the gateway mux on a tsnet listener alongside the main
// listener. Returns a cleanup func, or nil when no hostname is configured.
// Enabled with `go build -tags tsnet`.
func InitTailscale(ctx context.Context, cfg *config.Config, mux *http.ServeMux) func() {
	if cfg.Tailscale.Hostname == "" {
		return nil
	}

	srv := &tsnet.Server{
		Hostname:  cfg.Tailscale.Hostname,
		Dir:       config.ExpandHome(cfg.Tailscale.StateDir),
		AuthKey:   cfg.Tailscale.AuthKey,
		Ephemeral: cfg.Tailscale.Ephemeral,
	}

	ln, err := srv.Listen("tcp", ":80")
	if err != nil {
		slog.Error("tsnet listen failed", "hostname", cfg.Tailscale.Hostname, "error", err)
		srv.Close()
		return nil
	}
	slog.Info("tsnet listener started", "hostname", cfg.Tailscale.Hostname)

	go func() {
		if err := http.Serve(ln, mux); err != nil {
			slog.Debug("tsnet serve stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	return func() { srv.Close() }
}
