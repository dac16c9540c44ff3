//go:build !tsnet

package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hivemind-dev/hivemind/internal/config"
)

// InitTailscale is a no-op unless built with `-tags tsnet`.
func InitTailscale(ctx context.Context, cfg *config.Config, mux *http.ServeMux) func() {
	if cfg.Tailscale.Hostname != "" {
		slog.Warn("tailscale configured but binary built without tsnet support; rebuild with -tags tsnet")
	}
	return nil
}
