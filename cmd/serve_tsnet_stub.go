//go:build !tsnet

package cmd

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/kaiwahq/kaiwa/internal/config"
)

// initTailscale is a no-op in builds without the tsnet tag.
func initTailscale(ctx context.Context, cfg *config.Config, mux *http.ServeMux) func() {
	if cfg.Tailscale.Hostname != "" {
		slog.Warn("tailscale configured but this binary was built without -tags tsnet")
	}
	return nil
}
