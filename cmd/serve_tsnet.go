//go:build tsnet

package cmd

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"tailscale.com/tsnet"

	"github.com/kaiwahq/kaiwa/internal/config"
)

// initTailscale serves the gateway mux on a tailnet listener alongside
// the main one. Returns a cleanup func, or nil when no hostname is
// configured.
func initTailscale(ctx context.Context, cfg *config.Config, mux *http.ServeMux) func() {
	tc := cfg.Tailscale
	if tc.Hostname == "" {
		return nil
	}

	srv := &tsnet.Server{
		Hostname:  tc.Hostname,
		Dir:       config.ExpandHome(tc.StateDir),
		AuthKey:   tc.AuthKey,
		Ephemeral: tc.Ephemeral,
	}

	var (
		ln  net.Listener
		err error
	)
	if tc.EnableTLS {
		ln, err = srv.ListenTLS("tcp", ":443")
	} else {
		ln, err = srv.Listen("tcp", ":80")
	}
	if err != nil {
		slog.Error("tailscale: listen failed", "hostname", tc.Hostname, "error", err)
		srv.Close()
		return nil
	}

	slog.Info("tailscale: serving on tailnet", "hostname", tc.Hostname, "tls", tc.EnableTLS)
	go func() {
		if serveErr := http.Serve(ln, mux); serveErr != nil && ctx.Err() == nil {
			slog.Warn("tailscale: serve stopped", "error", serveErr)
		}
	}()

	return func() {
		ln.Close()
		srv.Close()
	}
}
