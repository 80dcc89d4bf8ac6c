//go:build !otel

package cmd

import (
	"context"
	"log/slog"

	"github.com/kaiwahq/kaiwa/internal/config"
)

// initTelemetry is a no-op in builds without the otel tag.
func initTelemetry(ctx context.Context, cfg *config.Config) func() {
	if cfg.Telemetry.Enabled {
		slog.Warn("telemetry configured but this binary was built without -tags otel")
	}
	return nil
}
