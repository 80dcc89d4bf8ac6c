//go:build otel

package cmd

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kaiwahq/kaiwa/internal/config"
)

// initTelemetry wires OTLP trace export when telemetry is enabled.
// Returns a shutdown func, or nil when telemetry is off.
func initTelemetry(ctx context.Context, cfg *config.Config) func() {
	tc := cfg.Telemetry
	if !tc.Enabled || tc.Endpoint == "" {
		return nil
	}

	var (
		exp *otlptrace.Exporter
		err error
	)
	if tc.Protocol == "http" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(tc.Endpoint)}
		if tc.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	} else {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(tc.Endpoint)}
		if tc.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	}
	if err != nil {
		slog.Error("telemetry: exporter init failed", "error", err)
		return nil
	}

	serviceName := tc.ServiceName
	if serviceName == "" {
		serviceName = "kaiwa"
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", Version),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	slog.Info("telemetry: OTLP trace export enabled", "endpoint", tc.Endpoint, "protocol", tc.Protocol)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry: shutdown failed", "error", err)
		}
	}
}
