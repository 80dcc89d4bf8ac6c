package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kaiwahq/kaiwa/internal/bus"
	"github.com/kaiwahq/kaiwa/internal/config"
	"github.com/kaiwahq/kaiwa/internal/corpus"
	"github.com/kaiwahq/kaiwa/internal/digest"
	"github.com/kaiwahq/kaiwa/internal/gateway"
	"github.com/kaiwahq/kaiwa/internal/notify"
	"github.com/kaiwahq/kaiwa/internal/query"
	"github.com/kaiwahq/kaiwa/internal/usage"
	"github.com/kaiwahq/kaiwa/internal/watch"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the kaiwa gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
}

func runServe() {
	cfg := loadConfig()
	setupLogging(cfg)

	root := config.ExpandHome(cfg.Corpus.Root)
	cfg.Database.Path = config.ExpandHome(cfg.Database.Path)
	loc := cfg.Corpus.Location()

	// Corpus services
	catalog := corpus.NewCatalog(root, cfg.Corpus.Projects)
	projectCache := corpus.NewProjectCache(catalog, corpus.NewFileCache())
	engine := query.NewEngine(catalog, projectCache, loc)
	usageEngine := usage.NewEngine(root, cfg.Usage, loc)

	// Notification pipeline
	store, err := notify.NewStore(cfg.Database)
	if err != nil {
		slog.Error("failed to open notification store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	msgBus := bus.New()
	notifier := notify.NewService(store, msgBus, notify.BuildForwarders(cfg.Notify)...)

	server := gateway.NewServer(cfg, msgBus, catalog, engine, usageEngine, notifier)
	server.SetVersion(Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// OTLP trace export: compiled via build tags. `go build -tags otel`.
	if shutdown := initTelemetry(ctx, cfg); shutdown != nil {
		defer shutdown()
	}

	// Corpus watcher: invalidation + file_change push.
	watcher := watch.New(catalog, projectCache, msgBus)
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("watcher stopped", "error", err)
		}
	}()

	// Scheduled usage digest (disabled when no cron is configured).
	scheduler := digest.New(cfg.Digest.Cron, usageEngine, store, msgBus)
	go func() {
		if err := scheduler.Run(ctx); err != nil {
			slog.Error("digest scheduler stopped", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		server.Shutdown()
		cancel()
	}()

	mode := "standalone"
	if cfg.IsManagedMode() {
		mode = "managed"
	}
	slog.Info("kaiwa gateway starting",
		"version", Version,
		"mode", mode,
		"root", root,
		"timezone", cfg.Corpus.Timezone,
		"plan", cfg.Usage.Plan,
	)

	// Tailscale listener: build the mux first, then pass it to
	// initTailscale so the same routes are served on both listeners.
	// Compiled via build tags: `go build -tags tsnet`.
	mux := server.BuildMux()
	if tsCleanup := initTailscale(ctx, cfg, mux); tsCleanup != nil {
		defer tsCleanup()
	}

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}
