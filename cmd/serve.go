package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hivemind-dev/hivemind/internal/config"
	"github.com/hivemind-dev/hivemind/internal/cron"
	"github.com/hivemind-dev/hivemind/internal/gateway"
	"github.com/hivemind-dev/hivemind/internal/mcp"
	"github.com/hivemind-dev/hivemind/internal/runtime"
	"github.com/hivemind-dev/hivemind/internal/telemetry"
)

const drainTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration runtime and gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	rt, err := runtime.New(cfg)
	if err != nil {
		slog.Error("runtime init failed", "error", err)
		os.Exit(1)
	}

	mcpMgr := mcp.NewManager(rt.Tools(), cfg.MCPServers)
	if err := mcpMgr.Start(ctx); err != nil {
		slog.Warn("some mcp servers unavailable", "error", err)
	}
	defer mcpMgr.Stop()

	// LLM service changes (endpoints, models, env-sourced keys) apply on
	// config save without a restart.
	if err := config.Watch(ctx, cfgPath, func(next *config.Config) {
		rt.Pool().Reconfigure(next.LLM)
	}); err != nil {
		slog.Warn("config watch unavailable", "error", err)
	}

	cronSvc, err := cron.New(cfg.Cron, rt)
	if err != nil {
		slog.Error("cron init failed", "error", err)
		os.Exit(1)
	}
	go cronSvc.Run(ctx)
	go rt.Start(ctx)

	server := gateway.NewServer(cfg, rt)
	server.RegisterStatusProvider("mcp", func() any { return mcpMgr.ServerStatus() })
	mux := server.BuildMux()
	if cleanup := gateway.InitTailscale(ctx, cfg, mux); cleanup != nil {
		defer cleanup()
	}

	// First signal: graceful shutdown. Second: forced.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown requested, draining (signal again to force)")
		go func() {
			<-sigCh
			slog.Warn("forced shutdown")
			rt.Shutdown(false, 0)
			os.Exit(1)
		}()
		cancel()
	}()

	slog.Info("hivemind starting", "version", Version)
	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		cancel()
	}

	rt.Shutdown(true, drainTimeout)
}
