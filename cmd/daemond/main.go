// Daemond is the daemon server: it runs character turns through the
// capability pipeline and serves them over HTTP and MCP.
//
// Configuration is loaded from ~/.config/daemond/config.yaml (or -config)
// and DAEMON_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the HTTP server (REST API, /mcp, /metrics)
//	daemond
//
//	# Serve MCP over stdio instead of HTTP
//	daemond mcp
//
//	# Configure via environment
//	DAEMON_SERVER_PORT=9191 DAEMON_NATS_ENABLED=true daemond
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/SPCG-NEST/daemon/internal/characters"
	"github.com/SPCG-NEST/daemon/internal/config"
	httpserver "github.com/SPCG-NEST/daemon/internal/http"
	"github.com/SPCG-NEST/daemon/internal/logging"
	"github.com/SPCG-NEST/daemon/internal/storage"
	"github.com/SPCG-NEST/daemon/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file (default ~/.config/daemond/config.yaml)")
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()

	stdio := false
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		case "mcp":
			stdio = true
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
			usage()
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath, stdio); err != nil {
		log.Fatalf("daemond: %v", err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  daemond [-config path]        Start the HTTP server\n")
	fmt.Fprintf(os.Stderr, "  daemond [-config path] mcp    Serve MCP over stdio\n")
	fmt.Fprintf(os.Stderr, "  daemond version               Show version information\n")
}

func printVersion() {
	fmt.Printf("daemond\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every dependency and blocks until ctx is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes logger and telemetry
//  3. Opens storage, vectors and embeddings, then registers providers
//  4. Builds generation, the orchestrator and the MCP server
//  5. Serves MCP on stdio, or HTTP with the characters watcher
//  6. Shuts down gracefully on cancellation
func run(ctx context.Context, configPath string, stdio bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := cfg.Logging
	if stdio {
		// stdout carries the MCP protocol.
		logCfg.Writer = zapcore.Lock(os.Stderr)
	}
	logs, err := logging.NewLogger(&logCfg, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logs.Sync()
	}()
	logger := logs.Underlying()

	tel, err := telemetry.New(ctx, telemetryConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger.Info("Starting daemond",
		zap.String("version", version),
		zap.Bool("stdio", stdio),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.Bool("telemetry", tel.IsEnabled()),
	)

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	svc, err := initServices(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info("Dependencies initialized",
		zap.Int("providers", len(deps.registry.Providers())),
		zap.Int("remote_providers", len(deps.remotes)),
		zap.Bool("nats_connected", deps.nats != nil),
	)

	if stdio {
		return svc.mcp.Run(ctx)
	}

	if err := startCharacters(ctx, cfg, deps, logger); err != nil {
		return err
	}

	srv, err := httpserver.NewServer(httpserver.Deps{
		Identity: deps.identity,
		Pipeline: svc.orchestrator,
		MCP:      svc.mcp.Handler(),
		NATS:     deps.nats,
	}, logger, &httpserver.Config{Host: cfg.Server.Host, Port: cfg.Server.Port})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("mcp_prefix", "/mcp"),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("Server shutdown complete")
	return nil
}

// startCharacters registers the characters directory, watching it when configured.
func startCharacters(ctx context.Context, cfg *config.Config, deps *dependencies, logger *zap.Logger) error {
	if cfg.Characters.Dir == "" {
		return nil
	}
	dir, err := storage.ExpandPath(cfg.Characters.Dir)
	if err != nil {
		return err
	}

	if cfg.Characters.Watch {
		w, err := characters.NewWatcher(dir, deps.identity, logger)
		if err != nil {
			return fmt.Errorf("characters watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("characters watcher: %w", err)
		}
		deps.closers = append(deps.closers, func() error { w.Stop(); return nil })
		return nil
	}

	if _, err := os.Stat(dir); err != nil {
		return nil
	}
	n, err := characters.Sync(ctx, dir, deps.identity, logger)
	if err != nil {
		return fmt.Errorf("registering characters: %w", err)
	}
	logger.Info("Characters registered", zap.String("dir", dir), zap.Int("count", n))
	return nil
}

func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.NewDefaultConfig()
	tc.Enabled = cfg.Observability.EnableTelemetry
	tc.Endpoint = cfg.Observability.OTLPEndpoint
	tc.ServiceName = cfg.Observability.ServiceName
	tc.ServiceVersion = version
	tc.Insecure = telemetry.IsLocalEndpoint(tc.Endpoint)
	return tc
}
