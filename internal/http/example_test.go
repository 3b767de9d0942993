package http_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/SPCG-NEST/daemon/internal/capability"
	"github.com/SPCG-NEST/daemon/internal/generation"
	httpserver "github.com/SPCG-NEST/daemon/internal/http"
	"github.com/SPCG-NEST/daemon/internal/identity"
	"github.com/SPCG-NEST/daemon/internal/orchestrator"
)

// ExampleServer wires the identity store and an orchestrator behind the API.
func ExampleServer() {
	dir, err := os.MkdirTemp("", "daemond-example")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()
	logger := zap.NewNop()

	store := identity.NewStore(&identity.Config{Path: filepath.Join(dir, "identity.db")}, nil, logger)
	if err := store.Init(ctx); err != nil {
		panic(err)
	}
	defer store.Close()

	registry := capability.NewRegistry()
	if err := registry.Register(identity.NewProvider(store)); err != nil {
		panic(err)
	}
	gen := generation.NewService(store, logger)
	gen.Register("echo", generation.ModelFunc(func(_ context.Context, _ identity.ModelSettings, _, prompt string) (string, error) {
		return "ok", nil
	}))

	server, err := httpserver.NewServer(httpserver.Deps{
		Identity: store,
		Pipeline: orchestrator.New(registry, gen, logger),
	}, logger, &httpserver.Config{Host: "127.0.0.1", Port: 0})
	if err != nil {
		panic(err)
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Debug("server stopped", zap.Error(err))
		}
	}()
	time.Sleep(100 * time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
