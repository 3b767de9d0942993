package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/SPCG-NEST/daemon/internal/approval"
	"github.com/SPCG-NEST/daemon/internal/capability"
	"github.com/SPCG-NEST/daemon/internal/config"
	"github.com/SPCG-NEST/daemon/internal/embeddings"
	"github.com/SPCG-NEST/daemon/internal/events"
	"github.com/SPCG-NEST/daemon/internal/generation"
	"github.com/SPCG-NEST/daemon/internal/identity"
	"github.com/SPCG-NEST/daemon/internal/mcp"
	"github.com/SPCG-NEST/daemon/internal/memory"
	"github.com/SPCG-NEST/daemon/internal/orchestrator"
	"github.com/SPCG-NEST/daemon/internal/secrets"
	"github.com/SPCG-NEST/daemon/internal/storage"
	"github.com/SPCG-NEST/daemon/internal/vectorstore"
)

// dependencies holds the infrastructure and providers.
type dependencies struct {
	scrubber  *secrets.Scrubber
	identity  *identity.Store
	memoryDB  *sql.DB
	embedder  embeddings.Provider
	vectors   vectorstore.Store
	memory    *memory.Hybrid
	registry  *capability.Registry
	remotes   []*mcp.RemoteProvider
	nats      *nats.Conn
	publisher events.Publisher

	// closers run in reverse order on Close.
	closers []func() error
	logger  *zap.Logger
}

// Close releases everything in reverse order of acquisition.
func (d *dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("closing dependency", zap.Error(err))
		}
	}
	d.closers = nil
}

// services holds the components built on top of the dependencies.
type services struct {
	generation   *generation.Service
	orchestrator *orchestrator.Orchestrator
	mcp          *mcp.Server
}

// initDependencies opens storage and registers the built-in and remote providers.
//
//  1. Secret scrubber and identity store (SQLite + character cache)
//  2. Embeddings provider and vector store
//  3. Memory database and hybrid memory
//  4. Capability registry: identity, memory, then remote MCP providers
//  5. NATS connection and event publisher, when enabled
//
// Any failure releases what was already opened.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *dependencies, err error) {
	d := &dependencies{
		registry:  capability.NewRegistry(),
		publisher: events.Nop{},
		logger:    logger,
	}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	// Durable writes need caller approval and a generated reply.
	gate := approval.All(approval.FieldGate{}, approval.RequireOutput)

	d.scrubber, err = secrets.New(cfg.Secrets, logger.Named("secrets"))
	if err != nil {
		return nil, fmt.Errorf("secret scrubber: %w", err)
	}

	d.identity = identity.NewStore(cfg.IdentityConfig(), gate, logger.Named("identity"),
		identity.WithRedactor(d.scrubber),
	)
	if err := d.identity.Init(ctx); err != nil {
		return nil, fmt.Errorf("identity store: %w", err)
	}
	d.closers = append(d.closers, d.identity.Close)

	d.embedder, err = embeddings.NewProvider(cfg.EmbeddingsProviderConfig(), logger.Named("embeddings"))
	if err != nil {
		return nil, fmt.Errorf("embeddings provider: %w", err)
	}
	d.closers = append(d.closers, d.embedder.Close)

	vsCfg := cfg.VectorStore
	if vsCfg.Qdrant.VectorSize == 0 {
		vsCfg.Qdrant.VectorSize = uint64(d.embedder.Dimension())
	}
	d.vectors, err = vectorstore.NewStore(vsCfg, d.embedder, logger.Named("vectorstore"))
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	d.closers = append(d.closers, d.vectors.Close)

	d.memoryDB, err = storage.OpenSQLite(cfg.Storage.MemoryPath, cfg.Storage.BusyTimeout.Duration())
	if err != nil {
		return nil, fmt.Errorf("memory database: %w", err)
	}
	d.closers = append(d.closers, d.memoryDB.Close)

	d.memory, err = memory.Open(ctx, cfg.Memory, d.memoryDB, d.vectors, gate, logger.Named("memory"),
		memory.WithRedactor(d.scrubber),
	)
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}

	if err := d.registry.Register(identity.NewProvider(d.identity)); err != nil {
		return nil, err
	}
	if err := d.registry.Register(memory.NewProvider(d.memory)); err != nil {
		return nil, err
	}
	d.registerRemotes(ctx, cfg.RemoteConfigs())

	if cfg.NATS.Enabled {
		d.nats, err = events.Connect(cfg.NATS.URL, logger)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() error { d.nats.Close(); return nil })
		d.publisher = events.NewNATSPublisher(d.nats, logger)
	}

	return d, nil
}

// registerRemotes dials each remote provider. An unreachable or conflicting
// provider is skipped so one owner's outage cannot stop the daemon.
func (d *dependencies) registerRemotes(ctx context.Context, remotes []mcp.RemoteConfig) {
	for _, rc := range remotes {
		p, err := mcp.DialRemote(ctx, rc, d.logger.Named("remote"))
		if err != nil {
			d.logger.Warn("skipping remote provider",
				zap.String("name", rc.Name),
				zap.String("endpoint", rc.Endpoint),
				zap.Error(err))
			continue
		}
		if err := d.registry.Register(p); err != nil {
			_ = p.Close()
			d.logger.Warn("skipping remote provider", zap.String("name", rc.Name), zap.Error(err))
			continue
		}
		d.remotes = append(d.remotes, p)
		d.closers = append(d.closers, p.Close)
		d.logger.Info("registered remote provider",
			zap.String("name", p.Info().Name),
			zap.String("endpoint", rc.Endpoint))
	}
}

// initServices builds generation, the orchestrator and the MCP server.
func initServices(cfg *config.Config, d *dependencies, logger *zap.Logger) (*services, error) {
	gen := generation.NewDefaultService(d.identity, cfg.GenerationServiceConfig(), logger.Named("generation"))

	orch := orchestrator.New(d.registry, gen, logger.Named("orchestrator"),
		orchestrator.WithPublisher(d.publisher),
	)

	mcpServer, err := mcp.NewServer(&mcp.Config{Name: "daemond", Version: version}, d.registry, logger.Named("mcp"),
		mcp.WithIdentity(d.identity),
		mcp.WithPipeline(orch),
	)
	if err != nil {
		return nil, fmt.Errorf("mcp server: %w", err)
	}

	return &services{
		generation:   gen,
		orchestrator: orch,
		mcp:          mcpServer,
	}, nil
}
