package mcp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/SPCG-NEST/daemon/internal/capability"
	"github.com/SPCG-NEST/daemon/internal/identity"
	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

// Pipeline runs a full turn.
type Pipeline interface {
	RunPipeline(ctx context.Context, rec lifecycle.Record) (lifecycle.Record, error)
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "daemond")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "daemond",
		Version: "1.0.0",
	}
}

// Server publishes a capability registry over MCP.
type Server struct {
	mcp      *mcp.Server
	registry *capability.Registry
	identity *identity.Store
	pipeline Pipeline
	metrics  *Metrics
	logger   *zap.Logger
	names    map[string]bool
}

// Option configures a Server.
type Option func(*Server)

// WithIdentity adds registerCharacter, fetchCharacter and fetchLogs.
func WithIdentity(store *identity.Store) Option {
	return func(s *Server) { s.identity = store }
}

// WithPipeline adds run_pipeline.
func WithPipeline(p Pipeline) Option {
	return func(s *Server) { s.pipeline = p }
}

// NewServer registers list_capabilities plus one tool per record tool of
// every provider registered at call time.
func NewServer(cfg *Config, registry *capability.Registry, logger *zap.Logger, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if registry == nil {
		return nil, fmt.Errorf("capability registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    cfg.Name,
				Version: cfg.Version,
			},
			nil,
		),
		registry: registry,
		metrics:  NewMetrics(logger),
		logger:   logger,
		names:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	return s, nil
}

// addTool registers a typed handler with metrics. Duplicate names keep the first.
func addTool[In, Out any](s *Server, name, description string, fn func(context.Context, In) (Out, error)) {
	if s.names[name] {
		s.logger.Warn("duplicate MCP tool name, skipping", zap.String("tool", name))
		return
	}
	s.names[name] = true

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: description,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		done := s.metrics.track(ctx, name)
		out, err := fn(ctx, in)
		done(err)
		if err != nil {
			s.logger.Debug("MCP tool failed", zap.String("tool", name), zap.Error(err))
			var zero Out
			return nil, zero, err
		}
		return nil, out, nil
	})
}

func (s *Server) registerTools() {
	addTool(s, ToolListCapabilities, "List the registered capability providers and their tools",
		func(context.Context, listCapabilitiesInput) (listCapabilitiesOutput, error) {
			providers := s.registry.Providers()
			out := listCapabilitiesOutput{Providers: make([]ProviderListing, 0, len(providers))}
			for _, p := range providers {
				out.Providers = append(out.Providers, listingFor(p))
			}
			return out, nil
		})

	for _, p := range s.registry.Providers() {
		provider := p.Info().Name
		tools := append(append(append([]capability.Descriptor{}, p.ContextTools()...), p.ActionTools()...), p.PostProcessTools()...)
		for _, d := range tools {
			tool := d.Name
			addTool(s, tool, d.Description, func(ctx context.Context, in ToolInput) (ToolOutput, error) {
				t, err := s.registry.Lookup(provider, tool)
				if err != nil {
					return ToolOutput{}, err
				}
				rec, err := t.Invoke(ctx, in.Record, in.Args)
				if err != nil {
					return ToolOutput{}, err
				}
				return ToolOutput{Record: rec}, nil
			})
		}
	}

	if s.identity != nil {
		s.registerIdentityTools()
	}
	if s.pipeline != nil {
		addTool(s, ToolRunPipeline, "Run a full turn: context, generation and post-processing",
			func(ctx context.Context, in ToolInput) (ToolOutput, error) {
				rec, err := s.pipeline.RunPipeline(ctx, in.Record)
				if err != nil {
					return ToolOutput{}, err
				}
				return ToolOutput{Record: rec}, nil
			})
	}
}

func (s *Server) registerIdentityTools() {
	addTool(s, identity.ToolRegisterCharacter, "Register a character. Returns the existing pubkey when already registered",
		func(ctx context.Context, c identity.Character) (registerCharacterOutput, error) {
			stored, err := s.identity.RegisterCharacter(ctx, c)
			if err != nil {
				return registerCharacterOutput{}, err
			}
			return registerCharacterOutput{Pubkey: stored.Pubkey}, nil
		})

	addTool(s, identity.ToolFetchCharacter, "Fetch a character by pubkey",
		func(ctx context.Context, in fetchCharacterInput) (fetchCharacterOutput, error) {
			c, err := s.identity.FetchCharacter(ctx, in.Pubkey)
			if err != nil {
				return fetchCharacterOutput{}, err
			}
			return fetchCharacterOutput{Found: c != nil, Character: c}, nil
		})

	addTool(s, identity.ToolFetchLogs, "Fetch conversation logs for a daemon",
		func(ctx context.Context, q identity.LogQuery) (fetchLogsOutput, error) {
			entries, err := s.identity.FetchLogs(ctx, q)
			if err != nil {
				return fetchLogsOutput{}, err
			}
			return fetchLogsOutput{Logs: toLogViews(entries)}, nil
		})
}

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}

// Connect serves one session over t.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
