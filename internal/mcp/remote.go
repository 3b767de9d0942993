package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/SPCG-NEST/daemon/internal/approval"
	"github.com/SPCG-NEST/daemon/internal/capability"
	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

// DefaultRemoteTimeout bounds one remote tool call.
const DefaultRemoteTimeout = 30 * time.Second

var (
	// ErrRemoteProviderNotFound is returned when the remote does not list the configured provider.
	ErrRemoteProviderNotFound = errors.New("remote provider not found")

	// ErrAmbiguousProvider is returned when a remote lists several providers and none was named.
	ErrAmbiguousProvider = errors.New("remote lists several providers; name one")
)

// RemoteConfig configures one remote provider.
type RemoteConfig struct {
	// Name selects a provider from the remote listing. Empty accepts a single listing.
	Name string

	// Endpoint is the streamable HTTP URL, e.g. http://host:9090/mcp.
	Endpoint string

	// Timeout bounds each tool call. Zero means DefaultRemoteTimeout.
	Timeout time.Duration

	// RatePerSecond limits tool calls. Zero or less disables limiting.
	RatePerSecond float64
}

// RemoteProvider is a capability.Provider backed by an MCP client session.
type RemoteProvider struct {
	session *mcp.ClientSession
	listing ProviderListing
	limiter *rate.Limiter
	timeout time.Duration
	metrics *Metrics
	logger  *zap.Logger
}

// DialRemote connects to cfg.Endpoint over streamable HTTP.
func DialRemote(ctx context.Context, cfg RemoteConfig, logger *zap.Logger) (*RemoteProvider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("remote provider %q: endpoint is required", cfg.Name)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "daemond", Version: DefaultConfig().Version}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: cfg.Endpoint}, nil)
	if err != nil {
		return nil, lifecycle.Unavailable("connect "+cfg.Endpoint, err)
	}
	p, err := NewRemoteProvider(ctx, session, cfg, logger)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	return p, nil
}

// NewRemoteProvider reads the remote listing through session.
func NewRemoteProvider(ctx context.Context, session *mcp.ClientSession, cfg RemoteConfig, logger *zap.Logger) (*RemoteProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRemoteTimeout
	}
	limit, burst := rate.Inf, 1
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		burst = max(1, int(cfg.RatePerSecond))
	}

	p := &RemoteProvider{
		session: session,
		limiter: rate.NewLimiter(limit, burst),
		timeout: cfg.Timeout,
		metrics: NewMetrics(logger),
		logger:  logger,
	}

	var listed listCapabilitiesOutput
	if err := p.call(ctx, ToolListCapabilities, listCapabilitiesInput{}, &listed); err != nil {
		return nil, fmt.Errorf("listing remote capabilities: %w", err)
	}
	listing, err := pick(listed.Providers, cfg.Name)
	if err != nil {
		return nil, err
	}
	p.listing = listing
	p.logger = logger.With(zap.String("provider", listing.Server.Name))
	p.logger.Info("remote provider connected",
		zap.Int("context_tools", len(listing.ContextTools)),
		zap.Int("action_tools", len(listing.ActionTools)),
		zap.Int("post_process_tools", len(listing.PostProcessTools)),
	)
	return p, nil
}

func pick(listings []ProviderListing, name string) (ProviderListing, error) {
	if name == "" {
		if len(listings) == 1 {
			return listings[0], nil
		}
		if len(listings) == 0 {
			return ProviderListing{}, ErrRemoteProviderNotFound
		}
		return ProviderListing{}, ErrAmbiguousProvider
	}
	for _, l := range listings {
		if l.Server.Name == name {
			return l, nil
		}
	}
	return ProviderListing{}, fmt.Errorf("%w: %s", ErrRemoteProviderNotFound, name)
}

func (p *RemoteProvider) Info() capability.ServerInfo { return p.listing.Server }

func (p *RemoteProvider) ServerTools() []capability.Descriptor { return p.listing.ServerTools }

func (p *RemoteProvider) ContextTools() []capability.Descriptor { return p.listing.ContextTools }

func (p *RemoteProvider) ActionTools() []capability.Descriptor { return p.listing.ActionTools }

func (p *RemoteProvider) PostProcessTools() []capability.Descriptor {
	return p.listing.PostProcessTools
}

// Invoke calls a record tool on the remote.
func (p *RemoteProvider) Invoke(ctx context.Context, tool string, rec lifecycle.Record, args map[string]any) (lifecycle.Record, error) {
	var out ToolOutput
	if err := p.call(ctx, tool, ToolInput{Record: rec, Args: args}, &out); err != nil {
		return rec, err
	}
	return out.Record, nil
}

// Close ends the session.
func (p *RemoteProvider) Close() error {
	return p.session.Close()
}

func (p *RemoteProvider) call(ctx context.Context, tool string, in, out any) (err error) {
	done := p.metrics.track(ctx, tool)
	defer func() { done(err) }()

	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: in})
	if err != nil {
		return fmt.Errorf("calling %s: %w", tool, err)
	}
	if res.IsError {
		return remoteError(resultText(res))
	}
	return decodeResult(res, out)
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if t, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func decodeResult(res *mcp.CallToolResult, out any) error {
	var raw []byte
	if res.StructuredContent != nil {
		b, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return fmt.Errorf("encoding structured content: %w", err)
		}
		raw = b
	} else {
		raw = []byte(resultText(res))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding tool result: %w", err)
	}
	return nil
}

// remoteErrors are recognised in remote error text so callers can keep using errors.Is.
var remoteErrors = []error{
	approval.ErrApprovalDenied,
	lifecycle.ErrStoreUnavailable,
	lifecycle.ErrNotInitialized,
	lifecycle.ErrInvalidRecord,
	capability.ErrToolNotFound,
}

func remoteError(msg string) error {
	for _, sentinel := range remoteErrors {
		if strings.Contains(msg, sentinel.Error()) {
			return fmt.Errorf("%w: remote: %s", sentinel, msg)
		}
	}
	return fmt.Errorf("remote: %s", msg)
}

var _ capability.Provider = (*RemoteProvider)(nil)
