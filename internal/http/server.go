// Package http provides the daemon's HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/SPCG-NEST/daemon/internal/approval"
	"github.com/SPCG-NEST/daemon/internal/generation"
	"github.com/SPCG-NEST/daemon/internal/identity"
	"github.com/SPCG-NEST/daemon/internal/lifecycle"
	"github.com/SPCG-NEST/daemon/internal/logging"
	"github.com/SPCG-NEST/daemon/internal/orchestrator"
)

// Identity is the subset of identity.Store the API serves.
type Identity interface {
	RegisterCharacter(ctx context.Context, c identity.Character) (identity.Character, error)
	FetchCharacter(ctx context.Context, pubkey string) (*identity.Character, error)
	FetchLogs(ctx context.Context, q identity.LogQuery) ([]identity.LogEntry, error)
}

// Pipeline runs a full turn.
type Pipeline interface {
	RunPipeline(ctx context.Context, rec lifecycle.Record) (lifecycle.Record, error)
}

// Server provides HTTP endpoints for the daemon.
type Server struct {
	echo     *echo.Echo
	identity Identity
	pipeline Pipeline
	nats     *nats.Conn
	runs     *pipelineRuns
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Deps are the services behind the routes. MCP and NATS are optional.
type Deps struct {
	Identity Identity
	Pipeline Pipeline

	// MCP is mounted at /mcp when set.
	MCP http.Handler

	// NATS enables the per-daemon event stream.
	NATS *nats.Conn

	// Registerer receives the Prometheus collectors. Nil uses the default registry.
	Registerer prometheus.Registerer
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Identity == nil {
		return nil, fmt.Errorf("identity service cannot be nil")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	reg := deps.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(e)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			if logging.ValidateID(requestID) == nil {
				c.SetRequest(c.Request().WithContext(logging.WithRequestID(c.Request().Context(), requestID)))
			}

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			fields := append(logging.ContextFields(c.Request().Context()),
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			logger.Info("http request", fields...)
			return nil
		}
	})

	s := &Server{
		echo:     e,
		identity: deps.Identity,
		pipeline: deps.Pipeline,
		nats:     deps.NATS,
		runs:     newPipelineRuns(reg),
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes(deps.MCP, reg)
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes(mcpHandler http.Handler, reg prometheus.Registerer) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(metricsHandler(reg)))

	v1 := s.echo.Group("/v1")
	v1.POST("/characters", s.handleRegisterCharacter)
	v1.GET("/characters/:pubkey", s.handleFetchCharacter)
	v1.GET("/daemons/:pubkey/logs", s.handleFetchLogs)
	v1.POST("/pipeline", s.handleRunPipeline)
	if s.nats != nil {
		v1.GET("/daemons/:pubkey/events", s.handleEvents)
	}

	if mcpHandler != nil {
		h := echo.WrapHandler(mcpHandler)
		s.echo.Any("/mcp", h)
		s.echo.Any("/mcp/*", h)
	}
}

func metricsHandler(reg prometheus.Registerer) http.Handler {
	if g, ok := reg.(prometheus.Gatherer); ok && reg != prometheus.DefaultRegisterer {
		return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// Echo exposes the router so callers can mount extra routes.
func (s *Server) Echo() *echo.Echo { return s.echo }

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleRegisterCharacter(c echo.Context) error {
	var ch identity.Character
	if err := c.Bind(&ch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	stored, err := s.identity.RegisterCharacter(c.Request().Context(), ch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RegisterResponse{Pubkey: stored.Pubkey})
}

func (s *Server) handleFetchCharacter(c echo.Context) error {
	ch, err := s.identity.FetchCharacter(c.Request().Context(), c.Param("pubkey"))
	if err != nil {
		return err
	}
	if ch == nil {
		return echo.NewHTTPError(http.StatusNotFound, "character not found")
	}
	return c.JSON(http.StatusOK, ch)
}

func (s *Server) handleFetchLogs(c echo.Context) error {
	q := identity.LogQuery{
		DaemonPubkey: c.Param("pubkey"),
		ChannelID:    c.QueryParam("channel_id"),
		OrderBy:      identity.Order(c.QueryParam("order_by")),
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
		}
		q.Limit = limit
	}
	logs, err := s.identity.FetchLogs(c.Request().Context(), q)
	if err != nil {
		return err
	}
	if logs == nil {
		logs = []identity.LogEntry{}
	}
	return c.JSON(http.StatusOK, LogsResponse{Logs: logs})
}

func (s *Server) handleRunPipeline(c echo.Context) error {
	var rec lifecycle.Record
	if err := c.Bind(&rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := logging.WithDaemon(c.Request().Context(), rec.DaemonPubkey, rec.ChannelID)
	c.SetRequest(c.Request().WithContext(ctx))
	out, err := s.pipeline.RunPipeline(ctx, rec)
	s.runs.observe(err)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, approval.ErrApprovalDenied):
		return http.StatusForbidden
	case errors.Is(err, lifecycle.ErrNotInitialized), errors.Is(err, lifecycle.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, lifecycle.ErrInvalidRecord),
		errors.Is(err, identity.ErrInvalidCharacter),
		errors.Is(err, identity.ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, generation.ErrUnknownCharacter):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrGenerationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders domain errors with their mapped status and falls back
// to Echo's handling for HTTPErrors.
func errorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if errors.As(err, &he) {
			e.DefaultHTTPErrorHandler(err, c)
			return
		}
		_ = c.JSON(statusFor(err), ErrorResponse{Message: err.Error()})
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
