package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/SPCG-NEST/daemon/internal/approval"
	"github.com/SPCG-NEST/daemon/internal/capability"
	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

const instrumentationName = "github.com/SPCG-NEST/daemon/internal/mcp"

// Metrics holds MCP tool instruments.
type Metrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	invocations    metric.Int64Counter
	duration       metric.Float64Histogram
	errors         metric.Int64Counter
	activeRequests metric.Int64UpDownCounter
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.invocations, err = m.meter.Int64Counter(
		"daemon.mcp.tool.invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		m.logger.Warn("failed to create invocations counter", zap.Error(err))
	}

	m.duration, err = m.meter.Float64Histogram(
		"daemon.mcp.tool.duration_seconds",
		metric.WithDescription("Duration of MCP tool invocations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"daemon.mcp.tool.errors_total",
		metric.WithDescription("Total number of MCP tool errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"daemon.mcp.tool.active_requests",
		metric.WithDescription("Number of currently active MCP tool requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active requests gauge", zap.Error(err))
	}
}

// track records one invocation. Call the returned func with the outcome.
func (m *Metrics) track(ctx context.Context, tool string) func(err error) {
	start := time.Now()
	attrs := []attribute.KeyValue{attribute.String("tool", tool)}
	if m.activeRequests != nil {
		m.activeRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	return func(err error) {
		if m.activeRequests != nil {
			m.activeRequests.Add(ctx, -1, metric.WithAttributes(attrs...))
		}
		if m.invocations != nil {
			m.invocations.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		}
		if err != nil && m.errors != nil {
			m.errors.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("reason", categorizeError(err)))...))
		}
	}
}

// categorizeError maps an error onto a low-cardinality reason.
func categorizeError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, approval.ErrApprovalDenied):
		return "approval_denied"
	case errors.Is(err, lifecycle.ErrInvalidRecord):
		return "validation_error"
	case errors.Is(err, capability.ErrToolNotFound), errors.Is(err, capability.ErrProviderNotFound):
		return "not_found"
	case errors.Is(err, lifecycle.ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, lifecycle.ErrStoreUnavailable):
		return "storage_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal_error"
	}
}
