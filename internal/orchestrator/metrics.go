package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/SPCG-NEST/daemon/internal/orchestrator"

type metrics struct {
	invocations metric.Int64Counter
	duration    metric.Float64Histogram
}

func newMetrics(logger *zap.Logger) *metrics {
	m := &metrics{}
	meter := otel.Meter(instrumentationName)

	var err error
	m.invocations, err = meter.Int64Counter(
		"daemon.pipeline.tool.invocations_total",
		metric.WithDescription("Capability tool invocations by stage and outcome"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		logger.Warn("failed to create invocations counter", zap.Error(err))
	}
	m.duration, err = meter.Float64Histogram(
		"daemon.pipeline.stage.duration_seconds",
		metric.WithDescription("Duration of each pipeline stage in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		logger.Warn("failed to create stage duration histogram", zap.Error(err))
	}
	return m
}

func (m *metrics) recordInvocation(ctx context.Context, stage Stage, provider, tool string, outcome Outcome) {
	if m.invocations == nil {
		return
	}
	m.invocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("provider", provider),
		attribute.String("tool", tool),
		attribute.String("outcome", string(outcome)),
	))
}

func (m *metrics) recordStage(ctx context.Context, stage Stage, start time.Time, err error) {
	if m.duration == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("status", status),
	))
}
