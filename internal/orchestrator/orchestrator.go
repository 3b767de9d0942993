package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SPCG-NEST/daemon/internal/capability"
	"github.com/SPCG-NEST/daemon/internal/events"
	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

// Orchestrator sequences a turn across the providers in a registry.
type Orchestrator struct {
	registry  *capability.Registry
	generator Generator
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *metrics
	newID     func() string
	progress  ProgressCallback
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher emits completed and failed events.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithTurnIDGenerator overrides uuid turn ids.
func WithTurnIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// OnProgress sets a callback invoked after each stage.
func OnProgress(cb ProgressCallback) Option {
	return func(o *Orchestrator) { o.progress = cb }
}

// New creates an Orchestrator over an explicit registry.
func New(registry *capability.Registry, generator Generator, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		registry:  registry,
		generator: generator,
		publisher: events.Nop{},
		logger:    logger,
		metrics:   newMetrics(logger),
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry returns the registry the orchestrator discovers tools from.
func (o *Orchestrator) Registry() *capability.Registry { return o.registry }

// RunPipeline runs the context, generation and post-process stages for rec.
//
// The returned record is valid even on error and reflects every stage that
// completed.
func (o *Orchestrator) RunPipeline(ctx context.Context, rec lifecycle.Record) (lifecycle.Record, error) {
	if o == nil || o.registry == nil || o.generator == nil {
		return rec, lifecycle.ErrNotInitialized
	}
	if err := rec.Validate(); err != nil {
		return rec, err
	}

	rec = rec.Clone()
	if rec.TurnID == "" {
		rec.TurnID = o.newID()
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "orchestrator.RunPipeline")
	defer span.End()
	span.SetAttributes(
		attribute.String("daemon.pubkey", rec.DaemonPubkey),
		attribute.String("channel.id", rec.ChannelID),
		attribute.String("turn.id", rec.TurnID),
	)
	logger := o.logger.With(
		zap.String("daemon.pubkey", rec.DaemonPubkey),
		zap.String("channel.id", rec.ChannelID),
		zap.String("turn.id", rec.TurnID),
	)

	rec = o.runContext(ctx, logger, rec)

	rec.Tools = capability.Descriptors(o.registry.ActionTools())
	start := time.Now()
	output, err := o.generator.Generate(ctx, rec.Clone())
	o.metrics.recordStage(ctx, StageGeneration, start, err)
	o.report(rec.TurnID, StageGeneration, err)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		logger.Warn("generation failed", zap.Error(err))
		o.fail(ctx, span, logger, rec, err)
		return rec, err
	}
	rec.Output = output

	rec, err = o.runPostProcess(ctx, logger, rec)
	if err != nil {
		o.fail(ctx, span, logger, rec, err)
		return rec, err
	}

	o.publish(ctx, logger, events.Event{
		Type:           events.TypeCompleted,
		TurnID:         rec.TurnID,
		DaemonPubkey:   rec.DaemonPubkey,
		ChannelID:      rec.ChannelID,
		Output:         rec.Output,
		PostProcessLog: rec.PostProcessLog,
	})
	logger.Debug("pipeline completed",
		zap.Int("context_sections", len(rec.Context)),
		zap.Int("post_process_entries", len(rec.PostProcessLog)),
	)
	return rec, nil
}

// runContext fans out every context tool and merges contributions in
// registration order.
func (o *Orchestrator) runContext(ctx context.Context, logger *zap.Logger, rec lifecycle.Record) lifecycle.Record {
	start := time.Now()
	tools := o.registry.ContextTools()
	contributions := make([][]string, len(tools))

	var g errgroup.Group
	for i, t := range tools {
		view := rec.Clone()
		g.Go(func() error {
			out, err := o.invoke(ctx, t, view)
			if err == nil {
				err = checkContext(view, out)
			}
			log := logger.With(zap.String("provider", t.ProviderName()), zap.String("tool", t.Name))
			switch {
			case err != nil:
				log.Warn("context tool failed", zap.Error(err))
				o.metrics.recordInvocation(ctx, StageContext, t.ProviderName(), t.Name, OutcomeFailed)
			case len(out.Context) == len(view.Context):
				log.Debug("context tool contributed nothing")
				o.metrics.recordInvocation(ctx, StageContext, t.ProviderName(), t.Name, OutcomeEmpty)
			default:
				contributions[i] = out.Context[len(view.Context):]
				o.metrics.recordInvocation(ctx, StageContext, t.ProviderName(), t.Name, OutcomeOK)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, c := range contributions {
		rec.Context = append(rec.Context, c...)
	}
	o.metrics.recordStage(ctx, StageContext, start, nil)
	o.report(rec.TurnID, StageContext, nil)
	return rec
}

// runPostProcess invokes post-process tools one at a time in zIndex order.
// Each tool receives the record returned by the one before it.
func (o *Orchestrator) runPostProcess(ctx context.Context, logger *zap.Logger, rec lifecycle.Record) (lifecycle.Record, error) {
	start := time.Now()
	var stageErr error
	defer func() {
		o.metrics.recordStage(ctx, StagePostProcess, start, stageErr)
		o.report(rec.TurnID, StagePostProcess, stageErr)
	}()

	for _, t := range o.registry.PostProcessTools() {
		log := logger.With(
			zap.String("provider", t.ProviderName()),
			zap.String("tool", t.Name),
			zap.Int("z_index", t.ZIndex),
		)
		out, err := o.invoke(ctx, t, rec.Clone())
		if err == nil {
			err = checkPostProcess(t, rec, out)
		}
		if err != nil {
			o.metrics.recordInvocation(ctx, StagePostProcess, t.ProviderName(), t.Name, OutcomeFailed)
			if t.Required {
				log.Error("required post-process tool failed", zap.Error(err))
				stageErr = err
				return rec, err
			}
			log.Warn("post-process tool failed, skipping", zap.Error(err))
			continue
		}
		o.metrics.recordInvocation(ctx, StagePostProcess, t.ProviderName(), t.Name, OutcomeOK)
		rec = out
	}
	return rec, nil
}

// invoke calls a tool and turns errors and panics into ProviderErrors.
func (o *Orchestrator) invoke(ctx context.Context, t capability.Tool, rec lifecycle.Record) (out lifecycle.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = rec
			err = &lifecycle.ProviderError{Provider: t.ProviderName(), Tool: t.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	out, err = t.Invoke(ctx, rec, nil)
	if err != nil {
		var pe *lifecycle.ProviderError
		if errors.As(err, &pe) {
			return rec, err
		}
		return rec, &lifecycle.ProviderError{Provider: t.ProviderName(), Tool: t.Name, Err: err}
	}
	return out, nil
}

// checkContext rejects a context tool that did anything but append to Context.
func checkContext(before, after lifecycle.Record) error {
	if after.DaemonPubkey != before.DaemonPubkey {
		return fmt.Errorf("%w: daemon pubkey changed", ErrContractViolation)
	}
	if !lifecycle.HasPrefix(after.Context, before.Context) {
		return fmt.Errorf("%w: context rewritten", ErrContractViolation)
	}
	return nil
}

// checkPostProcess rejects a post-process tool that shrank or rewrote the log.
func checkPostProcess(t capability.Tool, before, after lifecycle.Record) error {
	var err error
	switch {
	case after.DaemonPubkey != before.DaemonPubkey:
		err = fmt.Errorf("%w: daemon pubkey changed", ErrContractViolation)
	case !lifecycle.HasPrefix(after.PostProcessLog, before.PostProcessLog):
		err = fmt.Errorf("%w: post-process log rewritten", ErrContractViolation)
	default:
		return nil
	}
	return &lifecycle.ProviderError{Provider: t.ProviderName(), Tool: t.Name, Err: err}
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, logger *zap.Logger, rec lifecycle.Record, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	o.publish(ctx, logger, events.Event{
		Type:           events.TypeFailed,
		TurnID:         rec.TurnID,
		DaemonPubkey:   rec.DaemonPubkey,
		ChannelID:      rec.ChannelID,
		PostProcessLog: rec.PostProcessLog,
		Error:          err.Error(),
	})
}

// publish never affects the turn outcome.
func (o *Orchestrator) publish(ctx context.Context, logger *zap.Logger, e events.Event) {
	if err := o.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		logger.Warn("failed to publish pipeline event", zap.String("type", e.Type), zap.Error(err))
	}
}

func (o *Orchestrator) report(turnID string, stage Stage, err error) {
	if o.progress != nil {
		o.progress(StageProgress{TurnID: turnID, Stage: stage, Err: err})
	}
}
