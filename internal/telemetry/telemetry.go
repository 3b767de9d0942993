package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// component is one installed provider.
type component struct {
	name     string
	flush    func(context.Context) error
	shutdown func(context.Context) error
}

// Telemetry owns the process-wide trace and meter providers. Package code
// never holds a reference to it; spans and instruments go through the otel
// globals it installs.
type Telemetry struct {
	config *Config
	logger *zap.Logger

	mu         sync.Mutex
	components []component
	degraded   []string
	stopped    bool
}

// New builds providers from cfg and installs them as the otel globals.
// A nil cfg means NewDefaultConfig, which is disabled.
//
// Only an invalid config is an error. A provider that cannot be built is
// logged, reported by Degraded, and its global stays a no-op.
func New(ctx context.Context, cfg *Config, logger *zap.Logger, opts ...Option) (*Telemetry, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Telemetry{config: cfg, logger: logger}
	if !cfg.Enabled {
		return t, nil
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	res := newResource(cfg)

	if tp, err := newTracerProvider(ctx, cfg, res, &o); err != nil {
		t.markDegraded("traces", err)
	} else {
		otel.SetTracerProvider(tp)
		t.components = append(t.components, component{"traces", tp.ForceFlush, tp.Shutdown})
	}

	if mp, err := newMeterProvider(ctx, cfg, res, &o); err != nil {
		t.markDegraded("metrics", err)
	} else if mp != nil {
		otel.SetMeterProvider(mp)
		t.components = append(t.components, component{"metrics", mp.ForceFlush, mp.Shutdown})
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("protocol", cfg.Protocol),
		zap.Int("providers", len(t.components)),
		zap.Strings("degraded", t.degraded),
	)
	return t, nil
}

// IsEnabled reports whether telemetry is enabled and not shut down.
func (t *Telemetry) IsEnabled() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.config.Enabled && !t.stopped
}

// Degraded lists the providers that failed to start.
func (t *Telemetry) Degraded() []string {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.degraded...)
}

// ForceFlush exports all pending telemetry.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	return t.each(ctx, "flush", func(c component) func(context.Context) error { return c.flush })
}

// Shutdown flushes and stops every provider. Without a deadline on ctx the
// configured shutdown timeout applies. Later calls are no-ops.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.ShutdownTimeout)
		defer cancel()
	}
	return t.each(ctx, "shutdown", func(c component) func(context.Context) error { return c.shutdown })
}

func (t *Telemetry) each(ctx context.Context, op string, pick func(component) func(context.Context) error) error {
	if t == nil {
		return nil
	}
	var errs []error
	for _, c := range t.components {
		if err := pick(c)(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", c.name, op, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Telemetry) markDegraded(name string, err error) {
	t.degraded = append(t.degraded, name)
	t.logger.Warn("telemetry degraded", zap.String("component", name), zap.Error(err))
}
