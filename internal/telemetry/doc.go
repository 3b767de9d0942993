// Package telemetry wires OpenTelemetry tracing and metrics for daemond.
//
// When enabled, spans and metrics are exported over OTLP (gRPC by default,
// http/protobuf on request) and the providers are installed as the otel
// globals, so packages that call otel.Tracer or otel.Meter need no wiring.
// When disabled, New returns an instance whose providers are the global
// no-ops.
//
//	tel, err := telemetry.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Export failures never stop the daemon. The instance reports itself as
// degraded instead.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory:
//
//	tt := telemetry.NewTestTelemetry(t)
//	_, span := otel.Tracer("test").Start(ctx, "orchestrator.RunPipeline")
//	span.End()
//	tt.AssertSpanExists(t, "orchestrator.RunPipeline")
package telemetry
