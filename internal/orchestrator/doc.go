// Package orchestrator runs one persona turn across the registered
// capability providers.
//
// # Overview
//
// A turn moves through three stages:
//
//	Context → Generation → PostProcess
//
// Context tools run concurrently against independent clones of the record.
// Each tool's contribution is the suffix it appended to Context, and the
// contributions are merged in registration order regardless of which tool
// finished first. A failing or panicking context tool contributes nothing.
//
// Generation is delegated to a [Generator]. Its failure aborts the turn with
// [ErrGenerationFailed] before any durable write happens.
//
// Post-process tools run one at a time in ascending zIndex order, each seeing
// the record produced by the previous one. A failing tool is skipped unless
// its descriptor is Required, in which case the error reaches the caller.
//
// # Contracts
//
// The orchestrator enforces what each category may change:
//   - context tools may only append to Context
//   - post-process tools may only append to PostProcessLog
//
// A tool that breaks its contract is treated as a provider failure.
//
// # Usage Example
//
//	registry := capability.NewRegistry()
//	_ = registry.Register(memory.NewProvider(hybrid))
//	_ = registry.Register(identity.NewProvider(store))
//
//	o := orchestrator.New(registry, generation.NewDefaultService(store, cfg, logger), logger,
//	    orchestrator.WithPublisher(events.NewNATSPublisher(nc, logger)),
//	)
//	out, err := o.RunPipeline(ctx, lifecycle.Record{DaemonPubkey: "abc", Message: "hello"})
package orchestrator
