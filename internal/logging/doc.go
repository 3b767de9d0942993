// Package logging builds the daemon's zap loggers.
//
// A Logger writes JSON (or console) lines to stdout and, when an OpenTelemetry
// log provider is supplied, tees every entry through the otelzap bridge.
// Entries are sampled below Error, and configured field names and value
// patterns are redacted at the encoder.
//
// Turn correlation travels on the context:
//
//	ctx = logging.WithDaemon(ctx, rec.DaemonPubkey, rec.ChannelID)
//	ctx = logging.WithTurnID(ctx, rec.TurnID)
//	logger.Info(ctx, "turn finished", zap.Int("post_process_log", len(rec.PostProcessLog)))
//
// produces
//
//	{"level":"info","msg":"turn finished","daemon.pubkey":"abc","channel.id":"general","turn.id":"...","post_process_log":2}
//
// Domain packages take a plain *zap.Logger; pass Underlying() to them.
package logging
