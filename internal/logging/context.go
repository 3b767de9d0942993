package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type daemonCtxKey struct{}
type turnCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

// Daemon identifies the persona and channel a turn belongs to.
type Daemon struct {
	Pubkey    string
	ChannelID string
}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 7)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if d := DaemonFromContext(ctx); d != nil {
		fields = append(fields, zap.String("daemon.pubkey", d.Pubkey))
		if d.ChannelID != "" {
			fields = append(fields, zap.String("channel.id", d.ChannelID))
		}
	}
	if id := TurnIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("turn.id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}

// ValidateID reports whether id is safe to attach as a turn or request id.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("id exceeds max length %d", maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("id contains invalid characters (must be alphanumeric, hyphen, underscore)")
	}
	return nil
}

// WithDaemon attaches the daemon pubkey and channel to ctx. Pubkeys come from
// callers, so an empty or malformed pubkey leaves ctx unchanged.
func WithDaemon(ctx context.Context, pubkey, channelID string) context.Context {
	if pubkey == "" || len(pubkey) > maxIDLen || !utf8.ValidString(pubkey) {
		return ctx
	}
	if len(channelID) > maxIDLen || !utf8.ValidString(channelID) {
		channelID = ""
	}
	return context.WithValue(ctx, daemonCtxKey{}, &Daemon{Pubkey: pubkey, ChannelID: channelID})
}

// DaemonFromContext returns the daemon attached by WithDaemon.
func DaemonFromContext(ctx context.Context) *Daemon {
	if d, ok := ctx.Value(daemonCtxKey{}).(*Daemon); ok {
		return d
	}
	return nil
}

// WithTurnID adds the turn id to ctx.
// Panics if id is invalid; turn ids are generated by the daemon.
func WithTurnID(ctx context.Context, id string) context.Context {
	if err := ValidateID(id); err != nil {
		panic(fmt.Sprintf("logging: turn id: %v", err))
	}
	return context.WithValue(ctx, turnCtxKey{}, id)
}

// TurnIDFromContext extracts the turn id from ctx.
func TurnIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(turnCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithRequestID adds request ID to context.
// Panics if requestID is invalid; check client-supplied ids with ValidateID first.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if err := ValidateID(requestID); err != nil {
		panic(fmt.Sprintf("logging: request id: %v", err))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if none was stored.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
