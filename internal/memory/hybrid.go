package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SPCG-NEST/daemon/internal/approval"
	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

const instrumentationName = "github.com/SPCG-NEST/daemon/internal/memory"

// Context section headers.
const (
	SemanticHeader = "\n# Entities Found In Previous Memory\n"
	RecencyHeader  = "\n# Messages Found In Recent Memory\n"
)

// Outcome values reported in the audit entry.
const (
	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

// Hybrid fans reads and writes out to a semantic and a recency source.
type Hybrid struct {
	semantic Source
	recency  Source
	gate     approval.Gate
	logger   *zap.Logger
	now      func() time.Time
	redactor Redactor
}

// Redactor removes sensitive text before a turn is remembered.
type Redactor interface {
	Redact(text string) string
}

// Option customizes a Hybrid.
type Option func(*Hybrid)

// WithRedactor scrubs the message and reply before either source sees them.
func WithRedactor(r Redactor) Option {
	return func(h *Hybrid) { h.redactor = r }
}

// NewHybrid combines two sources. A nil gate selects approval.FieldGate.
func NewHybrid(semantic, recency Source, gate approval.Gate, logger *zap.Logger, opts ...Option) *Hybrid {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gate == nil {
		gate = approval.FieldGate{}
	}
	h := &Hybrid{
		semantic: semantic,
		recency:  recency,
		gate:     gate,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hybrid) ready() error {
	if h == nil || h.semantic == nil || h.recency == nil {
		return lifecycle.ErrNotInitialized
	}
	return nil
}

// Query appends what both sources recall about rec.Message to rec.Context.
// A failing source contributes an empty section; store failures are never
// returned.
func (h *Hybrid) Query(ctx context.Context, rec lifecycle.Record) (lifecycle.Record, error) {
	if err := h.ready(); err != nil {
		return rec, err
	}
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "memory.Query")
	defer span.End()
	span.SetAttributes(attribute.String("daemon.pubkey", rec.DaemonPubkey))

	scope := Scope{DaemonPubkey: rec.DaemonPubkey, ChannelID: rec.ChannelID}
	var semantic, recent []string

	var g errgroup.Group
	g.Go(func() error {
		semantic = h.recall(ctx, "semantic", h.semantic, scope, rec.Message)
		return nil
	})
	g.Go(func() error {
		recent = h.recall(ctx, "recency", h.recency, scope, rec.Message)
		return nil
	})
	_ = g.Wait()

	out := rec.Clone()
	out.Context = append(out.Context,
		SemanticHeader+strings.Join(semantic, "\n"),
		RecencyHeader+strings.Join(recent, "\n"),
	)
	return out, nil
}

func (h *Hybrid) recall(ctx context.Context, name string, src Source, scope Scope, message string) []string {
	lines, err := src.Query(ctx, scope, message)
	if err != nil {
		h.logger.Warn("memory source failed, continuing without it",
			zap.String("source", name),
			zap.String("daemon.pubkey", scope.DaemonPubkey),
			zap.Error(err),
		)
		return nil
	}
	return lines
}

// Insert remembers an approved turn in both sources concurrently.
//
// One failing source is recorded in the audit entry and does not fail the
// call. If both fail, a *lifecycle.PartialWriteError is returned and no
// entry is appended.
func (h *Hybrid) Insert(ctx context.Context, rec lifecycle.Record) (lifecycle.Record, error) {
	if err := h.ready(); err != nil {
		return rec, err
	}
	if err := approval.Check(h.gate, rec); err != nil {
		return rec, err
	}
	if err := rec.Validate(); err != nil {
		return rec, err
	}
	if rec.TurnID == "" {
		return rec, fmt.Errorf("%w: turn id is required for memory writes", lifecycle.ErrInvalidRecord)
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "memory.Insert")
	defer span.End()

	turn := Turn{
		ID:           rec.TurnID,
		DaemonPubkey: rec.DaemonPubkey,
		ChannelID:    rec.ChannelID,
		Message:      rec.Message,
		Output:       rec.Output,
		CreatedAt:    h.now(),
	}
	if h.redactor != nil {
		turn.Message = h.redactor.Redact(turn.Message)
		turn.Output = h.redactor.Redact(turn.Output)
	}

	var semErr, recErr error
	var g errgroup.Group
	g.Go(func() error {
		semErr = h.semantic.Insert(ctx, turn)
		return nil
	})
	g.Go(func() error {
		recErr = h.recency.Insert(ctx, turn)
		return nil
	})
	_ = g.Wait()

	partial := &lifecycle.PartialWriteError{Semantic: semErr, Recency: recErr}
	if semErr != nil || recErr != nil {
		h.logger.Warn("memory write incomplete",
			zap.String("turn.id", turn.ID),
			zap.String("daemon.pubkey", turn.DaemonPubkey),
			zap.NamedError("semantic", semErr),
			zap.NamedError("recency", recErr),
		)
	}
	if partial.Total() {
		span.RecordError(partial)
		span.SetStatus(codes.Error, partial.Error())
		return rec, partial
	}

	return rec.AppendProcessLog(lifecycle.ProcessLogEntry{
		Server: ServerName,
		Tool:   ToolCreateKnowledge,
		Args: map[string]any{
			"message":  turn.Message,
			"output":   turn.Output,
			"semantic": outcome(semErr),
			"recency":  outcome(recErr),
		},
	})
}

func outcome(err error) string {
	if err != nil {
		return outcomeFailed
	}
	return outcomeOK
}
