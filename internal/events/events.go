// Package events publishes pipeline outcomes to NATS.
//
// Events are published to subjects:
//   - daemon.{pubkey}.pipeline.completed
//   - daemon.{pubkey}.pipeline.failed
//
// Subscribers such as the HTTP event stream use [WildcardSubject] to follow
// one daemon.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeCompleted = "completed"
	TypeFailed    = "failed"
)

// Event is one pipeline outcome.
type Event struct {
	Type           string    `json:"type"`
	TurnID         string    `json:"turn_id"`
	DaemonPubkey   string    `json:"daemon_pubkey"`
	ChannelID      string    `json:"channel_id,omitempty"`
	Output         string    `json:"output,omitempty"`
	PostProcessLog []string  `json:"post_process_log,omitempty"`
	Error          string    `json:"error,omitempty"`
	Time           time.Time `json:"time"`
}

// Publisher emits pipeline events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// token makes s safe as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// Subject returns the subject for an event type on one daemon.
func Subject(pubkey, eventType string) string {
	return fmt.Sprintf("daemon.%s.pipeline.%s", token(pubkey), token(eventType))
}

// WildcardSubject matches every pipeline event for one daemon.
func WildcardSubject(pubkey string) string {
	return fmt.Sprintf("daemon.%s.pipeline.*", token(pubkey))
}

// NATSPublisher publishes events as JSON over core NATS.
type NATSPublisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewNATSPublisher wraps an established connection.
func NewNATSPublisher(nc *nats.Conn, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, logger: logger}
}

// Publish fills in Time if unset.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := Subject(e.DaemonPubkey, e.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Type, err)
	}
	p.logger.Debug("published pipeline event",
		zap.String("subject", subject),
		zap.String("turn.id", e.TurnID),
	)
	return nil
}

// Connect dials NATS with reconnect settings suitable for a long-running daemon.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("daemond"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("Connected to NATS", zap.String("url", url))
	return nc, nil
}
