package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type lineBuffer struct{ bytes.Buffer }

func (b *lineBuffer) Sync() error { return nil }

func (b *lineBuffer) lines(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func newBufferedLogger(t *testing.T, modify func(*Config)) (*Logger, *lineBuffer) {
	t.Helper()
	buf := &lineBuffer{}
	cfg := NewDefaultConfig()
	cfg.Writer = buf
	cfg.Sampling.Enabled = false
	if modify != nil {
		modify(cfg)
	}
	l, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	return l, buf
}

func TestNewLogger_JSONWithContext(t *testing.T) {
	l, buf := newBufferedLogger(t, nil)
	ctx := WithDaemon(context.Background(), "abc", "general")

	l.Info(ctx, "turn finished", zap.Int("post_process_log", 2))
	require.NoError(t, l.Sync())

	lines := buf.lines(t)
	require.Len(t, lines, 1)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "turn finished", lines[0]["msg"])
	assert.Equal(t, "abc", lines[0]["daemon.pubkey"])
	assert.Equal(t, "general", lines[0]["channel.id"])
	assert.Equal(t, "daemond", lines[0]["service"])
	assert.EqualValues(t, 2, lines[0]["post_process_log"])
	assert.Contains(t, lines[0], "caller")
}

func TestNewLogger_Levels(t *testing.T) {
	l, buf := newBufferedLogger(t, func(c *Config) { c.Level = TraceLevel })
	ctx := context.Background()

	l.Trace(ctx, "wire")
	l.Debug(ctx, "debug")
	l.Warn(ctx, "warn")
	l.Error(ctx, "error")

	var levels []any
	for _, line := range buf.lines(t) {
		levels = append(levels, line["level"])
	}
	assert.Equal(t, []any{"trace", "debug", "warn", "error"}, levels)
	assert.True(t, l.Enabled(TraceLevel))
}

func TestNewLogger_Redaction(t *testing.T) {
	l, buf := newBufferedLogger(t, nil)

	l.Info(context.Background(), "provider configured",
		zap.String("anthropic_api_key", "sk-ant-abc123"),
		zap.String("note", "sent Bearer abc.def"),
		zap.String("model", "claude-3-5-sonnet"),
	)

	lines := buf.lines(t)
	require.Len(t, lines, 1)
	assert.Equal(t, "[REDACTED]", lines[0]["anthropic_api_key"])
	assert.Equal(t, "[REDACTED:pattern]", lines[0]["note"])
	assert.Equal(t, "claude-3-5-sonnet", lines[0]["model"])
}

func TestNewLogger_SamplingKeepsErrors(t *testing.T) {
	l, buf := newBufferedLogger(t, func(c *Config) {
		c.Sampling = SamplingConfig{Enabled: true, Tick: time.Minute, Initial: 2, Thereafter: 0}
	})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		l.Info(ctx, "repeated")
		l.Error(ctx, "failing")
	}

	var info, errs int
	for _, line := range buf.lines(t) {
		switch line["msg"] {
		case "repeated":
			info++
		case "failing":
			errs++
		}
	}
	assert.Equal(t, 2, info)
	assert.Equal(t, 10, errs)
}

func TestNewLogger_Children(t *testing.T) {
	l, buf := newBufferedLogger(t, nil)
	l.Named("orchestrator").With(zap.String("component", "context")).Info(context.Background(), "fan out")

	lines := buf.lines(t)
	require.Len(t, lines, 1)
	assert.Equal(t, "orchestrator", lines[0]["logger"])
	assert.Equal(t, "context", lines[0]["component"])
	assert.NotNil(t, l.Underlying())
}

func TestNewLogger_OTELOutput(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}

	_, err := NewLogger(cfg, nil)
	assert.Error(t, err, "otel output without a provider has no sink")

	l, err := NewLogger(cfg, noop.NewLoggerProvider())
	require.NoError(t, err)
	l.Info(context.Background(), "bridged")
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	_, err := NewLogger(&Config{Format: "xml"}, nil)
	assert.Error(t, err)
}

func TestTestLogger(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithDaemon(context.Background(), "abc", "")

	tl.Info(ctx, "registered", zap.String("name", "Bob"))

	tl.AssertLogged(t, zapcore.InfoLevel, "registered")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "registered")
	tl.AssertField(t, "registered", "daemon.pubkey", "abc")
	tl.AssertField(t, "registered", "name", "Bob")

	tl.Reset()
	assert.Empty(t, tl.All())
}
