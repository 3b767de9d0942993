package logging

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, zapcore.InfoLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.Output.Stdout)
	assert.False(t, cfg.Output.OTEL)
	assert.Equal(t, "daemond", cfg.Fields["service"])
	assert.Contains(t, cfg.Redaction.Fields, "anthropic_api_key")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"bad format", func(c *Config) { c.Format = "xml" }, "format"},
		{"no output", func(c *Config) { c.Output = OutputConfig{} }, "output"},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, "tick"},
		{"negative initial", func(c *Config) { c.Sampling.Initial = -1 }, "initial"},
		{"sampling disabled ignores tick", func(c *Config) { c.Sampling = SamplingConfig{} }, ""},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, "invalid redaction pattern"},
		{"long pattern", func(c *Config) { c.Redaction.Patterns = []string{strings.Repeat("a", 201)} }, "too long"},
		{"empty field key", func(c *Config) { c.Fields = map[string]string{"": "x"} }, "key"},
		{"empty field value", func(c *Config) { c.Fields = map[string]string{"env": ""} }, "empty value"},
		{"otel only", func(c *Config) { c.Output = OutputConfig{OTEL: true} }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLevelFromString(t *testing.T) {
	l, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, l)

	l, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, l)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}
