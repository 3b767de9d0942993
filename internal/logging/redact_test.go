package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type fakeSecret string

func (s fakeSecret) Value() string { return string(s) }

func TestSecret(t *testing.T) {
	enc := zapcore.NewMapObjectEncoder()
	Secret("api_key", fakeSecret("sk-ant-123456")).AddTo(enc)

	obj, ok := enc.Fields["api_key"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[REDACTED:13]", obj["api_key"])
}

func TestRedactedString(t *testing.T) {
	f := RedactedString("token", "abcdef")
	assert.Equal(t, "[REDACTED:6]", f.String)
}

func TestRedactingEncoder(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	enc, err := NewRedactingEncoder(base, RedactionConfig{
		Enabled:  true,
		Fields:   []string{"Password"},
		Patterns: []string{`sk-ant-\S+`},
	})
	require.NoError(t, err)

	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "m"}, []zapcore.Field{
		zap.String("password", "hunter2"),
		zap.ByteString("PASSWORD", []byte("hunter2")),
		zap.String("header", "x-api-key: sk-ant-999"),
		zap.Any("password", map[string]string{"a": "b"}),
		zap.String("name", "Bob"),
	})
	require.NoError(t, err)
	out := buf.String()

	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "sk-ant-999")
	assert.Contains(t, out, `"header":"[REDACTED:pattern]"`)
	assert.Contains(t, out, `"name":"Bob"`)

	clone := enc.Clone().(*RedactingEncoder)
	assert.True(t, clone.sensitive("password"))
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	enc, err := NewRedactingEncoder(base, RedactionConfig{Fields: []string{"password"}})
	require.NoError(t, err)
	assert.False(t, enc.sensitive("password"))
}

func TestRedactingEncoder_BadPattern(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	_, err := NewRedactingEncoder(base, RedactionConfig{Enabled: true, Patterns: []string{"("}})
	assert.Error(t, err)
}
