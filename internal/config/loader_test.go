package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// setupTestHome points HOME at a temp dir and returns the daemond config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	dir := filepath.Join(home, ".config", "daemond")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
server:
  host: 0.0.0.0
  port: 8080
  shutdown_timeout: 30s
storage:
  path: /tmp/daemond/identity.db
vectorstore:
  provider: qdrant
  qdrant:
    host: qdrant.internal
    port: 6334
embeddings:
  provider: tei
  base_url: http://tei:8080
  dimension: 384
memory:
  recency_limit: 20
generation:
  anthropic_api_key: sk-ant-test
  max_tokens: 512
secrets:
  allow_list:
    - "^demo-"
providers:
  timeout: 5s
  rate_per_second: 2.5
  remote:
    - name: Weather Server
      endpoint: http://weather:9090/mcp
nats:
  enabled: true
  url: nats://nats:4222
characters:
  dir: /srv/characters
  watch: true
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout.Duration())

	assert.Equal(t, "/tmp/daemond/identity.db", cfg.Storage.Path)
	assert.Equal(t, "~/.config/daemond/memory.db", cfg.Storage.MemoryPath, "unset keys keep defaults")

	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.Qdrant.Host)
	assert.Equal(t, uint64(384), cfg.VectorStore.Qdrant.VectorSize, "vector size follows the embedder")

	assert.Equal(t, 20, cfg.Memory.RecencyLimit)
	assert.Equal(t, 5, cfg.Memory.SemanticLimit)

	assert.Equal(t, "sk-ant-test", cfg.Generation.AnthropicAPIKey.Value())
	assert.Equal(t, "[REDACTED]", cfg.Generation.AnthropicAPIKey.String())
	assert.Equal(t, 512, cfg.Generation.MaxTokens)

	assert.True(t, cfg.Secrets.Enabled)
	assert.Equal(t, []string{"^demo-"}, cfg.Secrets.AllowList)

	require.Len(t, cfg.Providers.Remote, 1)
	remotes := cfg.RemoteConfigs()
	assert.Equal(t, "Weather Server", remotes[0].Name)
	assert.Equal(t, "http://weather:9090/mcp", remotes[0].Endpoint)
	assert.Equal(t, 5*time.Second, remotes[0].Timeout)
	assert.Equal(t, 2.5, remotes[0].RatePerSecond)

	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.True(t, cfg.Characters.Watch)

	assert.Equal(t, zapcore.DebugLevel, cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.True(t, cfg.Logging.Output.Stdout, "nested logging defaults survive a partial section")
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  port: 8080\n")

	t.Setenv("DAEMON_SERVER_PORT", "7070")
	t.Setenv("DAEMON_NATS_ENABLED", "true")
	t.Setenv("DAEMON_VECTORSTORE_QDRANT_HOST", "qdrant.env")
	t.Setenv("DAEMON_LOGGING_SAMPLING_TICK", "5s")
	t.Setenv("DAEMON_GENERATION_OPENAI_API_KEY", "sk-openai")
	t.Setenv("DAEMON_OBSERVABILITY_SERVICE_NAME", "daemond-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "qdrant.env", cfg.VectorStore.Qdrant.Host)
	assert.Equal(t, 5*time.Second, cfg.Logging.Sampling.Tick)
	assert.Equal(t, "sk-openai", cfg.Generation.OpenAIAPIKey.Value())
	assert.Equal(t, "daemond-env", cfg.Observability.ServiceName)
}

func TestLoad_WellKnownKeyEnv(t *testing.T) {
	setupTestHome(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-fallback")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-fallback", cfg.Generation.AnthropicAPIKey.Value())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := Load("")
	require.NoError(t, err)

	want := Default()
	assert.Equal(t, want.Server, cfg.Server)
	assert.Equal(t, want.Storage, cfg.Storage)
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, "hash", cfg.Embeddings.Provider)
	assert.False(t, cfg.NATS.Enabled)
	assert.True(t, cfg.Secrets.Enabled)
	assert.Equal(t, "daemond", cfg.Observability.ServiceName)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server: [unclosed\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestLoad_Validation(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  port: 70000\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")
}

func TestLoad_PathTraversal(t *testing.T) {
	setupTestHome(t)

	_, err := Load("/tmp/../etc/passwd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoad_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)

	tests := []struct {
		name    string
		mode    os.FileMode
		wantErr bool
	}{
		{"owner read write", 0600, false},
		{"owner read only", 0400, false},
		{"world readable", 0644, true},
		{"group writable", 0660, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "config.yaml")
			_ = os.Remove(path)
			require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0600))
			require.NoError(t, os.Chmod(path, tt.mode))

			_, err := Load(path)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "insecure config file permissions")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := setupTestHome(t)
	content := "# " + string(bytes.Repeat([]byte("x"), maxConfigFileSize)) + "\n"
	path := writeConfig(t, dir, content)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file too large")
}

func TestValidateConfigPath(t *testing.T) {
	dir := setupTestHome(t)

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"user dir", filepath.Join(dir, "config.yaml"), false},
		{"nested user dir", filepath.Join(dir, "env", "prod.yaml"), false},
		{"system dir", "/etc/daemond/config.yaml", false},
		{"traversal out of user dir", filepath.Join(dir, "..", "..", "secrets.yaml"), true},
		{"sibling with shared prefix", dir + "-evil/config.yaml", true},
		{"tmp", "/tmp/config.yaml", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfigPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"DAEMON_SERVER_PORT", "server.port"},
		{"DAEMON_SERVER_SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{"DAEMON_STORAGE_MEMORY_PATH", "storage.memory_path"},
		{"DAEMON_VECTORSTORE_PROVIDER", "vectorstore.provider"},
		{"DAEMON_VECTORSTORE_CHROMEM_PATH", "vectorstore.chromem.path"},
		{"DAEMON_VECTORSTORE_QDRANT_VECTOR_SIZE", "vectorstore.qdrant.vector_size"},
		{"DAEMON_LOGGING_OUTPUT_OTEL", "logging.output.otel"},
		{"DAEMON_LOGGING_LEVEL", "logging.level"},
		{"DAEMON_EMBEDDINGS_API_KEY", "embeddings.api_key"},
		{"DAEMON_NATS", "nats"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			assert.Equal(t, tt.want, envKey(tt.env))
		})
	}
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, EnsureConfigDir())

	info, err := os.Stat(filepath.Join(home, ".config", "daemond"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
