package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"port too low", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"port too high", func(c *Config) { c.Server.Port = 65536 }, "invalid server port"},
		{"zero shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "shutdown timeout"},
		{"empty storage path", func(c *Config) { c.Storage.Path = "" }, "storage path"},
		{"unknown vectorstore", func(c *Config) { c.VectorStore.Provider = "pinecone" }, "unknown vectorstore provider"},
		{"qdrant without host", func(c *Config) {
			c.VectorStore.Provider = "qdrant"
			c.VectorStore.Qdrant.Host = ""
		}, "qdrant host"},
		{"bad embeddings url", func(c *Config) { c.Embeddings.BaseURL = "ftp://tei" }, "embeddings base_url"},
		{"bad secrets allow list", func(c *Config) { c.Secrets.AllowList = []string{"("} }, "secrets"},
		{"negative rate", func(c *Config) { c.Providers.RatePerSecond = -1 }, "rate_per_second"},
		{"remote without endpoint", func(c *Config) {
			c.Providers.Remote = []RemoteProvider{{Name: "weather"}}
		}, "providers.remote[0]"},
		{"duplicate remote names", func(c *Config) {
			c.Providers.Remote = []RemoteProvider{
				{Name: "weather", Endpoint: "http://a/mcp"},
				{Name: "weather", Endpoint: "http://b/mcp"},
			}
		}, "duplicate name"},
		{"nats without url", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.URL = ""
		}, "nats url"},
		{"watch without dir", func(c *Config) {
			c.Characters.Watch = true
			c.Characters.Dir = ""
		}, "characters dir"},
		{"telemetry without service", func(c *Config) {
			c.Observability.EnableTelemetry = true
			c.Observability.ServiceName = ""
		}, "service name"},
		{"bad logging format", func(c *Config) { c.Logging.Format = "xml" }, "logging"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Conversions(t *testing.T) {
	cfg := Default()
	cfg.Storage.Path = "/data/identity.db"
	cfg.Storage.BusyTimeout = Duration(2 * time.Second)
	cfg.Embeddings.Provider = "openai"
	cfg.Embeddings.APIKey = "sk-embed"
	cfg.Generation.AnthropicAPIKey = "sk-ant"
	cfg.Generation.MaxTokens = 256

	id := cfg.IdentityConfig()
	assert.Equal(t, "/data/identity.db", id.Path)
	assert.Equal(t, 2*time.Second, id.BusyTimeout)
	assert.Equal(t, int64(1024), id.CacheSize)

	emb := cfg.EmbeddingsProviderConfig()
	assert.Equal(t, "openai", emb.Provider)
	assert.Equal(t, "sk-embed", emb.APIKey)

	gen := cfg.GenerationServiceConfig()
	assert.Equal(t, "sk-ant", gen.AnthropicAPIKey)
	assert.Empty(t, gen.OpenAIAPIKey)
	assert.Equal(t, 256, gen.MaxTokens)
}

func TestApplyDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg := &Config{}
	cfg.Storage.Path = "/data/daemon.db"
	cfg.Embeddings.Provider = "openai"
	applyDefaults(cfg)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "/data/daemon.db", cfg.Storage.MemoryPath, "memory shares the identity database")
	assert.Equal(t, "daemon_memories", cfg.VectorStore.Chromem.Collection)
	assert.Equal(t, 10, cfg.Memory.RecencyLimit)
	assert.Equal(t, 1000, cfg.Generation.MaxTokens)
	assert.False(t, cfg.Generation.AnthropicAPIKey.IsSet())
	assert.Equal(t, "sk-openai", cfg.Generation.OpenAIAPIKey.Value())
	assert.Equal(t, "sk-openai", cfg.Embeddings.APIKey.Value(), "openai embeddings reuse the generation key")
	assert.Equal(t, 30*time.Second, cfg.Providers.Timeout.Duration())
	assert.Equal(t, "daemond", cfg.Observability.ServiceName)
	assert.Equal(t, "[REDACTED]", cfg.Secrets.RedactionString)
	assert.False(t, cfg.Secrets.Enabled, "an explicit zero config stays disabled")
}
