// Package config provides configuration loading for daemond.
//
// Configuration is read from a YAML file, overridden by DAEMON_* environment
// variables, and validated before any dependency is built.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/SPCG-NEST/daemon/internal/embeddings"
	"github.com/SPCG-NEST/daemon/internal/generation"
	"github.com/SPCG-NEST/daemon/internal/identity"
	"github.com/SPCG-NEST/daemon/internal/logging"
	"github.com/SPCG-NEST/daemon/internal/mcp"
	"github.com/SPCG-NEST/daemon/internal/memory"
	"github.com/SPCG-NEST/daemon/internal/secrets"
	"github.com/SPCG-NEST/daemon/internal/vectorstore"
)

// Config holds the complete daemond configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Storage       StorageConfig       `koanf:"storage"`
	VectorStore   vectorstore.Config  `koanf:"vectorstore"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Memory        memory.Config       `koanf:"memory"`
	Generation    GenerationConfig    `koanf:"generation"`
	Secrets       secrets.Config      `koanf:"secrets"`
	Providers     ProvidersConfig     `koanf:"providers"`
	NATS          NATSConfig          `koanf:"nats"`
	Characters    CharactersConfig    `koanf:"characters"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       logging.Config      `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StorageConfig holds the SQLite settings shared by identity and memory.
type StorageConfig struct {
	// Path is the identity database.
	Path string `koanf:"path"`

	// MemoryPath holds recency and graph memory. It may equal Path.
	MemoryPath string `koanf:"memory_path"`

	BusyTimeout Duration `koanf:"busy_timeout"`

	// CacheSize caps cached characters. Zero disables the cache.
	CacheSize int64 `koanf:"cache_size"`
}

// EmbeddingsConfig mirrors embeddings.Config with a redacted API key.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	CacheDir  string `koanf:"cache_dir"`
	Dimension int    `koanf:"dimension"`
}

// GenerationConfig holds model credentials.
type GenerationConfig struct {
	AnthropicAPIKey Secret `koanf:"anthropic_api_key"`
	OpenAIAPIKey    Secret `koanf:"openai_api_key"`
	MaxTokens       int    `koanf:"max_tokens"`
}

// ProvidersConfig lists independently owned capability providers.
type ProvidersConfig struct {
	Remote        []RemoteProvider `koanf:"remote"`
	Timeout       Duration         `koanf:"timeout"`
	RatePerSecond float64          `koanf:"rate_per_second"`
}

// RemoteProvider is one MCP endpoint.
type RemoteProvider struct {
	Name     string `koanf:"name"`
	Endpoint string `koanf:"endpoint"`
}

// NATSConfig enables pipeline event publishing.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

// CharactersConfig points at a directory of character documents.
type CharactersConfig struct {
	Dir   string `koanf:"dir"`
	Watch bool   `koanf:"watch"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
}

// Default returns the configuration used when no file or env var says otherwise.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Storage: StorageConfig{
			Path:        "~/.config/daemond/identity.db",
			MemoryPath:  "~/.config/daemond/memory.db",
			BusyTimeout: Duration(5 * time.Second),
			CacheSize:   1024,
		},
		VectorStore: vectorstore.Config{
			Provider: vectorstore.ProviderChromem,
			Chromem: vectorstore.ChromemConfig{
				Path:       "~/.config/daemond/vectorstore",
				Compress:   false,
				Collection: vectorstore.DefaultCollection,
			},
			Qdrant: vectorstore.QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: vectorstore.DefaultCollection,
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider:  embeddings.ProviderHash,
			Dimension: embeddings.DefaultHashDimension,
		},
		Memory: memory.DefaultConfig(),
		Generation: GenerationConfig{
			MaxTokens: generation.DefaultMaxTokens,
		},
		Secrets: secrets.DefaultConfig(),
		Providers: ProvidersConfig{
			Timeout: Duration(mcp.DefaultRemoteTimeout),
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Characters: CharactersConfig{
			Dir: "~/.config/daemond/characters",
		},
		Observability: ObservabilityConfig{
			ServiceName:  "daemond",
			OTLPEndpoint: "localhost:4317",
		},
		Logging: *logging.NewDefaultConfig(),
	}
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - A secrets allow list pattern does not compile
//   - A remote provider has no valid endpoint
//   - NATS is enabled without a URL
//   - Service name is empty (when telemetry is enabled)
//   - The logging section is invalid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Storage.Path == "" {
		return errors.New("storage path is required")
	}

	switch c.VectorStore.Provider {
	case vectorstore.ProviderChromem, vectorstore.ProviderQdrant:
	default:
		return fmt.Errorf("unknown vectorstore provider %q (expected chromem or qdrant)", c.VectorStore.Provider)
	}
	if c.VectorStore.Provider == vectorstore.ProviderQdrant && c.VectorStore.Qdrant.Host == "" {
		return errors.New("qdrant host is required")
	}

	if c.Embeddings.BaseURL != "" {
		if err := validateURL(c.Embeddings.BaseURL); err != nil {
			return fmt.Errorf("embeddings base_url: %w", err)
		}
	}
	if err := c.Secrets.Validate(); err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	if c.Providers.RatePerSecond < 0 {
		return errors.New("providers rate_per_second cannot be negative")
	}
	seen := make(map[string]bool, len(c.Providers.Remote))
	for i, rp := range c.Providers.Remote {
		if err := validateURL(rp.Endpoint); err != nil {
			return fmt.Errorf("providers.remote[%d] endpoint: %w", i, err)
		}
		if rp.Name != "" && seen[rp.Name] {
			return fmt.Errorf("providers.remote[%d]: duplicate name %q", i, rp.Name)
		}
		seen[rp.Name] = true
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats url required when nats is enabled")
	}
	if c.Characters.Watch && c.Characters.Dir == "" {
		return errors.New("characters dir required when watch is enabled")
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// IdentityConfig returns the identity store settings.
func (c *Config) IdentityConfig() *identity.Config {
	return &identity.Config{
		Path:        c.Storage.Path,
		BusyTimeout: c.Storage.BusyTimeout.Duration(),
		CacheSize:   c.Storage.CacheSize,
	}
}

// EmbeddingsProviderConfig returns the embedder settings with the key revealed.
func (c *Config) EmbeddingsProviderConfig() embeddings.Config {
	return embeddings.Config{
		Provider:  c.Embeddings.Provider,
		Model:     c.Embeddings.Model,
		BaseURL:   c.Embeddings.BaseURL,
		APIKey:    c.Embeddings.APIKey.Value(),
		CacheDir:  c.Embeddings.CacheDir,
		Dimension: c.Embeddings.Dimension,
	}
}

// GenerationServiceConfig returns the model credentials with keys revealed.
func (c *Config) GenerationServiceConfig() generation.Config {
	return generation.Config{
		AnthropicAPIKey: c.Generation.AnthropicAPIKey.Value(),
		OpenAIAPIKey:    c.Generation.OpenAIAPIKey.Value(),
		MaxTokens:       c.Generation.MaxTokens,
	}
}

// RemoteConfigs returns one dial config per remote provider.
func (c *Config) RemoteConfigs() []mcp.RemoteConfig {
	out := make([]mcp.RemoteConfig, 0, len(c.Providers.Remote))
	for _, rp := range c.Providers.Remote {
		out = append(out, mcp.RemoteConfig{
			Name:          rp.Name,
			Endpoint:      rp.Endpoint,
			Timeout:       c.Providers.Timeout.Duration(),
			RatePerSecond: c.Providers.RatePerSecond,
		})
	}
	return out
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url %q: host is required", raw)
	}
	return nil
}
