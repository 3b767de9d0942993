package embeddings

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/SPCG-NEST/daemon/internal/vectorstore"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider names accepted by Config.Provider.
const (
	ProviderHash      = "hash"
	ProviderFastEmbed = "fastembed"
	ProviderTEI       = "tei"
	ProviderOpenAI    = "openai"
)

// Provider is an Embedder with a known output size.
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Config selects and configures a provider.
type Config struct {
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    string `koanf:"api_key"`
	CacheDir  string `koanf:"cache_dir"`
	Dimension int    `koanf:"dimension"`
}

// DefaultConfig returns the offline hash provider.
func DefaultConfig() Config {
	return Config{Provider: ProviderHash, Dimension: DefaultHashDimension}
}

// NewProvider builds the configured provider, instrumented with metrics.
func NewProvider(cfg Config, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "", ProviderHash:
		p = NewHashProvider(cfg.Dimension)
	case ProviderFastEmbed:
		p, err = NewFastEmbedProvider(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir})
	case ProviderTEI:
		p, err = NewTEIProvider(TEIConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Dimension: cfg.Dimension})
	case ProviderOpenAI:
		p, err = NewOpenAIProvider(OpenAIConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, APIKey: cfg.APIKey, Dimension: cfg.Dimension})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	model := cfg.Model
	if model == "" {
		model = cfg.Provider
	}
	logger.Info("embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", model),
		zap.Int("dimension", p.Dimension()),
	)
	return Instrument(p, model, logger), nil
}

// detectDimensionFromModel guesses a model's output size from its name.
func detectDimensionFromModel(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "text-embedding-3-large"):
		return 3072
	case strings.Contains(m, "text-embedding"):
		return 1536
	case strings.Contains(m, "base"):
		return 768
	case strings.Contains(m, "large"):
		return 1024
	default:
		return 384
	}
}
