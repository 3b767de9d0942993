package vectorstore

import (
	"fmt"

	"go.uber.org/zap"
)

// Backend names accepted by Config.Provider.
const (
	ProviderChromem = "chromem"
	ProviderQdrant  = "qdrant"
)

// Config selects and configures a backend.
type Config struct {
	Provider string        `koanf:"provider"`
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// NewStore builds the configured backend. An empty provider selects chromem.
func NewStore(cfg Config, embedder Embedder, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "", ProviderChromem:
		return NewChromemStore(cfg.Chromem, embedder, logger)
	case ProviderQdrant:
		return NewQdrantStore(cfg.Qdrant, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
