package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SPCG-NEST/daemon/internal/identity"
	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

const instrumentationName = "github.com/SPCG-NEST/daemon/internal/generation"

var (
	// ErrUnknownCharacter is returned when the record's daemon is not registered.
	ErrUnknownCharacter = errors.New("unknown character")

	// ErrUnknownProvider is returned when no Model is registered for a character's provider.
	ErrUnknownProvider = errors.New("unknown generation provider")
)

// CharacterSource looks characters up by pubkey.
type CharacterSource interface {
	FetchCharacter(ctx context.Context, pubkey string) (*identity.Character, error)
}

// Config holds fallback credentials and limits.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	MaxTokens       int
}

// Service renders prompts and dispatches them to the character's model.
type Service struct {
	characters CharacterSource
	logger     *zap.Logger

	mu     sync.RWMutex
	models map[string]Model
}

// NewService creates a Service with no models registered.
func NewService(characters CharacterSource, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{characters: characters, logger: logger, models: make(map[string]Model)}
}

// NewDefaultService registers the anthropic and openai models.
func NewDefaultService(characters CharacterSource, cfg Config, logger *zap.Logger) *Service {
	s := NewService(characters, logger)
	s.Register(ProviderAnthropic, NewAnthropicModel(cfg.AnthropicAPIKey, cfg.MaxTokens))
	s.Register(ProviderOpenAI, NewOpenAIModel(cfg.OpenAIAPIKey, cfg.MaxTokens))
	return s
}

// Register binds a provider name to a model, replacing any previous one.
func (s *Service) Register(provider string, m Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[provider] = m
}

func (s *Service) model(provider string) (Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return m, nil
}

// Generate produces the persona's reply for rec.
func (s *Service) Generate(ctx context.Context, rec lifecycle.Record) (string, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "generation.Generate")
	defer span.End()

	out, err := s.generate(ctx, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (s *Service) generate(ctx context.Context, rec lifecycle.Record) (string, error) {
	c, err := s.characters.FetchCharacter(ctx, rec.DaemonPubkey)
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownCharacter, rec.DaemonPubkey)
	}

	settings := c.ModelSettings.Generation
	m, err := s.model(settings.Provider)
	if err != nil {
		return "", err
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("provider", settings.Provider),
		attribute.String("model", settings.Name),
	)
	log := s.logger.With(
		zap.String("daemon.pubkey", rec.DaemonPubkey),
		zap.String("provider", settings.Provider),
		zap.String("model", settings.Name),
	)

	out, err := m.Generate(ctx, settings, DefaultSystemPrompt, BuildPrompt(*c, rec))
	if err != nil {
		log.Warn("generation failed", zap.Error(err))
		return "", err
	}
	log.Debug("generation complete", zap.Int("output_len", len(out)))
	return out, nil
}
