package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/SPCG-NEST/daemon/internal/identity"
)

// Provider names matched against ModelSettings.Provider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// DefaultMaxTokens caps a reply when neither the character nor config sets a limit.
const DefaultMaxTokens = 1000

// ErrMissingAPIKey is returned when neither the character nor config carries a key.
var ErrMissingAPIKey = errors.New("missing api key")

// Model produces text for a prompt.
type Model interface {
	Generate(ctx context.Context, settings identity.ModelSettings, system, prompt string) (string, error)
}

// ModelFunc adapts a function into a Model.
type ModelFunc func(ctx context.Context, settings identity.ModelSettings, system, prompt string) (string, error)

func (f ModelFunc) Generate(ctx context.Context, settings identity.ModelSettings, system, prompt string) (string, error) {
	return f(ctx, settings, system, prompt)
}

func maxTokens(s identity.ModelSettings, fallback int) int {
	if s.MaxTokens > 0 {
		return s.MaxTokens
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultMaxTokens
}

func apiKey(s identity.ModelSettings, fallback string) (string, error) {
	if s.APIKey != "" {
		return s.APIKey, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("%w for provider %q", ErrMissingAPIKey, s.Provider)
}

// AnthropicModel calls the Messages API.
type AnthropicModel struct {
	apiKey    string
	maxTokens int
}

// NewAnthropicModel uses apiKey when a character has none.
func NewAnthropicModel(apiKey string, maxTokens int) *AnthropicModel {
	return &AnthropicModel{apiKey: apiKey, maxTokens: maxTokens}
}

func (m *AnthropicModel) Generate(ctx context.Context, s identity.ModelSettings, system, prompt string) (string, error) {
	key, err := apiKey(s, m.apiKey)
	if err != nil {
		return "", err
	}
	opts := []option.RequestOption{option.WithAPIKey(key)}
	if s.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(s.Endpoint))
	}
	client := anthropic.NewClient(opts...)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.Name),
		MaxTokens: int64(maxTokens(s, m.maxTokens)),
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if s.Temperature != nil {
		params.Temperature = anthropic.Float(*s.Temperature)
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// OpenAIModel calls any OpenAI-compatible chat completions endpoint.
type OpenAIModel struct {
	apiKey    string
	maxTokens int
}

// NewOpenAIModel uses apiKey when a character has none.
func NewOpenAIModel(apiKey string, maxTokens int) *OpenAIModel {
	return &OpenAIModel{apiKey: apiKey, maxTokens: maxTokens}
}

func (m *OpenAIModel) Generate(ctx context.Context, s identity.ModelSettings, system, prompt string) (string, error) {
	key, err := apiKey(s, m.apiKey)
	if err != nil {
		return "", err
	}
	opts := []openai.Option{openai.WithToken(key), openai.WithModel(s.Name)}
	if s.Endpoint != "" {
		opts = append(opts, openai.WithBaseURL(s.Endpoint))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return "", fmt.Errorf("creating openai client: %w", err)
	}

	callOpts := []llms.CallOption{llms.WithMaxTokens(maxTokens(s, m.maxTokens))}
	if s.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(*s.Temperature))
	}
	resp, err := llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}, callOpts...)
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Content, nil
}
