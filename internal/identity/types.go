package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

// Identity errors.
var (
	// ErrInvalidCharacter is returned for characters missing a pubkey.
	ErrInvalidCharacter = errors.New("invalid character")

	// ErrInvalidOrder is returned for an unknown FetchLogs ordering.
	ErrInvalidOrder = errors.New("invalid order: must be asc or desc")
)

// Order is the createdAt direction for FetchLogs.
type Order string

const (
	OrderDesc Order = "desc"
	OrderAsc  Order = "asc"
)

// DefaultLogLimit is the FetchLogs page size when none is given.
const DefaultLogLimit = 100

// MaxLogLimit caps a single FetchLogs page.
const MaxLogLimit = 1000

// ModelSettings selects a model for one purpose.
type ModelSettings struct {
	Provider string `json:"provider" yaml:"provider" toml:"provider"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint" toml:"endpoint"`
	Name     string `json:"name" yaml:"name" toml:"name"`
	APIKey   string `json:"apiKey,omitempty" yaml:"apiKey" toml:"apiKey"`

	// Zero values let the model adapter choose.
	MaxTokens   int      `json:"maxTokens,omitempty" yaml:"maxTokens" toml:"maxTokens"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature" toml:"temperature"`
}

// CharacterModels groups the generation and embedding settings.
type CharacterModels struct {
	Generation ModelSettings `json:"generation" yaml:"generation" toml:"generation"`
	Embedding  ModelSettings `json:"embedding" yaml:"embedding" toml:"embedding"`
}

// Character is a persona definition. Immutable once registered.
type Character struct {
	Pubkey        string          `json:"pubkey" yaml:"pubkey" toml:"pubkey"`
	Name          string          `json:"name" yaml:"name" toml:"name"`
	ModelSettings CharacterModels `json:"modelSettings" yaml:"modelSettings" toml:"modelSettings"`
	Bio           []string        `json:"bio,omitempty" yaml:"bio" toml:"bio"`
	Lore          []string        `json:"lore,omitempty" yaml:"lore" toml:"lore"`
	SystemPrompt  string          `json:"systemPrompt,omitempty" yaml:"systemPrompt" toml:"systemPrompt"`

	// Extra preserves document fields this package does not interpret.
	Extra map[string]any `json:"extra,omitempty" yaml:"extra" toml:"extra"`
}

// Validate checks the primary key.
func (c Character) Validate() error {
	if c.Pubkey == "" {
		return fmt.Errorf("%w: pubkey is required", ErrInvalidCharacter)
	}
	return nil
}

// clone returns a deep copy through the stored document encoding.
func (c Character) clone() (Character, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return Character{}, err
	}
	var out Character
	if err := json.Unmarshal(b, &out); err != nil {
		return Character{}, err
	}
	return out, nil
}

// LogEntry is one persisted turn.
type LogEntry struct {
	ID           string           `json:"id"`
	Seq          int64            `json:"seq"`
	DaemonPubkey string           `json:"daemon_pubkey"`
	ChannelID    string           `json:"channel_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	Lifecycle    lifecycle.Record `json:"lifecycle"`
}

// LogQuery selects log entries for a daemon.
type LogQuery struct {
	DaemonPubkey string `json:"daemon_pubkey"`
	ChannelID    string `json:"channel_id,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	OrderBy      Order  `json:"order_by,omitempty"`
}

func (q *LogQuery) normalize() error {
	if q.DaemonPubkey == "" {
		return fmt.Errorf("%w: daemon pubkey is required", lifecycle.ErrInvalidRecord)
	}
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultLogLimit
	case q.Limit > MaxLogLimit:
		q.Limit = MaxLogLimit
	}
	switch q.OrderBy {
	case "":
		q.OrderBy = OrderDesc
	case OrderAsc, OrderDesc:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOrder, q.OrderBy)
	}
	return nil
}
