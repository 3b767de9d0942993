// Package memory gives each daemon long-term recall.
//
// Two stores are combined by Hybrid:
//
//   - Semantic: one embedded summary per turn plus an entity graph
//   - Recency: the raw conversation, newest first
//
// Writes to the two stores are independent. Each is idempotent by turn ID,
// so a retried turn never duplicates memory, and one store failing never
// undoes the other.
package memory

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/SPCG-NEST/daemon/internal/approval"
	"github.com/SPCG-NEST/daemon/internal/vectorstore"
)

// Scope limits reads and writes to one daemon and, optionally, one channel.
type Scope = vectorstore.Scope

// Turn is one exchange to remember.
type Turn struct {
	ID           string
	DaemonPubkey string
	ChannelID    string
	Message      string
	Output       string
	CreatedAt    time.Time
}

// Scope returns the turn's scope.
func (t Turn) Scope() Scope {
	return Scope{DaemonPubkey: t.DaemonPubkey, ChannelID: t.ChannelID}
}

// Source is a store that can recall and remember turns.
type Source interface {
	// Query returns recall lines for message, ranked by the source.
	Query(ctx context.Context, scope Scope, message string) ([]string, error)

	// Insert remembers turn. Inserting the same turn twice has no further effect.
	Insert(ctx context.Context, turn Turn) error
}

// Config tunes retrieval.
type Config struct {
	// RecencyLimit is the number of recent messages returned. Default 10.
	RecencyLimit int `koanf:"recency_limit"`

	// SemanticLimit is the number of similar turns returned. Default 5.
	SemanticLimit int `koanf:"semantic_limit"`
}

// DefaultConfig returns the default retrieval limits.
func DefaultConfig() Config {
	return Config{RecencyLimit: 10, SemanticLimit: 5}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.RecencyLimit <= 0 {
		c.RecencyLimit = d.RecencyLimit
	}
	if c.SemanticLimit <= 0 {
		c.SemanticLimit = d.SemanticLimit
	}
}

// Open builds the default Hybrid: semantic memory over vectors and a graph
// index in db, and recency memory in db.
func Open(ctx context.Context, cfg Config, db *sql.DB, vectors vectorstore.Store, gate approval.Gate, logger *zap.Logger, opts ...Option) (*Hybrid, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	graph, err := NewGraphIndex(ctx, db)
	if err != nil {
		return nil, err
	}
	semantic, err := NewSemanticStore(vectors, graph, cfg.SemanticLimit, logger.Named("semantic"))
	if err != nil {
		return nil, err
	}
	recency, err := NewRecencyStore(ctx, db, cfg.RecencyLimit)
	if err != nil {
		return nil, err
	}
	return NewHybrid(semantic, recency, gate, logger, opts...), nil
}
