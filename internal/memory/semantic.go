package memory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/SPCG-NEST/daemon/internal/lifecycle"
	"github.com/SPCG-NEST/daemon/internal/vectorstore"
)

// MetaTurnID tags each summary with the turn it came from.
const MetaTurnID = "turn_id"

// Summary renders the text embedded for a turn.
func Summary(message, output string) string {
	return "# User Message\n" + message + "\n\n# Agent Reply\n" + output
}

// SemanticStore recalls turns by meaning and by the entities they mention.
type SemanticStore struct {
	vectors vectorstore.Store
	graph   *GraphIndex
	limit   int
	logger  *zap.Logger
}

// NewSemanticStore combines a vector store with a graph index. limit <= 0
// selects the default.
func NewSemanticStore(vectors vectorstore.Store, graph *GraphIndex, limit int, logger *zap.Logger) (*SemanticStore, error) {
	if vectors == nil || graph == nil {
		return nil, lifecycle.ErrNotInitialized
	}
	if limit <= 0 {
		limit = DefaultConfig().SemanticLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticStore{vectors: vectors, graph: graph, limit: limit, logger: logger}, nil
}

// Insert embeds the turn summary under the turn ID, then indexes its entities.
// Once the summary is stored the turn is recallable, so a graph failure is
// logged and the insert still succeeds. Indexing is keyed by turn ID, so a
// retried turn fills the graph in.
func (s *SemanticStore) Insert(ctx context.Context, turn Turn) error {
	ctx = vectorstore.ContextWithScope(ctx, turn.Scope())
	summary := Summary(turn.Message, turn.Output)

	_, err := s.vectors.AddDocuments(ctx, []vectorstore.Document{{
		ID:       turn.DaemonPubkey + ":" + turn.ID,
		Content:  summary,
		Metadata: map[string]interface{}{MetaTurnID: turn.ID},
	}})
	if err != nil {
		return lifecycle.Unavailable("semantic insert", err)
	}

	entities := ExtractEntities(turn.Message + "\n" + turn.Output)
	if err := s.graph.Index(ctx, turn, entities); err != nil {
		s.logger.Warn("entity indexing failed, summary kept",
			zap.String("turn.id", turn.ID),
			zap.String("daemon.pubkey", turn.DaemonPubkey),
			zap.Error(err),
		)
		return nil
	}
	s.logger.Debug("semantic memory stored",
		zap.String("turn.id", turn.ID),
		zap.Int("entities", len(entities)),
	)
	return nil
}

// Query returns the nearest turn summaries followed by what is known about
// the entities named in message.
func (s *SemanticStore) Query(ctx context.Context, scope Scope, message string) ([]string, error) {
	if strings.TrimSpace(message) == "" {
		return nil, nil
	}
	ctx = vectorstore.ContextWithScope(ctx, scope)

	hits, err := s.vectors.Search(ctx, message, s.limit, nil)
	if err != nil {
		return nil, lifecycle.Unavailable("semantic query", err)
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Content)
	}

	related, err := s.graph.Related(ctx, scope, ExtractEntities(message))
	if err != nil {
		return nil, fmt.Errorf("entity lookup: %w", err)
	}
	return append(out, related...), nil
}

var _ Source = (*SemanticStore)(nil)
