package vectorstore

import "context"

// Embedder turns text into vectors.
type Embedder interface {
	// EmbedDocuments embeds a batch of texts, one vector per text.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is a scoped vector store.
//
// All methods require a Scope in ctx and fail with ErrMissingScope otherwise.
type Store interface {
	// AddDocuments embeds and upserts docs, tagging each with the scope.
	AddDocuments(ctx context.Context, docs []Document) ([]string, error)

	// Search returns up to k documents nearest to query within the scope.
	// filters adds further equality constraints on metadata.
	Search(ctx context.Context, query string, k int, filters map[string]interface{}) ([]SearchResult, error)

	// DeleteDocuments removes documents by ID. Missing IDs are ignored.
	DeleteDocuments(ctx context.Context, ids []string) error

	// Close releases backend resources.
	Close() error
}
