package vectorstore

import "errors"

var (
	// ErrEmptyDocuments is returned when AddDocuments receives no documents.
	ErrEmptyDocuments = errors.New("no documents provided")

	// ErrEmbeddingFailed wraps embedder failures.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrInvalidConfig is returned for unusable store configuration.
	ErrInvalidConfig = errors.New("invalid vectorstore config")

	// ErrConnectionFailed is returned when a remote backend cannot be reached.
	ErrConnectionFailed = errors.New("vectorstore connection failed")

	// ErrMissingID is returned when a document has no ID. IDs make writes idempotent.
	ErrMissingID = errors.New("document id required")
)

// Document is a piece of text to embed and store.
type Document struct {
	// ID identifies the document. Writing the same ID twice replaces it.
	ID string

	// Content is embedded and returned verbatim by searches.
	Content string

	// Metadata holds scalar values usable as equality filters.
	Metadata map[string]interface{}
}

// SearchResult is a single nearest-neighbour hit.
type SearchResult struct {
	ID       string
	Content  string
	Score    float32 // higher is more similar
	Metadata map[string]interface{}
}
