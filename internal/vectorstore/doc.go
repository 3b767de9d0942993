// Package vectorstore persists and queries embedded text for semantic memory.
//
// Two backends are provided:
//
//   - ChromemStore: embedded, file-backed or in-process (github.com/philippgille/chromem-go)
//   - QdrantStore: remote, over gRPC (github.com/qdrant/go-client)
//
// Every read and write is scoped to a daemon. The scope travels in the
// context (see ContextWithScope) and stores refuse to operate without it,
// so one daemon can never read another daemon's documents.
package vectorstore
