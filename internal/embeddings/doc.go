// Package embeddings turns text into vectors for semantic memory.
//
// Providers:
//
//   - hash: deterministic feature hashing, no model download (default, tests)
//   - fastembed: local ONNX models, requires cgo
//   - tei: a HuggingFace text-embeddings-inference server
//   - openai: any OpenAI-compatible embeddings endpoint, via langchaingo
//
// NewProvider selects one from Config and wraps it with metrics.
package embeddings
