// Package embeddings turns knowledge unit content into fixed-length vectors.
//
// Three providers implement the Provider contract:
//   - TEIProvider: HTTP text-embeddings-inference server, rate limited
//   - FastEmbedProvider: local ONNX models via fastembed-go (cgo builds only)
//   - HashProvider: deterministic feature hashing, pure Go, no model files
//
// Cached wraps any provider with a content-addressed TTL cache and owns the
// retry policy. Callers outside this package should only ever see Cached, so
// retries and knowledge.ErrEmbeddingUnavailable are applied uniformly.
package embeddings
