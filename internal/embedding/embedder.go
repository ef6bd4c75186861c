// Package embedding turns text into fixed-dimension vectors. Providers call an
// embedding model; Client adds caching, rate limiting, retry with backoff and
// a deterministic local fallback.
package embedding

import "context"

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Vector is an embedding plus whether it came from the local fallback.
type Vector struct {
	Values   []float32 `json:"values"`
	Fallback bool      `json:"fallback"`
}
