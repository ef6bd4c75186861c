package embedding

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"

	"github.com/hyperjump/budgetrag/pkg/utils"
)

// ErrEmptyText is returned when there is nothing to embed.
var ErrEmptyText = errors.New("text is empty")

// HashEmbedder is a deterministic local embedder. It feature-hashes words and
// adjacent word pairs into a fixed number of signed buckets, then normalizes.
// Texts sharing vocabulary get positive cosine similarity, which keeps
// fallback chunks retrievable when the provider is down.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a hash embedder producing vectors of the given size.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns the hashed embedding for text.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	vec := make([]float32, e.dimensions)
	terms := Terms(text)
	if len(terms) == 0 {
		// Punctuation-only input: hash the runes themselves.
		for _, r := range strings.TrimSpace(text) {
			terms = append(terms, string(r))
		}
	}
	for i, term := range terms {
		e.add(vec, term, 1)
		if i > 0 {
			e.add(vec, terms[i-1]+" "+term, 0.5)
		}
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

func (e *HashEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dimensions))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// EmbedBatch embeds each text in order.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the vector size.
func (e *HashEmbedder) Dimensions() int { return e.dimensions }

// Close is a no-op.
func (e *HashEmbedder) Close() error { return nil }
