package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), "Marketing budget for Q3")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "Marketing budget for Q3")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestHashEmbedder_Normalized(t *testing.T) {
	v, err := NewHashEmbedder(128).Embed(context.Background(), "salaries and benefits")
	require.NoError(t, err)
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestHashEmbedder_SharedVocabularyIsCloser(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "marketing advertising spend")
	near, _ := e.Embed(ctx, "the marketing advertising spend for the quarter")
	far, _ := e.Embed(ctx, "server hardware depreciation schedule")

	assert.Greater(t, cosine(q, near), cosine(q, far))
	assert.Greater(t, cosine(q, near), 0.4)
}

func TestHashEmbedder_PunctuationOnly(t *testing.T) {
	v, err := NewHashEmbedder(16).Embed(context.Background(), "$$$ ---")
	require.NoError(t, err)
	assert.Len(t, v, 16)
}

func TestHashEmbedder_Empty(t *testing.T) {
	_, err := NewHashEmbedder(16).Embed(context.Background(), " \n")
	assert.ErrorIs(t, err, ErrEmptyText)
}
