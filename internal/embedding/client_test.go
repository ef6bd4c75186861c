package embedding

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/budgetrag/internal/models"
	"github.com/hyperjump/budgetrag/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errProviderDown = errors.New("provider unavailable")

// flakyProvider fails the first failures calls, then delegates to a hash embedder.
type flakyProvider struct {
	mu       sync.Mutex
	calls    int
	failures int
	inner    *HashEmbedder
}

func newFlakyProvider(failures int) *flakyProvider {
	return &flakyProvider{failures: failures, inner: NewHashEmbedder(32)}
}

func (p *flakyProvider) fail() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.calls <= p.failures
}

func (p *flakyProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *flakyProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.fail() {
		return nil, errProviderDown
	}
	v, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	// Distinguish real vectors from fallback ones.
	v[0] += 1
	return v, nil
}

func (p *flakyProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.fail() {
		return nil, errProviderDown
	}
	return p.inner.EmbedBatch(ctx, texts)
}

func (p *flakyProvider) Dimensions() int { return 32 }
func (p *flakyProvider) Close() error    { return nil }

func fastRetry(attempts int) Option {
	return WithRetry(retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond})
}

func TestClient_FallsBackAfterRetriesExhausted(t *testing.T) {
	provider := newFlakyProvider(100)
	client := NewClient(provider, fastRetry(3))

	vec, err := client.Embed(context.Background(), "Q3 marketing spend")
	require.NoError(t, err)
	assert.Equal(t, 3, provider.Calls())
	assert.True(t, vec.Fallback)
	assert.Len(t, vec.Values, 32)
	assert.Equal(t, int64(1), client.FallbackCount())

	want, _ := NewHashEmbedder(32).Embed(context.Background(), "Q3 marketing spend")
	assert.Equal(t, want, vec.Values)
}

func TestClient_RecoversWithinRetryBudget(t *testing.T) {
	provider := newFlakyProvider(2)
	client := NewClient(provider, fastRetry(3))

	vec, err := client.Embed(context.Background(), "operations budget")
	require.NoError(t, err)
	assert.False(t, vec.Fallback)
	assert.Equal(t, 3, provider.Calls())
	assert.Equal(t, int64(0), client.FallbackCount())
}

func TestClient_FallbackIsNotCached(t *testing.T) {
	provider := newFlakyProvider(3)
	client := NewClient(provider, fastRetry(3))

	first, err := client.Embed(context.Background(), "travel")
	require.NoError(t, err)
	assert.True(t, first.Fallback)

	second, err := client.Embed(context.Background(), "travel")
	require.NoError(t, err)
	assert.False(t, second.Fallback, "provider recovered, fallback must not be served from cache")

	calls := provider.Calls()
	third, err := client.Embed(context.Background(), "travel")
	require.NoError(t, err)
	assert.False(t, third.Fallback)
	assert.Equal(t, calls, provider.Calls(), "real vector should come from cache")
}

func TestClient_EmptyTextIsFailure(t *testing.T) {
	client := NewClient(newFlakyProvider(0), fastRetry(1))

	_, err := client.Embed(context.Background(), "   ")
	var failure *EmbeddingFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, models.KindEmbedding, models.KindOf(err))
}

func TestClient_CancelledContext(t *testing.T) {
	client := NewClient(newFlakyProvider(100), WithRetry(retry.Policy{MaxAttempts: 5, BaseDelay: time.Second}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	vec, err := client.Embed(ctx, "anything")
	assert.Nil(t, vec)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_EmbedBatch(t *testing.T) {
	provider := newFlakyProvider(0)
	client := NewClient(provider, fastRetry(2), WithBatchSize(2))

	vecs, err := client.EmbedBatch(context.Background(), []string{"a b", "", "c d", "e f"})
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Len(t, batchErr.Failures, 1)
	assert.Contains(t, batchErr.Failures, 1)

	require.Len(t, vecs, 4)
	assert.Nil(t, vecs[1])
	for _, i := range []int{0, 2, 3} {
		require.NotNil(t, vecs[i])
		assert.False(t, vecs[i].Fallback)
	}
	assert.Equal(t, 2, provider.Calls(), "three texts in batches of two")
}

func TestClient_EmbedBatchFallback(t *testing.T) {
	provider := newFlakyProvider(100)
	client := NewClient(provider, fastRetry(3), WithBatchSize(10))

	vecs, err := client.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	for _, v := range vecs {
		assert.True(t, v.Fallback)
	}
	assert.Equal(t, 3, provider.Calls())
	assert.Equal(t, int64(2), client.FallbackCount())
}

func TestClient_DimensionMismatchFallsBackWithoutRetry(t *testing.T) {
	provider := &fixedProvider{vec: []float32{1, 2}, dims: 4}
	client := NewClient(provider, fastRetry(3))

	vec, err := client.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.True(t, vec.Fallback)
	assert.Len(t, vec.Values, 4)
	assert.Equal(t, 1, provider.calls)
}

func TestClient_NonFiniteVectorFallsBack(t *testing.T) {
	nan := float32(math.NaN())
	provider := &fixedProvider{vec: []float32{1, nan}, dims: 2}
	client := NewClient(provider, fastRetry(3))

	vec, err := client.Embed(context.Background(), "capex")
	require.NoError(t, err)
	assert.True(t, vec.Fallback)
	assert.Equal(t, 1, provider.calls)
}

func TestClient_CacheStats(t *testing.T) {
	client := NewClient(newFlakyProvider(0), fastRetry(1))

	_, err := client.Embed(context.Background(), "payroll")
	require.NoError(t, err)
	_, err = client.Embed(context.Background(), "payroll")
	require.NoError(t, err)

	st := client.CacheStats()
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
}

type fixedProvider struct {
	vec   []float32
	dims  int
	calls int
}

func (p *fixedProvider) Embed(context.Context, string) ([]float32, error) {
	p.calls++
	return p.vec, nil
}

func (p *fixedProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.calls++
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = p.vec
	}
	return out, nil
}

func (p *fixedProvider) Dimensions() int { return p.dims }
func (p *fixedProvider) Close() error    { return nil }
