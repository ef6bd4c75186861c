package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/budgetrag/internal/config"
	"github.com/hyperjump/budgetrag/internal/embedding"
	"github.com/hyperjump/budgetrag/internal/indexer"
	"github.com/hyperjump/budgetrag/internal/models"
	"github.com/hyperjump/budgetrag/internal/retry"
	"github.com/hyperjump/budgetrag/internal/storage"
	"github.com/hyperjump/budgetrag/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dims = 64

// failingProvider fails a fixed number of calls, then embeds with the hash embedder.
type failingProvider struct {
	failures int
	calls    int
	inner    *embedding.HashEmbedder
}

func (p *failingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, errors.New("provider unavailable")
	}
	return p.inner.Embed(ctx, text)
}

func (p *failingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, errors.New("provider unavailable")
	}
	return p.inner.EmbedBatch(ctx, texts)
}

func (p *failingProvider) Dimensions() int { return dims }
func (p *failingProvider) Close() error    { return nil }

type fixture struct {
	engine *Engine
	idx    *indexer.Indexer
	dir    string
}

func newFixture(t *testing.T, provider embedding.Embedder) *fixture {
	t.Helper()
	dir := t.TempDir()
	registry, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })

	store, err := vector.NewMemoryStore(dims)
	require.NoError(t, err)
	adapter := vector.NewAdapter(store)
	client := embedding.NewClient(provider,
		embedding.WithRetry(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}))

	return &fixture{
		engine: NewEngine(client, adapter, config.RetrievalConfig{TopK: 3}, nil),
		idx:    indexer.NewIndexer(registry, client, adapter, indexer.NewChunker(200, 30)),
		dir:    dir,
	}
}

func (f *fixture) ingest(t *testing.T, name, content string) *indexer.Result {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	res, err := f.idx.IndexFile(context.Background(), path)
	require.NoError(t, err)
	return res
}

const marketingDoc = `Marketing plan for fiscal year 2025.

Social media advertising receives twelve thousand dollars per month.

Event sponsorships are paused until the third quarter.`

func TestEngine_RetrieveRanksExactMatchFirst(t *testing.T) {
	f := newFixture(t, embedding.NewHashEmbedder(dims))
	f.ingest(t, "marketing.txt", marketingDoc)
	f.ingest(t, "ops.txt", "Office rent and utilities are billed quarterly to operations.")

	resp, err := f.engine.Retrieve(context.Background(), &models.RetrievalQuery{
		Query: marketingDoc,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Contexts)
	assert.Equal(t, "marketing.txt", resp.Contexts[0].Source)
	assert.False(t, resp.QueryFallback)
	for i := 1; i < len(resp.Scores); i++ {
		assert.GreaterOrEqual(t, resp.Scores[i-1].Score, resp.Scores[i].Score)
	}
}

func TestEngine_NoMatchReturnsEmpty(t *testing.T) {
	f := newFixture(t, embedding.NewHashEmbedder(dims))
	f.ingest(t, "marketing.txt", marketingDoc)

	th := 0.99
	resp, err := f.engine.Retrieve(context.Background(), &models.RetrievalQuery{
		Query:          "quantum chromodynamics lattice",
		ScoreThreshold: &th,
	})
	require.NoError(t, err)
	assert.NotNil(t, resp.Contexts)
	assert.Empty(t, resp.Contexts)
}

func TestEngine_FiltersBySource(t *testing.T) {
	f := newFixture(t, embedding.NewHashEmbedder(dims))
	mk := f.ingest(t, "marketing.txt", marketingDoc)
	f.ingest(t, "copy.txt", marketingDoc+"\n\nCopied for review.")

	th := 0.0
	resp, err := f.engine.Retrieve(context.Background(), &models.RetrievalQuery{
		Query:          "social media advertising",
		ScoreThreshold: &th,
		Filters:        map[string]string{models.MetaSourceID: mk.SourceID},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Contexts)
	for _, c := range resp.Contexts {
		assert.Equal(t, mk.SourceID, c.SourceID)
	}
}

func TestEngine_RejectsBlankQuery(t *testing.T) {
	provider := &failingProvider{inner: embedding.NewHashEmbedder(dims)}
	f := newFixture(t, provider)

	for _, text := range []string{"", "   ", "\n\t "} {
		_, err := f.engine.Retrieve(context.Background(), &models.RetrievalQuery{Query: text})
		var qe *models.InvalidQueryError
		require.ErrorAs(t, err, &qe, "%q", text)
		assert.Equal(t, models.KindInvalidQuery, models.KindOf(err))
	}
	assert.Equal(t, 0, provider.calls, "blank queries must not reach the embedder")
}

func TestProcessQuery_TrimsText(t *testing.T) {
	q := &models.RetrievalQuery{Query: "  travel budget \n"}
	require.NoError(t, ProcessQuery(q, config.RetrievalConfig{TopK: 3, ContextBudget: 500}))
	assert.Equal(t, "travel budget", q.Query)
	assert.Equal(t, 500, q.Budget)
	assert.Equal(t, 0.7, *q.ScoreThreshold)
}

func TestProcessQuery_ConfiguredZeroThreshold(t *testing.T) {
	q := &models.RetrievalQuery{Query: "travel"}
	require.NoError(t, ProcessQuery(q, config.RetrievalConfig{TopK: 3, ScoreThreshold: threshold(0)}))
	assert.Equal(t, 0.0, *q.ScoreThreshold)
}

func threshold(v float64) *float64 { return &v }

func TestEngine_FallbackChunksStayRetrievable(t *testing.T) {
	provider := &failingProvider{failures: 3, inner: embedding.NewHashEmbedder(dims)}
	f := newFixture(t, provider)
	text := "Travel budget for the sales team is frozen pending review."
	res := f.ingest(t, "travel.txt", text)
	require.Equal(t, 3, provider.calls)
	require.Equal(t, res.Chunks, res.Fallbacks)

	resp, err := f.engine.Retrieve(context.Background(), &models.RetrievalQuery{Query: text})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Contexts)
	top := resp.Contexts[0]
	assert.True(t, top.Fallback)
	assert.Equal(t, "true", top.Metadata[models.MetaFallback])
	assert.True(t, strings.Contains(top.Text, "frozen pending review"))
	assert.InDelta(t, 1.0, top.Score, 1e-5)
}
