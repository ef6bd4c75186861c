package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/budgetrag/internal/config"
	"github.com/hyperjump/budgetrag/internal/embedding"
	"github.com/hyperjump/budgetrag/internal/models"
	"github.com/hyperjump/budgetrag/internal/vector"
)

func benchHits(n int) []*vector.Hit {
	hits := make([]*vector.Hit, n)
	for i := range hits {
		hits[i] = &vector.Hit{
			Record: &vector.Record{
				ChunkID:     fmt.Sprintf("c%d", i),
				SourceID:    fmt.Sprintf("src-%d", i%10),
				Generation:  "g1",
				Ordinal:     i / 10,
				StartOffset: (i / 10) * 180,
				EndOffset:   (i/10)*180 + 200,
				Text:        "Quarterly marketing spend rose on digital campaigns and events.",
			},
			Score: 1 - float64(i)/float64(n),
		}
	}
	return hits
}

func BenchmarkAssemble(b *testing.B) {
	hits := benchHits(100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Assemble(hits, 0.2, 4000)
	}
}

func BenchmarkRetrieve(b *testing.B) {
	ctx := context.Background()
	store, _ := vector.NewMemoryStore(384)
	adapter := vector.NewAdapter(store)
	embedder := embedding.NewHashEmbedder(384)
	records := make([]*vector.Record, 1000)
	for i := range records {
		text := fmt.Sprintf("line item %d for cost center %d in fiscal year 2025", i, i%37)
		vec, _ := embedder.Embed(ctx, text)
		records[i] = &vector.Record{
			ChunkID:    fmt.Sprintf("c%d", i),
			SourceID:   "src-bench",
			Generation: "g1",
			Ordinal:    i,
			Text:       text,
			Vector:     vec,
		}
	}
	if _, err := adapter.CommitGeneration(ctx, "src-bench", "g1", records); err != nil {
		b.Fatal(err)
	}
	engine := NewEngine(embedding.NewClient(embedder), adapter, config.RetrievalConfig{TopK: 10, ScoreThreshold: threshold(0)}, nil)
	q := &models.RetrievalQuery{Query: "cost center 12 fiscal year"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		qc := *q
		_, _ = engine.Retrieve(ctx, &qc)
	}
}
