// Package search answers free-form queries against the indexed corpus by
// embedding the query and assembling vector-store hits into a context bundle.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/budgetrag/internal/config"
	"github.com/hyperjump/budgetrag/internal/embedding"
	"github.com/hyperjump/budgetrag/internal/models"
	"github.com/hyperjump/budgetrag/internal/vector"
	"go.uber.org/zap"
)

// QueryEmbedder embeds query text. *embedding.Client satisfies it.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) (*embedding.Vector, error)
}

// VectorQuerier runs similarity queries. *vector.Adapter satisfies it.
type VectorQuerier interface {
	Query(ctx context.Context, vec []float32, opts vector.QueryOptions) ([]*vector.Hit, error)
}

// Engine runs retrieval queries.
type Engine struct {
	embedder QueryEmbedder
	vectors  VectorQuerier
	defaults config.RetrievalConfig
	logger   *zap.Logger
}

// NewEngine creates a retrieval engine with the given dependencies and query defaults.
func NewEngine(embedder QueryEmbedder, vectors VectorQuerier, defaults config.RetrievalConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		embedder: embedder,
		vectors:  vectors,
		defaults: defaults,
		logger:   logger,
	}
}

// Retrieve embeds the query, searches the active generations and assembles
// the ordered context. An empty Contexts slice means nothing cleared the threshold.
func (e *Engine) Retrieve(ctx context.Context, query *models.RetrievalQuery) (*models.RetrievalResponse, error) {
	startTime := time.Now()
	if err := ProcessQuery(query, e.defaults); err != nil {
		return nil, err
	}

	vec, err := e.embedder.Embed(ctx, query.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if vec.Fallback {
		e.logger.Warn("query embedded with fallback vector", zap.String("query", query.Query))
	}

	threshold := *query.ScoreThreshold
	hits, err := e.vectors.Query(ctx, vec.Values, vector.QueryOptions{
		TopK:     query.TopK,
		MinScore: threshold,
		Filters:  query.Filters,
	})
	if err != nil {
		return nil, err
	}

	scores := make([]models.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		scores = append(scores, models.ScoredChunk{ChunkID: h.Record.ChunkID, Score: h.Score})
	}
	contexts := Assemble(hits, threshold, query.Budget)
	if contexts == nil {
		contexts = []*models.ContextChunk{}
	}

	e.logger.Debug("retrieval finished",
		zap.Int("hits", len(hits)),
		zap.Int("contexts", len(contexts)),
		zap.Duration("elapsed", time.Since(startTime)))
	return &models.RetrievalResponse{
		Query:         query.Query,
		Contexts:      contexts,
		Scores:        scores,
		QueryFallback: vec.Fallback,
		QueryTime:     time.Since(startTime).Milliseconds(),
	}, nil
}
