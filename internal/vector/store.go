// Package vector stores chunk embeddings grouped by source document and
// generation, and answers similarity queries over the active generation of
// each source.
package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrDimensionMismatch is returned when a vector does not match the store's dimensions.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Record is one stored chunk embedding.
type Record struct {
	ChunkID     string            `json:"chunk_id"`
	SourceID    string            `json:"source_id"`
	Generation  string            `json:"generation"`
	Ordinal     int               `json:"ordinal"`
	StartOffset int               `json:"start_offset"`
	EndOffset   int               `json:"end_offset"`
	Text        string            `json:"text"`
	Fallback    bool              `json:"fallback"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Vector      []float32         `json:"-"`
}

// Hit is a query match.
type Hit struct {
	Record *Record
	Score  float64
}

// QueryOptions bounds a query. TopK <= 0 returns every match. Filters match
// record metadata by exact value.
type QueryOptions struct {
	TopK     int
	MinScore float64
	Filters  map[string]string
}

// Store persists records. Records of a source are only visible to Query once
// their generation is activated, and activation swaps generations atomically.
type Store interface {
	// Upsert writes records, replacing any with the same chunk ID.
	Upsert(ctx context.Context, records []*Record) error
	// Query returns active records scoring at least opts.MinScore, best first.
	Query(ctx context.Context, vector []float32, opts QueryOptions) ([]*Hit, error)
	// Activate makes generation the visible one for sourceID and returns the
	// previously active generation, or "" if there was none.
	Activate(ctx context.Context, sourceID, generation string) (string, error)
	// ActiveGeneration returns the visible generation for sourceID, or "".
	ActiveGeneration(ctx context.Context, sourceID string) (string, error)
	// CountGeneration returns how many records are stored for the generation.
	CountGeneration(ctx context.Context, sourceID, generation string) (int, error)
	// DeleteGeneration removes a generation's records and returns how many were removed.
	DeleteGeneration(ctx context.Context, sourceID, generation string) (int, error)
	// PruneGeneration removes the generation's records whose chunk ID is not
	// in keep and returns how many were removed.
	PruneGeneration(ctx context.Context, sourceID, generation string, keep []string) (int, error)
	// DeleteSource removes every record of sourceID and its active pointer.
	DeleteSource(ctx context.Context, sourceID string) error
	// Size returns the total number of stored records.
	Size() int
	Dimensions() int
	Close() error
}

func matchesFilters(r *Record, filters map[string]string) bool {
	for k, v := range filters {
		if r.Metadata[k] != v {
			return false
		}
	}
	return true
}

// rankHits sorts by score descending, then source and ordinal for a stable
// order, and applies TopK.
func rankHits(hits []*Hit, topK int) []*Hit {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Record.SourceID != b.Record.SourceID {
			return a.Record.SourceID < b.Record.SourceID
		}
		return a.Record.Ordinal < b.Record.Ordinal
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func checkDimensions(dims int, vec []float32) error {
	if len(vec) != dims {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vec), dims)
	}
	return nil
}

func validateRecords(dims int, records []*Record) error {
	for _, r := range records {
		if r.ChunkID == "" || r.SourceID == "" || r.Generation == "" {
			return fmt.Errorf("record %q is missing chunk, source or generation id", r.ChunkID)
		}
		if err := checkDimensions(dims, r.Vector); err != nil {
			return fmt.Errorf("record %s: %w", r.ChunkID, err)
		}
	}
	return nil
}

func cloneRecord(r *Record) *Record {
	c := *r
	c.Vector = append([]float32(nil), r.Vector...)
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
