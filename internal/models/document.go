// Package models defines core data structures for ingested documents, retrieval
// queries and budget modifications.
package models

import "time"

// SourceDocument is one watched file at one content generation.
type SourceDocument struct {
	ID            string    `json:"id" db:"id"`
	Path          string    `json:"path" db:"path"`
	Name          string    `json:"name" db:"name"`
	Format        string    `json:"format" db:"format"`
	ContentHash   string    `json:"content_hash" db:"content_hash"`
	SizeBytes     int64     `json:"size_bytes" db:"size_bytes"`
	ChunkCount    int       `json:"chunk_count" db:"chunk_count"`
	FallbackCount int       `json:"fallback_count" db:"fallback_count"`
	IngestedAt    time.Time `json:"ingested_at" db:"ingested_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Generation is the content hash; a new hash means a new generation.
func (d *SourceDocument) Generation() string {
	return d.ContentHash
}

// DocumentChunk is a span of one document generation's extracted text.
// Offsets are rune offsets into that text.
type DocumentChunk struct {
	ID          string            `json:"id"`
	SourceID    string            `json:"source_id"`
	Generation  string            `json:"generation"`
	Ordinal     int               `json:"ordinal"`
	Text        string            `json:"text"`
	StartOffset int               `json:"start_offset"`
	EndOffset   int               `json:"end_offset"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Embedding   []float32         `json:"-"`
	Fallback    bool              `json:"fallback"`
}

// Chunk metadata keys shared by the indexer, vector store and retrieval engine.
const (
	MetaSource        = "source"
	MetaSourceID      = "document_id"
	MetaFormat        = "processor"
	MetaGeneration    = "generation"
	MetaChunkIndex    = "chunk_index"
	MetaTotalChunks   = "total_chunks"
	MetaStartOffset   = "start_offset"
	MetaEndOffset     = "end_offset"
	MetaProcessedDate = "processed_date"
	MetaFallback      = "fallback"
	MetaAuthor        = "author"
	MetaTitle         = "title"
	MetaCreated       = "created"
)
