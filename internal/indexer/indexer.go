package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hyperjump/budgetrag/internal/embedding"
	"github.com/hyperjump/budgetrag/internal/extract"
	"github.com/hyperjump/budgetrag/internal/fileid"
	"github.com/hyperjump/budgetrag/internal/models"
	"github.com/hyperjump/budgetrag/internal/storage"
	"github.com/hyperjump/budgetrag/internal/vector"
	"go.uber.org/zap"
)

// Registry records committed source documents.
type Registry interface {
	GetDocument(ctx context.Context, id string) (*models.SourceDocument, error)
	UpsertDocument(ctx context.Context, doc *models.SourceDocument) error
	DeleteDocument(ctx context.Context, id string) error
}

// Embedder embeds chunk texts. *embedding.Client satisfies it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([]*embedding.Vector, error)
}

// VectorStore commits chunk generations. *vector.Adapter satisfies it.
type VectorStore interface {
	CommitGeneration(ctx context.Context, sourceID, generation string, records []*vector.Record) (string, error)
	ActiveGeneration(ctx context.Context, sourceID string) (string, error)
	DeleteSource(ctx context.Context, sourceID string) error
}

// Result describes one IndexFile call.
type Result struct {
	SourceID   string `json:"source_id"`
	Path       string `json:"path"`
	Generation string `json:"generation"`
	Previous   string `json:"previous_generation,omitempty"`
	Chunks     int    `json:"chunks"`
	Fallbacks  int    `json:"fallback_chunks"`
	Dropped    int    `json:"dropped_chunks"`
	Skipped    bool   `json:"skipped"`
}

// Indexer runs parse → chunk → embed → commit for one file at a time and
// records every step in its Tracker.
type Indexer struct {
	registry    Registry
	embedder    Embedder
	vectors     VectorStore
	chunker     *Chunker
	extractor   *extract.Extractor
	tracker     *Tracker
	maxFileSize int64
	logger      *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for pipeline events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithMaxFileSize rejects files larger than n bytes. Zero disables the limit.
func WithMaxFileSize(n int64) IndexerOption {
	return func(idx *Indexer) { idx.maxFileSize = n }
}

// WithTracker shares a tracker, for example with the status endpoint.
func WithTracker(t *Tracker) IndexerOption {
	return func(idx *Indexer) {
		if t != nil {
			idx.tracker = t
		}
	}
}

// NewIndexer creates an indexer with the given dependencies.
func NewIndexer(registry Registry, embedder Embedder, vectors VectorStore, chunker *Chunker, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		registry:  registry,
		embedder:  embedder,
		vectors:   vectors,
		chunker:   chunker,
		extractor: extract.NewExtractor(),
		tracker:   NewTracker(3),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Tracker returns the state tracker.
func (idx *Indexer) Tracker() *Tracker { return idx.tracker }

// IndexFile ingests the file at path. An unchanged file is skipped. A failure
// at any step leaves the previously committed generation visible.
func (idx *Indexer) IndexFile(ctx context.Context, path string) (*Result, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	sourceID := fileid.SourceID(absPath)
	res := &Result{SourceID: sourceID, Path: absPath}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	format, ok := extract.FormatFromPath(absPath)
	if !ok {
		return nil, &extract.ParseError{Format: extract.Format(filepath.Ext(absPath)), Reason: "unsupported extension"}
	}
	if idx.maxFileSize > 0 && info.Size() > idx.maxFileSize {
		err := &FileTooLargeError{Path: absPath, Size: info.Size(), Limit: idx.maxFileSize}
		idx.tracker.Begin(absPath, sourceID, "")
		idx.tracker.Fail(absPath, err, true)
		idx.logger.Warn("file too large, skipping", zap.String("path", absPath), zap.Int64("size", info.Size()))
		return nil, err
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	generation := fileid.ContentHash(content)
	res.Generation = generation

	if idx.unchanged(ctx, sourceID, generation) {
		idx.tracker.MarkDone(absPath, sourceID, generation)
		idx.logger.Debug("skipping unchanged file", zap.String("path", absPath))
		res.Skipped = true
		return res, nil
	}
	if !idx.tracker.Begin(absPath, sourceID, generation) {
		idx.logger.Debug("skipping dead file until its content changes", zap.String("path", absPath))
		res.Skipped = true
		return res, nil
	}

	if err := idx.run(ctx, absPath, info, format, content, res); err != nil {
		if ctx.Err() != nil {
			idx.tracker.Reset(absPath)
			return nil, ctx.Err()
		}
		state := idx.tracker.Fail(absPath, err, isPermanent(err))
		idx.logger.Warn("ingestion failed",
			zap.String("path", absPath),
			zap.String("state", string(state)),
			zap.String("kind", string(models.KindOf(err))),
			zap.Error(err))
		return nil, err
	}
	idx.logger.Info("document indexed",
		zap.String("path", absPath),
		zap.String("source_id", sourceID),
		zap.Int("chunks", res.Chunks),
		zap.Int("fallbacks", res.Fallbacks))
	return res, nil
}

// unchanged reports whether the registry and the store both already hold generation.
func (idx *Indexer) unchanged(ctx context.Context, sourceID, generation string) bool {
	doc, err := idx.registry.GetDocument(ctx, sourceID)
	if err != nil || doc.Generation() != generation {
		return false
	}
	active, err := idx.vectors.ActiveGeneration(ctx, sourceID)
	return err == nil && active == generation
}

func (idx *Indexer) run(ctx context.Context, absPath string, info os.FileInfo, format extract.Format, content []byte, res *Result) error {
	advance := func(to State) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return idx.tracker.Advance(absPath, to)
	}

	if err := advance(StateParsing); err != nil {
		return err
	}
	parsed, err := idx.extractor.ExtractBytes(content, format)
	if err != nil {
		return err
	}

	if err := advance(StateChunking); err != nil {
		return err
	}
	chunks := idx.chunker.Chunk(res.SourceID, res.Generation, Preprocess(parsed.Text))
	if len(chunks) == 0 {
		return &extract.ParseError{Format: format, Reason: "no extractable text"}
	}
	processed := time.Now().UTC().Format(time.RFC3339)
	for _, ch := range chunks {
		ch.Metadata = chunkMetadata(absPath, format, parsed.Metadata, ch, len(chunks), processed)
	}

	if err := advance(StateEmbedding); err != nil {
		return err
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vecs, err := idx.embedder.EmbedBatch(ctx, texts)
	var batchErr *embedding.BatchError
	if err != nil && !errors.As(err, &batchErr) {
		return err
	}
	records := make([]*vector.Record, 0, len(chunks))
	for i, ch := range chunks {
		if vecs[i] == nil {
			res.Dropped++
			fields := []zap.Field{zap.String("chunk_id", ch.ID)}
			if batchErr != nil && batchErr.Failures[i] != nil {
				fields = append(fields, zap.String("reason", batchErr.Failures[i].Reason))
			}
			idx.logger.Warn("dropping chunk without embedding", fields...)
			continue
		}
		ch.Embedding = vecs[i].Values
		ch.Fallback = vecs[i].Fallback
		if ch.Fallback {
			res.Fallbacks++
			ch.Metadata[models.MetaFallback] = "true"
		}
		records = append(records, toRecord(ch))
	}
	if len(records) == 0 {
		if batchErr != nil {
			return batchErr
		}
		return &embedding.EmbeddingFailure{Reason: "no chunk could be embedded"}
	}

	if err := advance(StateCommitting); err != nil {
		return err
	}
	prev, err := idx.vectors.CommitGeneration(ctx, res.SourceID, res.Generation, records)
	if err != nil {
		return err
	}
	res.Previous = prev
	res.Chunks = len(records)

	err = idx.registry.UpsertDocument(ctx, &models.SourceDocument{
		ID:            res.SourceID,
		Path:          absPath,
		Name:          filepath.Base(absPath),
		Format:        string(format),
		ContentHash:   res.Generation,
		SizeBytes:     info.Size(),
		ChunkCount:    res.Chunks,
		FallbackCount: res.Fallbacks,
	})
	if err != nil {
		return fmt.Errorf("update registry: %w", err)
	}
	return idx.tracker.Advance(absPath, StateDone)
}

func chunkMetadata(absPath string, format extract.Format, docMeta map[string]string, ch *models.DocumentChunk, total int, processed string) map[string]string {
	meta := map[string]string{
		models.MetaSource:        filepath.Base(absPath),
		models.MetaSourceID:      ch.SourceID,
		models.MetaFormat:        string(format),
		models.MetaGeneration:    ch.Generation,
		models.MetaChunkIndex:    strconv.Itoa(ch.Ordinal),
		models.MetaTotalChunks:   strconv.Itoa(total),
		models.MetaStartOffset:   strconv.Itoa(ch.StartOffset),
		models.MetaEndOffset:     strconv.Itoa(ch.EndOffset),
		models.MetaProcessedDate: processed,
	}
	for _, k := range []string{models.MetaAuthor, models.MetaTitle, models.MetaCreated} {
		if v := docMeta[k]; v != "" {
			meta[k] = v
		}
	}
	return meta
}

func toRecord(ch *models.DocumentChunk) *vector.Record {
	return &vector.Record{
		ChunkID:     ch.ID,
		SourceID:    ch.SourceID,
		Generation:  ch.Generation,
		Ordinal:     ch.Ordinal,
		StartOffset: ch.StartOffset,
		EndOffset:   ch.EndOffset,
		Text:        ch.Text,
		Fallback:    ch.Fallback,
		Metadata:    ch.Metadata,
		Vector:      ch.Embedding,
	}
}

// isPermanent reports whether retrying the same content cannot help.
func isPermanent(err error) bool {
	var pe *extract.ParseError
	return errors.As(err, &pe) || errors.Is(err, ErrFileTooLarge)
}

// RemoveSource retires every generation of the file at path.
func (idx *Indexer) RemoveSource(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	sourceID := fileid.SourceID(absPath)
	if err := idx.vectors.DeleteSource(ctx, sourceID); err != nil {
		return err
	}
	if err := idx.registry.DeleteDocument(ctx, sourceID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("update registry: %w", err)
	}
	idx.tracker.Remove(absPath)
	idx.logger.Info("document removed", zap.String("path", absPath), zap.String("source_id", sourceID))
	return nil
}
