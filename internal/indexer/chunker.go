// Package indexer provides boundary-aware chunking and the ingestion pipeline
// that drives parse, chunk, embed and commit for each watched document.
package indexer

import (
	"strings"
	"unicode"

	"github.com/hyperjump/budgetrag/internal/fileid"
	"github.com/hyperjump/budgetrag/internal/models"
)

// Chunker splits text into overlapping character windows that never cut a word.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// Span is a half-open rune range [Start, End) of the source text.
type Span struct {
	Start int
	End   int
	Text  string
}

// NewChunker creates a chunker with the given size and overlap (in characters).
// Overlap is clamped below size.
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize < 1 {
		chunkSize = 1
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 2
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Chunk splits text into DocumentChunks of one source generation.
func (c *Chunker) Chunk(sourceID, generation, text string) []*models.DocumentChunk {
	spans := c.Split(text)
	if len(spans) == 0 {
		return nil
	}
	chunks := make([]*models.DocumentChunk, len(spans))
	for i, s := range spans {
		chunks[i] = &models.DocumentChunk{
			ID:          fileid.ChunkID(sourceID, generation, i),
			SourceID:    sourceID,
			Generation:  generation,
			Ordinal:     i,
			Text:        s.Text,
			StartOffset: s.Start,
			EndOffset:   s.End,
		}
	}
	return chunks
}

// Split returns the chunk spans of text. Past the target size it searches
// backward for a paragraph break, then a sentence break, then any whitespace.
// Paragraph and sentence breaks are only taken from the second half of the
// window. A run with no whitespace in the window is extended forward to the
// end of the word. Starts and ends are strictly increasing.
func (c *Chunker) Split(text string) []Span {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	r := []rune(text)
	n := len(r)

	var spans []Span
	start, prevEnd := 0, 0
	for {
		cut := n
		if limit := start + c.chunkSize; limit < n {
			lo := max(start+1, prevEnd+1)
			cut = findBreak(r, lo, limit, start+c.chunkSize/2)
			if cut < 0 {
				cut = nextBoundary(r, max(limit, lo))
			}
		}
		if s := string(r[start:cut]); strings.TrimSpace(s) != "" {
			spans = append(spans, Span{Start: start, End: cut, Text: s})
		}
		if cut >= n {
			return spans
		}
		start = nextStart(r, cut, c.chunkOverlap, start)
		prevEnd = cut
	}
}

// findBreak returns the largest cut position in [lo, hi] at a paragraph break,
// else a sentence break, else after whitespace; -1 if there is none.
// Paragraph and sentence breaks must also be at or after soft.
func findBreak(r []rune, lo, hi, soft int) int {
	strong := max(lo, soft)
	for p := hi; p >= strong; p-- {
		if p >= 2 && r[p-1] == '\n' && r[p-2] == '\n' {
			return p
		}
	}
	for p := hi; p >= strong; p-- {
		if p >= 2 && unicode.IsSpace(r[p-1]) && isSentenceEnd(r[p-2]) {
			return p
		}
	}
	for p := hi; p >= lo; p-- {
		if p >= 1 && unicode.IsSpace(r[p-1]) {
			return p
		}
	}
	return -1
}

func isSentenceEnd(ch rune) bool {
	switch ch {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// isBoundary reports whether position p is not inside a word, that is, it
// does not sit between two non-space runes.
func isBoundary(r []rune, p int) bool {
	if p <= 0 || p >= len(r) {
		return true
	}
	return unicode.IsSpace(r[p-1]) || unicode.IsSpace(r[p])
}

// nextBoundary returns the first boundary at or after p.
func nextBoundary(r []rune, p int) int {
	for p < len(r) && !isBoundary(r, p) {
		p++
	}
	return p
}

// nextStart backs off overlap runes from cut, snapped back to the start of
// the word it lands in. If that would not move past prevStart, it snaps
// forward instead, at worst to cut itself.
func nextStart(r []rune, cut, overlap, prevStart int) int {
	s := max(cut-overlap, prevStart+1)
	for s > prevStart+1 && !isBoundary(r, s) {
		s--
	}
	if !isBoundary(r, s) {
		s = min(nextBoundary(r, s), cut)
	}
	return s
}
