package search

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/budgetrag/internal/models"
	"github.com/hyperjump/budgetrag/internal/vector"
)

// Assemble turns raw store hits into an ordered context list: hits below
// threshold are dropped, consecutive overlapping chunks of one generation
// are merged, entries are sorted by score (ties: ordinal, then source) and
// the lowest-scoring entries are dropped until the text fits in budget
// characters. If the best entry alone is too long it is cut to the budget and
// flagged Truncated. A budget of zero means no limit.
func Assemble(hits []*vector.Hit, threshold float64, budget int) []*models.ContextChunk {
	groups := make(map[string][]*vector.Hit)
	var order []string
	for _, h := range hits {
		if h == nil || h.Record == nil || h.Score < threshold {
			continue
		}
		key := h.Record.SourceID + "\x00" + h.Record.Generation
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], h)
	}

	var out []*models.ContextChunk
	for _, key := range order {
		out = append(out, mergeAdjacent(groups[key])...)
	}
	sortContexts(out)
	return truncateToBudget(out, budget)
}

// mergeAdjacent merges runs of consecutive, overlapping chunks of one generation.
func mergeAdjacent(hits []*vector.Hit) []*models.ContextChunk {
	sort.Slice(hits, func(i, j int) bool { return hits[i].Record.Ordinal < hits[j].Record.Ordinal })

	var out []*models.ContextChunk
	var cur *models.ContextChunk
	for _, h := range hits {
		r := h.Record
		if cur != nil && r.Ordinal == cur.LastOrdinal+1 && r.StartOffset <= cur.EndOffset {
			extendContext(cur, h)
			continue
		}
		if cur != nil && r.Ordinal == cur.LastOrdinal {
			continue
		}
		cur = newContext(h)
		out = append(out, cur)
	}
	return out
}

func newContext(h *vector.Hit) *models.ContextChunk {
	r := h.Record
	return &models.ContextChunk{
		ChunkIDs:    []string{r.ChunkID},
		SourceID:    r.SourceID,
		Source:      r.Metadata[models.MetaSource],
		Generation:  r.Generation,
		Ordinal:     r.Ordinal,
		LastOrdinal: r.Ordinal,
		StartOffset: r.StartOffset,
		EndOffset:   r.EndOffset,
		Text:        r.Text,
		Score:       h.Score,
		Fallback:    r.Fallback,
		Metadata:    copyMetadata(r.Metadata),
	}
}

// extendContext appends the non-overlapping tail of h to c. The merged entry
// keeps the higher score and the earliest ordinal.
func extendContext(c *models.ContextChunk, h *vector.Hit) {
	r := h.Record
	tail := []rune(r.Text)
	if skip := c.EndOffset - r.StartOffset; skip > 0 {
		if skip >= len(tail) {
			tail = nil
		} else {
			tail = tail[skip:]
		}
	}
	c.Text += string(tail)
	if r.EndOffset > c.EndOffset {
		c.EndOffset = r.EndOffset
	}
	c.ChunkIDs = append(c.ChunkIDs, r.ChunkID)
	c.LastOrdinal = r.Ordinal
	c.Fallback = c.Fallback || r.Fallback
	if h.Score > c.Score {
		c.Score = h.Score
	}
}

func sortContexts(cs []*models.ContextChunk) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Ordinal != b.Ordinal {
			return a.Ordinal < b.Ordinal
		}
		return a.SourceID < b.SourceID
	})
}

// truncateToBudget drops entries from the tail of the sorted list until the
// total text length fits. The best entry is never dropped: when it alone
// exceeds the budget its text is cut to fit and marked Truncated, so a
// small budget still returns the strongest match.
func truncateToBudget(cs []*models.ContextChunk, budget int) []*models.ContextChunk {
	if budget <= 0 {
		return cs
	}
	total := 0
	for _, c := range cs {
		total += utf8.RuneCountInString(c.Text)
	}
	for len(cs) > 1 && total > budget {
		last := cs[len(cs)-1]
		total -= utf8.RuneCountInString(last.Text)
		cs = cs[:len(cs)-1]
	}
	if len(cs) == 1 && total > budget {
		cutText(cs[0], budget)
	}
	return cs
}

// cutText shortens c to at most limit runes, backing up to a word boundary
// when one lies in the second half of the kept text.
func cutText(c *models.ContextChunk, limit int) {
	r := []rune(c.Text)
	end := limit
	if !unicode.IsSpace(r[end]) {
		for i := end - 1; i >= limit/2; i-- {
			if unicode.IsSpace(r[i]) {
				end = i
				break
			}
		}
	}
	kept := strings.TrimRightFunc(string(r[:end]), unicode.IsSpace)
	c.Text = kept
	c.EndOffset = c.StartOffset + utf8.RuneCountInString(kept)
	c.Truncated = true
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
