package embedding

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hyperjump/budgetrag/internal/models"
)

// EmbeddingFailure means no vector, not even a fallback, could be produced for
// one text. It is fatal for that chunk only.
type EmbeddingFailure struct {
	Reason string
	Err    error
}

func (e *EmbeddingFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding failed: %s: %v", e.Reason, e.Err)
	}
	return "embedding failed: " + e.Reason
}

func (e *EmbeddingFailure) Unwrap() error { return e.Err }

// Kind implements models.KindedError.
func (e *EmbeddingFailure) Kind() models.ErrorKind { return models.KindEmbedding }

// UserMessage implements models.KindedError.
func (e *EmbeddingFailure) UserMessage() string { return "could not embed text: " + e.Reason }

// BatchError reports the texts of a batch that failed. Vectors for the other
// texts are still returned.
type BatchError struct {
	Failures map[int]*EmbeddingFailure
}

func (e *BatchError) Error() string {
	idx := make([]int, 0, len(e.Failures))
	for i := range e.Failures {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	parts := make([]string, len(idx))
	for j, i := range idx {
		parts[j] = fmt.Sprintf("#%d: %s", i, e.Failures[i].Reason)
	}
	return fmt.Sprintf("embedding failed for %d text(s): %s", len(idx), strings.Join(parts, "; "))
}
