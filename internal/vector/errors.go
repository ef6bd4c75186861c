package vector

import (
	"fmt"

	"github.com/hyperjump/budgetrag/internal/models"
)

// StoreUnavailable means the vector store could not complete an operation
// within the retry policy. Previously committed data is unaffected.
type StoreUnavailable struct {
	Op  string
	Err error
}

func (e *StoreUnavailable) Error() string {
	return fmt.Sprintf("vector store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailable) Unwrap() error { return e.Err }

// Kind implements models.KindedError.
func (e *StoreUnavailable) Kind() models.ErrorKind { return models.KindStoreUnavailable }

// UserMessage implements models.KindedError.
func (e *StoreUnavailable) UserMessage() string {
	return "the document index is temporarily unavailable, please retry"
}
