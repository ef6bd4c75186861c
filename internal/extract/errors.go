package extract

import (
	"fmt"

	"github.com/hyperjump/budgetrag/internal/models"
)

// ParseError reports a document that could not be parsed. It is per-file and
// never aborts a batch.
type ParseError struct {
	Format Format
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Format, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Kind implements models.KindedError.
func (e *ParseError) Kind() models.ErrorKind { return models.KindParse }

// UserMessage implements models.KindedError.
func (e *ParseError) UserMessage() string {
	return fmt.Sprintf("could not read %s document: %s", e.Format, e.Reason)
}

func parseErr(f Format, reason string, err error) *ParseError {
	return &ParseError{Format: f, Reason: reason, Err: err}
}
