package modification

import (
	"errors"
	"fmt"

	"github.com/hyperjump/budgetrag/internal/models"
)

// ReasonCode names the rule that rejected a modification.
type ReasonCode string

const (
	ReasonMissingEntity        ReasonCode = "missing-entity"
	ReasonNegativeResult       ReasonCode = "negative-result"
	ReasonExceedsPercentLimit  ReasonCode = "exceeds-percent-limit"
	ReasonMissingJustification ReasonCode = "missing-justification"
	ReasonStaleVersion         ReasonCode = "stale-version"
	ReasonConflictExhausted    ReasonCode = "conflict-retry-exhausted"
)

// IntentParseError reports model output that could not be turned into an
// intent. Field names the offending intent field; the caller should ask the
// user to clarify it.
type IntentParseError struct {
	Field  string
	Reason string
	Err    error
}

func (e *IntentParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse intent: %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse intent: %s: %s", e.Field, e.Reason)
}

func (e *IntentParseError) Unwrap() error { return e.Err }

// Kind implements models.KindedError.
func (e *IntentParseError) Kind() models.ErrorKind { return models.KindIntentParse }

// UserMessage implements models.KindedError.
func (e *IntentParseError) UserMessage() string {
	return fmt.Sprintf("could not understand the request (%s: %s), please rephrase", e.Field, e.Reason)
}

// ValidationRejected is returned when a business rule rejects an intent.
type ValidationRejected struct {
	Reason ReasonCode
	Detail string
}

func (e *ValidationRejected) Error() string {
	return fmt.Sprintf("modification rejected: %s: %s", e.Reason, e.Detail)
}

// Kind implements models.KindedError.
func (e *ValidationRejected) Kind() models.ErrorKind { return models.KindValidationRejected }

// UserMessage implements models.KindedError.
func (e *ValidationRejected) UserMessage() string { return e.Detail }

// ErrConflictRetryExhausted matches every *ConflictError.
var ErrConflictRetryExhausted = errors.New("conflict retry exhausted")

// ConflictError reports a line item that kept changing underneath a request.
type ConflictError struct {
	LineItemID int64
	Attempts   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("line item %d changed concurrently %d times: %v", e.LineItemID, e.Attempts, ErrConflictRetryExhausted)
}

// Is reports whether target is ErrConflictRetryExhausted.
func (e *ConflictError) Is(target error) bool { return target == ErrConflictRetryExhausted }

// Kind implements models.KindedError.
func (e *ConflictError) Kind() models.ErrorKind { return models.KindConflict }

// UserMessage implements models.KindedError.
func (e *ConflictError) UserMessage() string {
	return "the budget line was changed by someone else, please review and try again"
}
