package models

import "errors"

// ErrorKind classifies errors that are surfaced to end users.
type ErrorKind string

const (
	KindParse              ErrorKind = "parse_error"
	KindEmbedding          ErrorKind = "embedding_failure"
	KindStoreUnavailable   ErrorKind = "store_unavailable"
	KindIntentParse        ErrorKind = "intent_parse_error"
	KindValidationRejected ErrorKind = "validation_rejected"
	KindConflict           ErrorKind = "conflict_retry_exhausted"
	KindFileTooLarge       ErrorKind = "file_too_large"
	KindInvalidQuery       ErrorKind = "invalid_query"
	KindInternal           ErrorKind = "internal"
)

// KindedError is implemented by errors that can be rendered to an end user.
type KindedError interface {
	error
	Kind() ErrorKind
	UserMessage() string
}

// KindOf returns the kind of the first KindedError in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var ke KindedError
	if errors.As(err, &ke) {
		return ke.Kind()
	}
	return KindInternal
}

// UserMessage returns a message safe to show to an end user.
func UserMessage(err error) string {
	var ke KindedError
	if errors.As(err, &ke) {
		return ke.UserMessage()
	}
	return "internal error"
}
