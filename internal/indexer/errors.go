package indexer

import (
	"errors"
	"fmt"

	"github.com/hyperjump/budgetrag/internal/models"
)

// ErrFileTooLarge matches every *FileTooLargeError.
var ErrFileTooLarge = errors.New("file exceeds maximum size")

// FileTooLargeError rejects a file above the configured size limit. The file is left untouched.
type FileTooLargeError struct {
	Path  string
	Size  int64
	Limit int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("%s: %d bytes exceeds limit of %d", e.Path, e.Size, e.Limit)
}

// Is reports whether target is ErrFileTooLarge.
func (e *FileTooLargeError) Is(target error) bool { return target == ErrFileTooLarge }

// Kind implements models.KindedError.
func (e *FileTooLargeError) Kind() models.ErrorKind { return models.KindFileTooLarge }

// UserMessage implements models.KindedError.
func (e *FileTooLargeError) UserMessage() string {
	return fmt.Sprintf("file is larger than the %d byte limit", e.Limit)
}
