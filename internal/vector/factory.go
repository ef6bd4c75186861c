package vector

import (
	"fmt"

	"go.uber.org/zap"
)

// Backend names a Store implementation.
type Backend string

const (
	// BackendMemory keeps vectors in memory. Nothing survives a restart.
	BackendMemory Backend = "memory"
	// BackendBadger persists vectors in BadgerDB under the configured path.
	BackendBadger Backend = "badger"
)

// NewStore creates the store for backend. path is only used by badger.
func NewStore(backend string, path string, dimensions int, logger *zap.Logger) (Store, error) {
	switch Backend(backend) {
	case BackendBadger, "":
		return OpenBadgerStore(path, dimensions, logger)
	case BackendMemory:
		return NewMemoryStore(dimensions)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (supported: badger, memory)", backend)
	}
}
