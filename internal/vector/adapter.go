package vector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/budgetrag/internal/retry"
	"go.uber.org/zap"
)

// Adapter wraps a Store with retries and the generation commit protocol.
// Operations that keep failing return *StoreUnavailable.
type Adapter struct {
	store          Store
	policy         retry.Policy
	verifyAttempts int
	logger         *zap.Logger
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithRetryPolicy sets the retry policy for store calls.
func WithRetryPolicy(p retry.Policy) AdapterOption {
	return func(a *Adapter) { a.policy = p }
}

// WithVerifyAttempts sets how many times a commit re-upserts when the stored
// count does not match.
func WithVerifyAttempts(n int) AdapterOption {
	return func(a *Adapter) {
		if n > 0 {
			a.verifyAttempts = n
		}
	}
}

// WithAdapterLogger sets the logger.
func WithAdapterLogger(logger *zap.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAdapter wraps store.
func NewAdapter(store Store, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		store:          store,
		policy:         retry.Policy{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
		verifyAttempts: 3,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.policy.MaxAttempts <= 0 {
		a.policy.MaxAttempts = 1
	}
	return a
}

// Store returns the wrapped store.
func (a *Adapter) Store() Store { return a.store }

func (a *Adapter) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	p := a.policy
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		a.logger.Warn("vector store operation failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))
	}
	err := retry.Do(ctx, p, func(ctx context.Context, _ int) error {
		err := fn(ctx)
		if errors.Is(err, ErrDimensionMismatch) {
			return retry.Permanent(err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, ErrDimensionMismatch) {
		return err
	}
	return &StoreUnavailable{Op: op, Err: err}
}

// Upsert writes records, retrying on failure.
func (a *Adapter) Upsert(ctx context.Context, records []*Record) error {
	return a.do(ctx, "upsert", func(ctx context.Context) error {
		return a.store.Upsert(ctx, records)
	})
}

// Query searches active generations, retrying on failure.
func (a *Adapter) Query(ctx context.Context, vector []float32, opts QueryOptions) ([]*Hit, error) {
	var hits []*Hit
	err := a.do(ctx, "query", func(ctx context.Context) error {
		var err error
		hits, err = a.store.Query(ctx, vector, opts)
		return err
	})
	return hits, err
}

// Delete removes one generation of a source.
func (a *Adapter) Delete(ctx context.Context, sourceID, generation string) (int, error) {
	var n int
	err := a.do(ctx, "delete", func(ctx context.Context) error {
		var err error
		n, err = a.store.DeleteGeneration(ctx, sourceID, generation)
		return err
	})
	return n, err
}

// DeleteSource removes every generation of a source.
func (a *Adapter) DeleteSource(ctx context.Context, sourceID string) error {
	return a.do(ctx, "delete_source", func(ctx context.Context) error {
		return a.store.DeleteSource(ctx, sourceID)
	})
}

// ActiveGeneration returns the visible generation of a source.
func (a *Adapter) ActiveGeneration(ctx context.Context, sourceID string) (string, error) {
	var gen string
	err := a.do(ctx, "active_generation", func(ctx context.Context) error {
		var err error
		gen, err = a.store.ActiveGeneration(ctx, sourceID)
		return err
	})
	return gen, err
}

// CommitGeneration replaces the visible chunks of sourceID with records.
// Records are written and counted under the new generation, the generation
// is activated, and only then is the previous generation deleted. A failure
// before activation leaves the previous generation visible and removes the
// partial new one.
func (a *Adapter) CommitGeneration(ctx context.Context, sourceID, generation string, records []*Record) (string, error) {
	for _, r := range records {
		if r.SourceID != sourceID || r.Generation != generation {
			return "", fmt.Errorf("record %s belongs to %s/%s, not %s/%s",
				r.ChunkID, r.SourceID, r.Generation, sourceID, generation)
		}
	}

	if err := a.writeVerified(ctx, sourceID, generation, records); err != nil {
		a.discard(sourceID, generation)
		return "", err
	}

	var prev string
	err := a.do(ctx, "activate", func(ctx context.Context) error {
		var err error
		prev, err = a.store.Activate(ctx, sourceID, generation)
		return err
	})
	if err != nil {
		a.discard(sourceID, generation)
		return "", err
	}

	if prev != "" && prev != generation {
		if _, err := a.Delete(ctx, sourceID, prev); err != nil {
			// The old generation is no longer visible; it is removed on the next commit or source removal.
			a.logger.Warn("failed to delete previous generation",
				zap.String("source_id", sourceID),
				zap.String("generation", prev),
				zap.Error(err))
		}
	}
	return prev, nil
}

// writeVerified upserts records and removes any other chunk stored under the
// generation, so a commit that reuses a generation ID with fewer chunks
// leaves no stale tail behind.
func (a *Adapter) writeVerified(ctx context.Context, sourceID, generation string, records []*Record) error {
	keep := make([]string, len(records))
	for i, r := range records {
		keep[i] = r.ChunkID
	}
	var count int
	for i := 0; i < a.verifyAttempts; i++ {
		if err := a.Upsert(ctx, records); err != nil {
			return err
		}
		err := a.do(ctx, "verify", func(ctx context.Context) error {
			pruned, err := a.store.PruneGeneration(ctx, sourceID, generation, keep)
			if err != nil {
				return err
			}
			if pruned > 0 {
				a.logger.Info("removed stale chunks from generation",
					zap.String("source_id", sourceID),
					zap.String("generation", generation),
					zap.Int("removed", pruned))
			}
			count, err = a.store.CountGeneration(ctx, sourceID, generation)
			return err
		})
		if err != nil {
			return err
		}
		if count == len(records) {
			return nil
		}
		a.logger.Warn("vector count mismatch after upsert",
			zap.String("source_id", sourceID),
			zap.Int("want", len(records)),
			zap.Int("got", count))
	}
	return &StoreUnavailable{
		Op:  "verify",
		Err: fmt.Errorf("stored %d of %d records", count, len(records)),
	}
}

// discard removes a partially written generation. It uses a fresh context so
// cleanup still runs when the caller's context was cancelled.
func (a *Adapter) discard(sourceID, generation string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	active, err := a.store.ActiveGeneration(ctx, sourceID)
	if err == nil && active == generation {
		return
	}
	if _, err := a.store.DeleteGeneration(ctx, sourceID, generation); err != nil {
		a.logger.Warn("failed to discard partial generation",
			zap.String("source_id", sourceID),
			zap.String("generation", generation),
			zap.Error(err))
	}
}
