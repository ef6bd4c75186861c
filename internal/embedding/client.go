package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hyperjump/budgetrag/internal/retry"
	"github.com/hyperjump/budgetrag/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client wraps a provider with caching, rate limiting, per-attempt timeouts
// and bounded retries. When the provider stays unavailable it returns a
// deterministic hash embedding tagged as a fallback instead of failing.
type Client struct {
	provider  Embedder
	fallback  *HashEmbedder
	cache     *vectorCache
	limiter   *rate.Limiter
	policy    retry.Policy
	timeout   time.Duration
	batchSize int
	logger    *zap.Logger

	fallbacks atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for retry and fallback warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCacheSize sets the LRU capacity. Zero or less disables caching.
func WithCacheSize(size int) Option {
	return func(c *Client) { c.cache = newVectorCache(size) }
}

// WithRateLimit limits provider calls to rps per second with the given burst.
// A non-positive rps removes the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets the retry policy for provider calls.
func WithRetry(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithTimeout bounds each provider attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithBatchSize sets how many texts are sent per provider call.
func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// NewClient returns a client for provider. The fallback embedder matches the
// provider's dimensions so fallback vectors can share an index with real ones.
func NewClient(provider Embedder, opts ...Option) *Client {
	c := &Client{
		provider:  provider,
		fallback:  NewHashEmbedder(provider.Dimensions()),
		cache:     newVectorCache(10000),
		policy:    retry.Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second},
		timeout:   30 * time.Second,
		batchSize: 64,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy.MaxAttempts <= 0 {
		c.policy.MaxAttempts = 1
	}
	return c
}

// Embed returns the vector for text. Errors are *EmbeddingFailure, or the
// context's error when ctx ends before a vector is produced.
func (c *Client) Embed(ctx context.Context, text string) (*Vector, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &EmbeddingFailure{Reason: "empty text"}
	}
	if cached, ok := c.cache.get(text); ok {
		return &Vector{Values: cached}, nil
	}

	var values []float32
	err := c.call(ctx, func(actx context.Context) error {
		v, err := c.provider.Embed(actx, text)
		if err != nil {
			return err
		}
		if err := c.check(v); err != nil {
			return err
		}
		values = v
		return nil
	})
	if err == nil {
		c.cache.put(text, values)
		return &Vector{Values: values}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	c.logger.Warn("embedding provider unavailable, using fallback",
		zap.Int("text_len", len(text)),
		zap.Error(err))
	return c.embedFallback(ctx, text)
}

// EmbedBatch returns one vector per text, in order. Texts that cannot be
// embedded at all get a nil entry and are reported in a *BatchError; the
// other entries are still valid.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([]*Vector, error) {
	out := make([]*Vector, len(texts))
	failures := make(map[int]*EmbeddingFailure)

	pending := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			failures[i] = &EmbeddingFailure{Reason: "empty text"}
			continue
		}
		if cached, ok := c.cache.get(text); ok {
			out[i] = &Vector{Values: cached}
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += c.batchSize {
		idx := pending[start:min(start+c.batchSize, len(pending))]
		batch := make([]string, len(idx))
		for j, i := range idx {
			batch[j] = texts[i]
		}

		var vecs [][]float32
		err := c.call(ctx, func(actx context.Context) error {
			v, err := c.provider.EmbedBatch(actx, batch)
			if err != nil {
				return err
			}
			if len(v) != len(batch) {
				return fmt.Errorf("provider returned %d embeddings for %d texts", len(v), len(batch))
			}
			for _, vec := range v {
				if err := c.check(vec); err != nil {
					return err
				}
			}
			vecs = v
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("embedding provider unavailable, using fallback for batch",
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			for _, i := range idx {
				v, ferr := c.embedFallback(ctx, texts[i])
				if ferr != nil {
					failures[i] = toFailure(ferr)
					continue
				}
				out[i] = v
			}
			continue
		}
		for j, i := range idx {
			c.cache.put(texts[i], vecs[j])
			out[i] = &Vector{Values: vecs[j]}
		}
	}

	if len(failures) > 0 {
		return out, &BatchError{Failures: failures}
	}
	return out, nil
}

// Dimensions returns the provider's vector size.
func (c *Client) Dimensions() int {
	return c.provider.Dimensions()
}

// FallbackCount returns how many fallback vectors this client has produced.
func (c *Client) FallbackCount() int64 {
	return c.fallbacks.Load()
}

// CacheStats reports the vector cache's occupancy and hit counts.
func (c *Client) CacheStats() CacheStats {
	return c.cache.stats()
}

// Close closes the provider.
func (c *Client) Close() error {
	return c.provider.Close()
}

// call runs op under the retry policy. Each attempt waits for the rate
// limiter and gets its own timeout.
func (c *Client) call(ctx context.Context, op func(ctx context.Context) error) error {
	p := c.policy
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Debug("embedding attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))
	}
	return retry.Do(ctx, p, func(ctx context.Context, _ int) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		actx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		return op(actx)
	})
}

// check rejects provider vectors that could never be stored. Retrying the
// same input will not change the answer, so the error is permanent.
func (c *Client) check(vec []float32) error {
	if len(vec) != c.Dimensions() {
		return retry.Permanent(fmt.Errorf("provider returned %d dimensions, want %d", len(vec), c.Dimensions()))
	}
	if !utils.Finite(vec) {
		return retry.Permanent(errors.New("provider returned a non-finite vector"))
	}
	return nil
}

func (c *Client) embedFallback(ctx context.Context, text string) (*Vector, error) {
	values, err := c.fallback.Embed(ctx, text)
	if err != nil {
		return nil, &EmbeddingFailure{Reason: "fallback embedding failed", Err: err}
	}
	c.fallbacks.Add(1)
	return &Vector{Values: values, Fallback: true}, nil
}

func toFailure(err error) *EmbeddingFailure {
	if f, ok := err.(*EmbeddingFailure); ok {
		return f
	}
	return &EmbeddingFailure{Reason: err.Error(), Err: err}
}
