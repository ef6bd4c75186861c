package embedding

import (
	"fmt"
	"strings"

	"github.com/hyperjump/budgetrag/internal/config"
	"github.com/hyperjump/budgetrag/internal/retry"
	"go.uber.org/zap"
)

// NewProvider creates the raw provider named by cfg.Provider.
func NewProvider(cfg config.EmbeddingConfig) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAIEmbedder(OpenAIOptions{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			APIKey:     cfg.APIKey,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
	case "onnx":
		if cfg.ModelPath == "" {
			return nil, fmt.Errorf("embedding.model_path is required for the onnx provider")
		}
		return NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
	case "hash":
		return NewHashEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// NewClientFromConfig creates the provider and wraps it in a Client configured from cfg.
func NewClientFromConfig(cfg config.EmbeddingConfig, logger *zap.Logger) (*Client, error) {
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(provider,
		WithLogger(logger),
		WithCacheSize(cfg.CacheSize),
		WithRateLimit(cfg.RequestsPerSecond, 1),
		WithRetry(retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			MaxDelay:    30 * cfg.BaseDelay,
		}),
		WithTimeout(cfg.Timeout),
		WithBatchSize(cfg.BatchSize),
	), nil
}
