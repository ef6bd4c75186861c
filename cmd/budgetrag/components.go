package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/budgetrag/internal/config"
	"github.com/hyperjump/budgetrag/internal/embedding"
	"github.com/hyperjump/budgetrag/internal/indexer"
	"github.com/hyperjump/budgetrag/internal/modification"
	"github.com/hyperjump/budgetrag/internal/retry"
	"github.com/hyperjump/budgetrag/internal/search"
	"github.com/hyperjump/budgetrag/internal/storage"
	"github.com/hyperjump/budgetrag/internal/vector"
	"github.com/hyperjump/budgetrag/pkg/utils"
	"go.uber.org/zap"
)

// loadConfig loads config from path. When path is the default and does not
// exist, config.yaml in the current directory is tried, then built-in
// defaults. Returns the config and the path that was loaded, empty for defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); err != nil {
			if cwd, cwdErr := os.Getwd(); cwdErr == nil {
				fallback := filepath.Join(cwd, "config.yaml")
				if _, statErr := os.Stat(fallback); statErr == nil {
					cfg, loadErr := config.Load(fallback)
					if loadErr != nil {
						return nil, "", loadErr
					}
					return cfg, fallback, nil
				}
			}
			cfg := config.Default()
			if err := cfg.Validate(); err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func newLogger(cfg *config.Config, debug bool) (*zap.Logger, error) {
	if debug || cfg.Debug {
		return utils.NewLogger(true)
	}
	return utils.NewLoggerWithLevel(cfg.LogLevel)
}

// Components holds initialized services.
type Components struct {
	Config       *config.Config
	Storage      *storage.SQLiteStorage
	Embedder     *embedding.Client
	Vectors      *vector.Adapter
	Engine       *search.Engine
	Indexer      *indexer.Indexer
	Modification *modification.Service
}

// Close releases every component that was opened.
func (c *Components) Close() {
	if c.Vectors != nil {
		_ = c.Vectors.Store().Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// initializeBudget opens only the relational store and the modification
// service. Budget commands do not need the vector store, which holds a
// directory lock while the server runs.
func initializeBudget(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Config: cfg, Storage: store}

	opts := []modification.ServiceOption{
		modification.WithServiceLogger(logger),
		modification.WithMaxConflictRetries(cfg.Policy.MaxConflictRetries),
	}
	parser, err := modification.NewParserFromConfig(cfg.LLM, store, logger)
	if err != nil {
		logger.Warn("intent parser unavailable; free-text modifications disabled", zap.Error(err))
	} else {
		opts = append(opts, modification.WithIntentParser(parser))
	}
	c.Modification = modification.NewService(store, modification.PolicyFromConfig(cfg.Policy), opts...)
	return c, nil
}

// initializeComponents opens every store and wires the ingestion and
// retrieval pipelines on top of initializeBudget.
func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c, err := initializeBudget(cfg, logger)
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.NewClientFromConfig(cfg.Embedding, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}
	c.Embedder = embedder

	store, err := vector.NewStore(cfg.Vector.Backend, cfg.Storage.VectorPath, cfg.Embedding.Dimensions, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	c.Vectors = vector.NewAdapter(store,
		vector.WithRetryPolicy(retry.Policy{
			MaxAttempts: cfg.Vector.MaxAttempts,
			BaseDelay:   cfg.Vector.BaseDelay,
			MaxDelay:    20 * cfg.Vector.BaseDelay,
		}),
		vector.WithVerifyAttempts(cfg.Vector.VerifyAttempts),
		vector.WithAdapterLogger(logger),
	)
	logger.Info("vector store initialized",
		zap.String("backend", cfg.Vector.Backend),
		zap.Int("dimensions", cfg.Embedding.Dimensions))

	c.Engine = search.NewEngine(embedder, c.Vectors, cfg.Retrieval, logger)
	c.Indexer = indexer.NewIndexer(
		c.Storage,
		embedder,
		c.Vectors,
		indexer.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.OverlapOrDefault()),
		indexer.WithLogger(logger),
		indexer.WithMaxFileSize(cfg.Watch.MaxFileSizeBytes),
		indexer.WithTracker(indexer.NewTracker(cfg.Watch.MaxRetries)),
	)
	return c, nil
}

// knownPaths returns the paths of every registered document.
func knownPaths(store storage.Storage, logger *zap.Logger) func() []string {
	return func() []string {
		const page = 500
		var paths []string
		for offset := 0; ; offset += page {
			docs, err := store.ListDocuments(context.Background(), offset, page)
			if err != nil {
				logger.Warn("list documents failed", zap.Error(err))
				return paths
			}
			for _, d := range docs {
				paths = append(paths, d.Path)
			}
			if len(docs) < page {
				return paths
			}
		}
	}
}
