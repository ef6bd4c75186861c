package config

import "time"

// Defaults for settings where zero is a meaningful value.
const (
	DefaultChunkOverlap   = 200
	DefaultScoreThreshold = 0.7
)

// DefaultExtensions are the document formats accepted from the drop folder.
var DefaultExtensions = []string{".txt", ".pdf", ".docx", ".xlsx", ".xls", ".csv"}

// ApplyDefaults sets default values for any zero values in cfg. Pointer
// fields are only filled when nil, so an explicit zero survives.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = ".budgetrag/data/financial.db"
	}
	if cfg.Storage.VectorPath == "" {
		cfg.Storage.VectorPath = ".budgetrag/data/vectors"
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "badger"
	}
	if cfg.Vector.MaxAttempts == 0 {
		cfg.Vector.MaxAttempts = 5
	}
	if cfg.Vector.BaseDelay == 0 {
		cfg.Vector.BaseDelay = 200 * time.Millisecond
	}
	if cfg.Vector.VerifyAttempts == 0 {
		cfg.Vector.VerifyAttempts = 3
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.MaxAttempts == 0 {
		cfg.Embedding.MaxAttempts = 3
	}
	if cfg.Embedding.BaseDelay == 0 {
		cfg.Embedding.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Embedding.RequestsPerSecond == 0 {
		cfg.Embedding.RequestsPerSecond = 5
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.1
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 30 * time.Second
	}
	if cfg.LLM.MaxAttempts == 0 {
		cfg.LLM.MaxAttempts = 3
	}
	if cfg.LLM.BaseDelay == 0 {
		cfg.LLM.BaseDelay = 2 * time.Second
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 1000
	}
	if cfg.Chunking.ChunkOverlap == nil {
		overlap := DefaultChunkOverlap
		cfg.Chunking.ChunkOverlap = &overlap
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if cfg.Watch.MaxFileSizeBytes == 0 {
		cfg.Watch.MaxFileSizeBytes = 10 * 1024 * 1024
	}
	if cfg.Watch.Workers == 0 {
		cfg.Watch.Workers = 4
	}
	if cfg.Watch.MaxRetries == 0 {
		cfg.Watch.MaxRetries = 3
	}
	if cfg.Watch.ScanInterval == 0 {
		cfg.Watch.ScanInterval = time.Minute
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Retrieval.ScoreThreshold == nil {
		th := DefaultScoreThreshold
		cfg.Retrieval.ScoreThreshold = &th
	}
	if cfg.Retrieval.ContextBudget == 0 {
		cfg.Retrieval.ContextBudget = 4000
	}
	if cfg.Policy.MaxPercentChange == 0 {
		cfg.Policy.MaxPercentChange = 20
	}
	if cfg.Policy.JustificationThreshold == 0 {
		cfg.Policy.JustificationThreshold = 1000
	}
	if cfg.Policy.MaxConflictRetries == 0 {
		cfg.Policy.MaxConflictRetries = 3
	}
}
