// Package config provides configuration loading and structs for the budgetrag server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	LogLevel  string          `yaml:"log_level"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Watch     WatchConfig     `yaml:"watch"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Policy    PolicyConfig    `yaml:"policy"`
}

// WatchConfig holds the document drop folder settings.
type WatchConfig struct {
	Directories      []string      `yaml:"directories"`
	Extensions       []string      `yaml:"extensions"`
	Recursive        *bool         `yaml:"recursive"`
	MaxFileSizeBytes int64         `yaml:"max_file_size_bytes"`
	Workers          int           `yaml:"workers"`
	MaxRetries       int           `yaml:"max_retries"`
	ScanInterval     time.Duration `yaml:"scan_interval"`
	Debounce         time.Duration `yaml:"debounce"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the relational database and the vector store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	VectorPath   string `yaml:"vector_path"`
}

// VectorConfig selects the vector store backend and its retry budget.
type VectorConfig struct {
	Backend        string        `yaml:"backend"` // badger or memory
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	VerifyAttempts int           `yaml:"verify_attempts"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"` // openai, onnx or hash
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"api_key,omitempty"`
	ModelPath         string        `yaml:"model_path"`
	Dimensions        int           `yaml:"dimensions"`
	MaxTokens         int           `yaml:"max_tokens"`
	CacheSize         int           `yaml:"cache_size"`
	BatchSize         int           `yaml:"batch_size"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// LLMConfig configures the model used to parse modification requests.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key,omitempty"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// ChunkingConfig holds chunk size and overlap, in characters. An explicit
// chunk_overlap of 0 disables overlap; leaving it out uses the default.
type ChunkingConfig struct {
	ChunkSize    int  `yaml:"chunk_size"`
	ChunkOverlap *int `yaml:"chunk_overlap"`
}

// OverlapOrDefault returns the chunk overlap; defaults to 200 when unset.
func (c *ChunkingConfig) OverlapOrDefault() int {
	if c.ChunkOverlap != nil {
		return *c.ChunkOverlap
	}
	return DefaultChunkOverlap
}

// RetrievalConfig holds query defaults. An explicit score_threshold of 0
// accepts every match; leaving it out uses the default.
type RetrievalConfig struct {
	TopK           int      `yaml:"top_k"`
	ScoreThreshold *float64 `yaml:"score_threshold"`
	ContextBudget  int      `yaml:"context_budget"`
}

// ThresholdOrDefault returns the score threshold; defaults to 0.7 when unset.
func (r *RetrievalConfig) ThresholdOrDefault() float64 {
	if r.ScoreThreshold != nil {
		return *r.ScoreThreshold
	}
	return DefaultScoreThreshold
}

// PolicyConfig holds the business limits applied to budget modifications.
type PolicyConfig struct {
	MaxPercentChange       float64 `yaml:"max_percent_change"`
	JustificationThreshold float64 `yaml:"justification_threshold"`
	MaxConflictRetries     int     `yaml:"max_conflict_retries"`
}

// Load reads and parses the config file at path, applies defaults and
// environment overrides, and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)
	expandPaths(&cfg, filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config built from defaults and the environment only.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)
	cwd, _ := os.Getwd()
	expandPaths(&cfg, cwd)
	return &cfg
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process
// environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides config values from the environment.
func ApplyEnv(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = key
		}
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = key
		}
	}
	if v := os.Getenv("BUDGETRAG_DB_PATH"); v != "" {
		cfg.Storage.DatabasePath = v
	}
	if v := os.Getenv("BUDGETRAG_VECTOR_PATH"); v != "" {
		cfg.Storage.VectorPath = v
	}
	if v := os.Getenv("BUDGETRAG_WATCH_DIR"); v != "" {
		cfg.Watch.Directories = appendUnique(cfg.Watch.Directories, v)
	}
	if v := os.Getenv("BUDGETRAG_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
}

// Validate rejects settings that would make the pipeline misbehave.
func (c *Config) Validate() error {
	overlap := c.Chunking.OverlapOrDefault()
	if overlap < 0 {
		return fmt.Errorf("chunk_overlap (%d) must not be negative", overlap)
	}
	if overlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", overlap, c.Chunking.ChunkSize)
	}
	if th := c.Retrieval.ThresholdOrDefault(); th < 0 || th > 1 {
		return fmt.Errorf("retrieval.score_threshold (%g) must be between 0 and 1", th)
	}
	switch c.Vector.Backend {
	case "badger", "memory":
	default:
		return fmt.Errorf("unknown vector backend %q", c.Vector.Backend)
	}
	switch c.Embedding.Provider {
	case "openai", "onnx", "hash":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Policy.MaxPercentChange <= 0 {
		return fmt.Errorf("policy.max_percent_change must be positive")
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func expandPaths(cfg *Config, configDir string) {
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorPath = expandPath(cfg.Storage.VectorPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
