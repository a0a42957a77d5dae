package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for ragweb.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Index     IndexConfig     `yaml:"index"`
	Queue     QueueConfig     `yaml:"queue"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP boundary configuration.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	Mode            string        `yaml:"mode"` // "debug" or "release"
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds metadata store configuration.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite", "postgres" or "memory"
	DSN    string `yaml:"dsn"`    // file path for sqlite, connection string for postgres
}

// IndexConfig holds vector index configuration.
type IndexConfig struct {
	Path          string        `yaml:"path"`
	SearchTimeout time.Duration `yaml:"search_timeout"`
}

// QueueConfig holds job queue configuration.
type QueueConfig struct {
	Driver            string        `yaml:"driver"` // "bolt" or "memory"
	Path              string        `yaml:"path"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	LockTimeout       time.Duration `yaml:"lock_timeout"`
}

// IngestConfig holds fetch and chunking configuration.
type IngestConfig struct {
	ChunkTokens    int           `yaml:"chunk_tokens"`
	ChunkOverlap   int           `yaml:"chunk_overlap"`
	MinTextChars   int           `yaml:"min_text_chars"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	FetchAttempts  int           `yaml:"fetch_attempts"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	UserAgent      string        `yaml:"user_agent"`
	URLIncludes    []string      `yaml:"url_includes"`
	URLExcludes    []string      `yaml:"url_excludes"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK              int           `yaml:"top_k"`
	MinScoreThreshold float64       `yaml:"min_score_threshold"` // Filter results below this score (0 = disabled)
	MMRLambda         float64       `yaml:"mmr_lambda"`          // Diversify prompt passages (0 = disabled)
	DedupJaccard      float64       `yaml:"dedup_jaccard"`       // Drop prompt passages more similar than this
	QueryCacheSize    int           `yaml:"query_cache_size"`
	QueryCacheTTL     time.Duration `yaml:"query_cache_ttl"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`    // "openai", "ollama", "hash"
	Model     string `yaml:"model"`       // e.g., "text-embedding-3-small"
	APIKeyEnv string `yaml:"api_key_env"` // Environment variable for API key
	BaseURL   string `yaml:"base_url"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

// LLMConfig holds answer generation configuration.
type LLMConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Model            string        `yaml:"model"`
	APIKeyEnv        string        `yaml:"api_key_env"`
	BaseURL          string        `yaml:"base_url"`
	Temperature      float32       `yaml:"temperature"`
	Timeout          time.Duration `yaml:"timeout"`
	ContextTokens    int           `yaml:"context_tokens"`
	MaxContextChunks int           `yaml:"max_context_chunks"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8000",
			Mode:            "release",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "./data/metadata.db",
		},
		Index: IndexConfig{
			Path:          "./data/index.bolt",
			SearchTimeout: 10 * time.Second,
		},
		Queue: QueueConfig{
			Driver:            "bolt",
			Path:              "./data/queue.bolt",
			VisibilityTimeout: 15 * time.Minute,
			PollInterval:      500 * time.Millisecond,
			LockTimeout:       5 * time.Second,
		},
		Ingest: IngestConfig{
			ChunkTokens:    800,
			ChunkOverlap:   100,
			MinTextChars:   20,
			FetchTimeout:   15 * time.Second,
			FetchAttempts:  3,
			BackoffInitial: time.Second,
			BackoffMax:     10 * time.Second,
			RequestsPerSec: 2,
			MaxBodyBytes:   5 << 20,
			UserAgent:      "ragweb/1.0",
		},
		Retrieve: RetrieveConfig{
			TopK:           5,
			DedupJaccard:   0.9,
			QueryCacheSize: 256,
			QueryCacheTTL:  10 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Model:     "text-embedding-3-small",
			APIKeyEnv: "OPENAI_API_KEY",
			Dimension: 384,
			BatchSize: 100,
		},
		LLM: LLMConfig{
			Enabled:          false,
			Model:            "gpt-4o-mini",
			APIKeyEnv:        "LLM_API_KEY",
			Temperature:      0.2,
			Timeout:          60 * time.Second,
			ContextTokens:    6000,
			MaxContextChunks: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A .env file next to the working
// directory is read first so api_key_env references resolve.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for ragweb.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "ragweb.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".ragweb", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return Load(filepath.Join(dir, "ragweb.yaml"))
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnv overrides file values with RAGWEB_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("RAGWEB_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("RAGWEB_DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("RAGWEB_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("RAGWEB_INDEX_PATH"); v != "" {
		c.Index.Path = v
	}
	if v := os.Getenv("RAGWEB_QUEUE_PATH"); v != "" {
		c.Queue.Path = v
	}
	if v := os.Getenv("RAGWEB_LLM_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.LLM.Enabled = b
		}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Ingest.ChunkTokens <= 0 {
		return fmt.Errorf("ingest.chunk_tokens must be positive, got %d", c.Ingest.ChunkTokens)
	}
	if c.Ingest.ChunkOverlap < 0 {
		return fmt.Errorf("ingest.chunk_overlap must not be negative, got %d", c.Ingest.ChunkOverlap)
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkTokens {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than ingest.chunk_tokens (%d)",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkTokens)
	}
	if c.Ingest.FetchAttempts <= 0 {
		return fmt.Errorf("ingest.fetch_attempts must be positive, got %d", c.Ingest.FetchAttempts)
	}
	if c.Index.SearchTimeout <= 0 {
		return fmt.Errorf("index.search_timeout must be positive")
	}
	if c.Retrieve.TopK <= 0 {
		return fmt.Errorf("retrieve.top_k must be positive, got %d", c.Retrieve.TopK)
	}
	if c.Retrieve.MMRLambda < 0 || c.Retrieve.MMRLambda > 1 {
		return fmt.Errorf("retrieve.mmr_lambda must be between 0 and 1, got %g", c.Retrieve.MMRLambda)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	switch c.Queue.Driver {
	case "bolt", "memory":
	default:
		return fmt.Errorf("unsupported queue driver: %s", c.Queue.Driver)
	}
	switch c.Embedding.Provider {
	case "openai", "ollama", "hash":
	default:
		return fmt.Errorf("unsupported embedding provider: %s", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	return nil
}

// EnsureDataDirs creates parent directories for every file-backed store.
func (c *Config) EnsureDataDirs() error {
	paths := []string{c.Index.Path, c.Queue.Path}
	if c.Database.Driver == "sqlite" {
		paths = append(paths, c.Database.DSN)
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", p, err)
		}
	}
	return nil
}

// ResolvePaths makes relative file paths relative to base instead of the
// working directory.
func (c *Config) ResolvePaths(base string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Index.Path = resolve(c.Index.Path)
	c.Queue.Path = resolve(c.Queue.Path)
	if c.Database.Driver == "sqlite" && c.Database.DSN != ":memory:" && !strings.HasPrefix(c.Database.DSN, "file:") {
		c.Database.DSN = resolve(c.Database.DSN)
	}
}
