// Package config loads selah configuration from a YAML file, a .env file and
// the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration shared by every selah subcommand.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Segment   SegmentConfig   `yaml:"segment"`
	Recommend RecommendConfig `yaml:"recommend"`
	Store     StoreConfig     `yaml:"store"`
	NATS      NATSConfig      `yaml:"nats"`
	Server    ServerConfig    `yaml:"server"`
}

// LLMConfig points at an OpenAI-compatible chat completion endpoint.
type LLMConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	Model             string  `yaml:"model"`
	EmbeddingModel    string  `yaml:"embedding_model"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// EmbedderConfig selects the embedding provider: "openai" or "ollama".
type EmbedderConfig struct {
	Provider    string `yaml:"provider"`
	OllamaURL   string `yaml:"ollama_url"`
	OllamaModel string `yaml:"ollama_model"`
}

// QdrantConfig holds vector index connection details.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
	Tenant     string `yaml:"tenant"`
	VectorSize int    `yaml:"vector_size"`
}

// CorpusConfig locates the verse database.
type CorpusConfig struct {
	Path        string `yaml:"path"`
	Translation string `yaml:"translation"`
}

// SegmentConfig tunes the offline segmentation run.
type SegmentConfig struct {
	CheckpointDir string        `yaml:"checkpoint_dir"`
	Backend       string        `yaml:"backend"` // "dir" or "bolt"
	Workers       int           `yaml:"workers"`
	BookTimeout   time.Duration `yaml:"book_timeout"`
	IndexBatch    int           `yaml:"index_batch"`
}

// RecommendConfig tunes the online recommendation pipeline.
type RecommendConfig struct {
	TopK             int           `yaml:"top_k"`
	JudgeConcurrency int           `yaml:"judge_concurrency"`
	JudgeTimeout     time.Duration `yaml:"judge_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	Encouragement    bool          `yaml:"encouragement"`
	CacheSize        int           `yaml:"cache_size"`
}

// StoreConfig locates the recommendation stores. Neo4j is optional.
type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	Neo4jURL   string `yaml:"neo4j_url"`
	Neo4jUser  string `yaml:"neo4j_user"`
	Neo4jPass  string `yaml:"neo4j_pass"`
}

// NATSConfig configures the recommendation worker transport.
type NATSConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        string `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	CORSOrigin  string `yaml:"cors_origin"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads .env (if present), the YAML file at path (if non-empty and
// present), applies defaults and then environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
			base := filepath.Dir(path)
			cfg.Corpus.Path = resolvePath(cfg.Corpus.Path, base)
			cfg.Segment.CheckpointDir = resolvePath(cfg.Segment.CheckpointDir, base)
			cfg.Store.SQLitePath = resolvePath(cfg.Store.SQLitePath, base)
		}
	}

	ApplyDefaults(&cfg)
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.LogLevel, "info")

	setDefault(&cfg.LLM.BaseURL, "https://api.openai.com/v1")
	setDefault(&cfg.LLM.Model, "gpt-4o-mini")
	setDefault(&cfg.LLM.EmbeddingModel, "text-embedding-3-small")
	setDefault(&cfg.LLM.TimeoutSeconds, 60)

	setDefault(&cfg.Embedder.Provider, "openai")
	setDefault(&cfg.Embedder.OllamaURL, "http://localhost:11434")
	setDefault(&cfg.Embedder.OllamaModel, "nomic-embed-text")

	setDefault(&cfg.Qdrant.Host, "localhost")
	setDefault(&cfg.Qdrant.Port, 6334)
	setDefault(&cfg.Qdrant.Collection, "bible_passages")
	setDefault(&cfg.Qdrant.Tenant, "bsb")
	setDefault(&cfg.Qdrant.VectorSize, 1536)

	setDefault(&cfg.Corpus.Path, "bible.eng.db")
	setDefault(&cfg.Corpus.Translation, "BSB")

	setDefault(&cfg.Segment.CheckpointDir, "segmented_books")
	setDefault(&cfg.Segment.Backend, "dir")
	setDefault(&cfg.Segment.Workers, 2)
	setDefault(&cfg.Segment.BookTimeout, 2*time.Hour)
	setDefault(&cfg.Segment.IndexBatch, 64)

	setDefault(&cfg.Recommend.TopK, 6)
	setDefault(&cfg.Recommend.JudgeConcurrency, 4)
	setDefault(&cfg.Recommend.JudgeTimeout, 30*time.Second)
	setDefault(&cfg.Recommend.RequestTimeout, 2*time.Minute)
	setDefault(&cfg.Recommend.CacheSize, 1024)

	setDefault(&cfg.Store.SQLitePath, "selah.db")
	setDefault(&cfg.Store.Neo4jUser, "neo4j")

	setDefault(&cfg.NATS.URL, "nats://localhost:4222")
	setDefault(&cfg.NATS.Queue, "selah-recommenders")

	setDefault(&cfg.Server.Port, "8080")
	setDefault(&cfg.Server.MetricsPort, 9090)
	setDefault(&cfg.Server.CORSOrigin, "*")
}

func applyEnv(cfg *Config) {
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)

	cfg.LLM.BaseURL = envOr("OPENAI_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.APIKey = envOr("OPENAI_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.Model = envOr("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.EmbeddingModel = envOr("EMBEDDING_MODEL", cfg.LLM.EmbeddingModel)

	cfg.Embedder.Provider = envOr("EMBEDDER", cfg.Embedder.Provider)
	cfg.Embedder.OllamaURL = envOr("OLLAMA_URL", cfg.Embedder.OllamaURL)

	cfg.Qdrant.Host = envOr("QDRANT_HOST", cfg.Qdrant.Host)
	cfg.Qdrant.Port = envInt("QDRANT_PORT", cfg.Qdrant.Port)
	cfg.Qdrant.APIKey = envOr("QDRANT_API_KEY", cfg.Qdrant.APIKey)
	cfg.Qdrant.Collection = envOr("QDRANT_COLLECTION", cfg.Qdrant.Collection)
	cfg.Qdrant.Tenant = envOr("QDRANT_TENANT", cfg.Qdrant.Tenant)

	cfg.Corpus.Path = envOr("CORPUS_DB", cfg.Corpus.Path)
	cfg.Segment.CheckpointDir = envOr("CHECKPOINT_DIR", cfg.Segment.CheckpointDir)

	cfg.Store.SQLitePath = envOr("SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Store.Neo4jURL = envOr("NEO4J_URL", cfg.Store.Neo4jURL)
	cfg.Store.Neo4jUser = envOr("NEO4J_USER", cfg.Store.Neo4jUser)
	cfg.Store.Neo4jPass = envOr("NEO4J_PASS", cfg.Store.Neo4jPass)

	cfg.NATS.URL = envOr("NATS_URL", cfg.NATS.URL)

	cfg.Server.Port = envOr("PORT", cfg.Server.Port)
	cfg.Server.MetricsPort = envInt("METRICS_PORT", cfg.Server.MetricsPort)
	cfg.Server.CORSOrigin = envOr("CORS_ORIGIN", cfg.Server.CORSOrigin)
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Recommend.TopK <= 0 {
		errs = append(errs, fmt.Errorf("recommend.top_k must be positive, got %d", c.Recommend.TopK))
	}
	if c.Segment.Workers <= 0 {
		errs = append(errs, fmt.Errorf("segment.workers must be positive, got %d", c.Segment.Workers))
	}
	switch c.Segment.Backend {
	case "dir", "bolt":
	default:
		errs = append(errs, fmt.Errorf("segment.backend must be dir or bolt, got %q", c.Segment.Backend))
	}
	switch c.Embedder.Provider {
	case "openai", "ollama":
	default:
		errs = append(errs, fmt.Errorf("embedder.provider must be openai or ollama, got %q", c.Embedder.Provider))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// resolvePath makes relative paths relative to the config file's directory.
func resolvePath(path, base string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
