package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":8085"

	// DefaultCollection is the default Qdrant collection name.
	DefaultCollection = "test_reports"

	// DefaultEmbeddingModel is the default Ollama embedding model.
	DefaultEmbeddingModel = "nomic-embed-text"

	// DefaultLLMModel is the default Ollama generation model.
	DefaultLLMModel = "llama3.1"

	// DefaultVectorDimension matches the default embedding model output.
	DefaultVectorDimension = 768

	// DefaultQueryLimit bounds similarity search results per query.
	DefaultQueryLimit = 5

	// DefaultMaxSources bounds source attributions per answer.
	DefaultMaxSources = 3

	// DefaultIngestConcurrency bounds parallel scenario ingestion.
	DefaultIngestConcurrency = 4
)

// Config is the root configuration for friday.
type Config struct {
	Global    GlobalConfig    `yaml:"global"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Artifacts ArtifactsConfig `yaml:"artifacts,omitempty"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Ingest  RateLimitTier `yaml:"ingest,omitempty"`
	Query   RateLimitTier `yaml:"query,omitempty"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// DatabaseConfig contains relational database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty"`
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty"`
}

// VectorConfig contains Qdrant connection and collection settings.
type VectorConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key,omitempty"`
	UseTLS     bool   `yaml:"use_tls,omitempty"`
	Collection string `yaml:"collection,omitempty"`
	Dimension  int    `yaml:"dimension,omitempty"`
}

// EmbeddingConfig contains Ollama embedding settings.
type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model,omitempty"`
	Timeout string `yaml:"timeout,omitempty"`
}

// LLMConfig contains Ollama generation settings for the query path.
type LLMConfig struct {
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model,omitempty"`
	Timeout    string `yaml:"timeout,omitempty"`
	QueryLimit int    `yaml:"query_limit,omitempty"`
	MaxSources int    `yaml:"max_sources,omitempty"`
}

// IngestConfig contains ingestion pipeline settings.
type IngestConfig struct {
	Concurrency int `yaml:"concurrency,omitempty"`
}

// ArtifactsConfig contains artifact storage backend settings. Only one
// backend (S3 or local) may be enabled at a time.
type ArtifactsConfig struct {
	S3    *S3ArtifactsConfig    `yaml:"s3,omitempty"`
	Local *LocalArtifactsConfig `yaml:"local,omitempty"`
}

// LocalArtifactsConfig serves artifacts directly from local directories.
type LocalArtifactsConfig struct {
	Enabled bool     `yaml:"enabled"`
	Roots   []string `yaml:"roots,omitempty"`
}

// S3ArtifactsConfig contains S3 settings for presigned URL generation.
type S3ArtifactsConfig struct {
	Enabled         bool     `yaml:"enabled"`
	EndpointURL     string   `yaml:"endpoint_url,omitempty"`
	Region          string   `yaml:"region,omitempty"`
	Bucket          string   `yaml:"bucket"`
	AccessKeyID     string   `yaml:"access_key_id,omitempty"`
	SecretAccessKey string   `yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool     `yaml:"force_path_style"`
	PresignExpiry   string   `yaml:"presign_expiry,omitempty"`
	AllowedPrefixes []string `yaml:"allowed_prefixes,omitempty"`
}

// Load reads and parses a configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = "./friday.db"
	}

	if c.Vector.Collection == "" {
		c.Vector.Collection = DefaultCollection
	}

	if c.Vector.Dimension == 0 {
		c.Vector.Dimension = DefaultVectorDimension
	}

	if c.Vector.Port == 0 {
		c.Vector.Port = 6334
	}

	if c.Embedding.Model == "" {
		c.Embedding.Model = DefaultEmbeddingModel
	}

	if c.Embedding.Timeout == "" {
		c.Embedding.Timeout = "30s"
	}

	if c.LLM.Model == "" {
		c.LLM.Model = DefaultLLMModel
	}

	if c.LLM.Timeout == "" {
		c.LLM.Timeout = "60s"
	}

	if c.LLM.QueryLimit == 0 {
		c.LLM.QueryLimit = DefaultQueryLimit
	}

	if c.LLM.MaxSources == 0 {
		c.LLM.MaxSources = DefaultMaxSources
	}

	if c.Ingest.Concurrency == 0 {
		c.Ingest.Concurrency = DefaultIngestConcurrency
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Postgres.Host == "" {
		return fmt.Errorf("postgres host is required")
	}

	if c.Vector.Enabled {
		if c.Vector.Host == "" {
			return fmt.Errorf("vector host is required when vector is enabled")
		}

		if c.Vector.Dimension <= 0 {
			return fmt.Errorf("vector dimension must be positive")
		}

		if c.Embedding.BaseURL == "" {
			return fmt.Errorf("embedding base_url is required when vector is enabled")
		}
	}

	if c.Server.RateLimit.Enabled {
		for _, tier := range []RateLimitTier{
			c.Server.RateLimit.Ingest, c.Server.RateLimit.Query,
		} {
			if tier.RequestsPerMinute <= 0 {
				return fmt.Errorf("rate limit tiers require requests_per_minute > 0")
			}
		}
	}

	if c.Artifacts.S3 != nil && c.Artifacts.S3.Enabled &&
		c.Artifacts.Local != nil && c.Artifacts.Local.Enabled {
		return fmt.Errorf("only one artifacts backend may be enabled")
	}

	if c.Artifacts.S3 != nil && c.Artifacts.S3.Enabled {
		if c.Artifacts.S3.Bucket == "" {
			return fmt.Errorf("artifacts s3 bucket is required")
		}

		if c.Artifacts.S3.PresignExpiry != "" {
			if _, err := time.ParseDuration(c.Artifacts.S3.PresignExpiry); err != nil {
				return fmt.Errorf("parsing artifacts presign_expiry: %w", err)
			}
		}
	}

	for _, raw := range []string{c.Embedding.Timeout, c.LLM.Timeout} {
		if raw == "" {
			continue
		}

		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("parsing timeout %q: %w", raw, err)
		}
	}

	return nil
}

// EmbeddingTimeout returns the parsed embedding call timeout.
func (c *Config) EmbeddingTimeout() time.Duration {
	d, err := time.ParseDuration(c.Embedding.Timeout)
	if err != nil {
		return 30 * time.Second
	}

	return d
}

// LLMTimeout returns the parsed LLM call timeout.
func (c *Config) LLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 60 * time.Second
	}

	return d
}
