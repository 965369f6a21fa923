// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.trellis/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Storage: PostgreSQL connection for the durable knowledge store
//   - Embedding: model name, output dimension, request rate limit
//   - Index: persistence path and rebuild thresholds
//   - Retrieval: cache TTL/size and re-ranking weights
//   - Chunking: token budgets for the sentence chunker
//
// Security: the PostgreSQL password is masked in MarshalJSON and String.
// Validation: range checks in validation.go, fail-fast on Load.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidEmbedderModel indicates the embedder model name is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedding dimension is out of range.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidCacheTTL indicates the cache TTL is not positive.
	ErrInvalidCacheTTL = errors.New("invalid cache TTL")

	// ErrInvalidCacheSize indicates the cache entry bound is not positive.
	ErrInvalidCacheSize = errors.New("invalid cache max entries")

	// ErrInvalidChunkSizes indicates the chunker token budgets are inconsistent.
	ErrInvalidChunkSizes = errors.New("invalid chunk sizes")

	// ErrInvalidRerankWeights indicates the re-ranking weights do not sum to 1.
	ErrInvalidRerankWeights = errors.New("invalid rerank weights")
)

// DefaultEmbedderModel is the default Gemini embedding model.
// gemini-embedding-001 supports truncation to 768 dimensions via
// OutputDimensionality; the chunks table vector column uses the same size.
const DefaultEmbedderModel = "gemini-embedding-001"

// DefaultEmbedderDimension matches the vector(768) column in db/migrations.
const DefaultEmbedderDimension = 768

// DefaultServeAddr is the default HTTP listen address. The api package
// aliases it so the server fallback and the config default cannot drift.
const DefaultServeAddr = "127.0.0.1:3500"

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON.
type Config struct {
	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Embedding provider configuration
	EmbedderModel     string  `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int     `mapstructure:"embedder_dimension" json:"embedder_dimension"`
	EmbedderRateLimit float64 `mapstructure:"embedder_rate_limit" json:"embedder_rate_limit"` // requests per second, 0 = unlimited

	// Vector index configuration
	IndexPath          string        `mapstructure:"index_path" json:"index_path"`
	IndexFlatThreshold int           `mapstructure:"index_flat_threshold" json:"index_flat_threshold"`
	RebuildWarnAfter   time.Duration `mapstructure:"rebuild_warn_after" json:"rebuild_warn_after"`

	// Retrieval configuration
	CacheTTL         time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
	CacheMaxEntries  int           `mapstructure:"cache_max_entries" json:"cache_max_entries"`
	SimilarityWeight float64       `mapstructure:"similarity_weight" json:"similarity_weight"`
	TypeWeight       float64       `mapstructure:"type_weight" json:"type_weight"`

	// Chunker configuration (whitespace-token budgets)
	ChunkTargetTokens  int `mapstructure:"chunk_target_tokens" json:"chunk_target_tokens"`
	ChunkOverlapTokens int `mapstructure:"chunk_overlap_tokens" json:"chunk_overlap_tokens"`
	ChunkMinTokens     int `mapstructure:"chunk_min_tokens" json:"chunk_min_tokens"`

	// Tracing configuration
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	Environment  string `mapstructure:"environment" json:"environment"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`

	// HTTP server configuration
	ServeAddr string `mapstructure:"serve_addr" json:"serve_addr"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".trellis")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper, configDir string) {
	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "trellis")
	v.SetDefault("postgres_password", "trellis_dev_password")
	v.SetDefault("postgres_db_name", "trellis")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Embedding defaults
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedder_dimension", DefaultEmbedderDimension)
	v.SetDefault("embedder_rate_limit", 10.0)

	// Index defaults
	v.SetDefault("index_path", filepath.Join(configDir, "index"))
	v.SetDefault("index_flat_threshold", 256)
	v.SetDefault("rebuild_warn_after", 30*time.Second)

	// Retrieval defaults
	v.SetDefault("cache_ttl", 5*time.Minute)
	v.SetDefault("cache_max_entries", 1024)
	v.SetDefault("similarity_weight", 0.7)
	v.SetDefault("type_weight", 0.3)

	// Chunker defaults
	v.SetDefault("chunk_target_tokens", 200)
	v.SetDefault("chunk_overlap_tokens", 30)
	v.SetDefault("chunk_min_tokens", 40)

	// Tracing defaults
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("environment", "dev")
	v.SetDefault("service_name", "trellis")

	// Server defaults
	v.SetDefault("serve_addr", DefaultServeAddr)
}

// bindEnvVariables binds environment variables explicitly.
// GEMINI_API_KEY is read directly by the genai client, not via viper.
func bindEnvVariables(v *viper.Viper) {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics it's a bug in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("postgres_password", "TRELLIS_POSTGRES_PASSWORD")
	mustBind("embedder_model", "TRELLIS_EMBEDDER_MODEL")
	mustBind("index_path", "TRELLIS_INDEX_PATH")
	mustBind("serve_addr", "TRELLIS_SERVE_ADDR")
	mustBind("otlp_endpoint", "TRELLIS_OTLP_ENDPOINT")
	mustBind("environment", "TRELLIS_ENV")
}

// ConnString returns the PostgreSQL connection URL for pgx and golang-migrate.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword,
		c.PostgresHost, c.PostgresPort,
		c.PostgresDBName, c.PostgresSSLMode)
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 characters
// or fewer are fully masked to prevent substring matching; longer secrets keep
// the first and last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
