package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Validate checks all configuration values and returns the first violation.
// Called by Load so an invalid configuration never reaches the application.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range [1, 65535]", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}

	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidEmbedderModel)
	}
	if c.EmbedderDimension < 1 || c.EmbedderDimension > 4096 {
		return fmt.Errorf("%w: dimension %d out of range [1, 4096]", ErrInvalidEmbedderDimension, c.EmbedderDimension)
	}

	if c.CacheTTL <= 0 {
		return fmt.Errorf("%w: ttl %s must be positive", ErrInvalidCacheTTL, c.CacheTTL)
	}
	if c.CacheMaxEntries <= 0 {
		return fmt.Errorf("%w: %d must be positive", ErrInvalidCacheSize, c.CacheMaxEntries)
	}

	if c.ChunkTargetTokens <= 0 {
		return fmt.Errorf("%w: target tokens %d must be positive", ErrInvalidChunkSizes, c.ChunkTargetTokens)
	}
	if c.ChunkOverlapTokens < 0 || c.ChunkOverlapTokens >= c.ChunkTargetTokens {
		return fmt.Errorf("%w: overlap %d must be in [0, target)", ErrInvalidChunkSizes, c.ChunkOverlapTokens)
	}
	if c.ChunkMinTokens < 0 || c.ChunkMinTokens > c.ChunkTargetTokens {
		return fmt.Errorf("%w: min tokens %d must be in [0, target]", ErrInvalidChunkSizes, c.ChunkMinTokens)
	}

	if c.SimilarityWeight < 0 || c.TypeWeight < 0 ||
		math.Abs(c.SimilarityWeight+c.TypeWeight-1.0) > 1e-9 {
		return fmt.Errorf("%w: similarity %.2f + type %.2f must sum to 1",
			ErrInvalidRerankWeights, c.SimilarityWeight, c.TypeWeight)
	}

	return nil
}

// parseDatabaseURL overrides the PostgreSQL settings from DATABASE_URL if set.
// The URL form takes priority over individual postgres_* keys so a single
// environment variable can point the service at another database.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidPostgresHost, u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if port := u.Port(); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidPostgresPort, port)
		}
		c.PostgresPort = p
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		c.PostgresDBName = db
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}

	return nil
}
