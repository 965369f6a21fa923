package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trellishq/trellis/db"
	"github.com/trellishq/trellis/internal/chunker"
	"github.com/trellishq/trellis/internal/config"
	"github.com/trellishq/trellis/internal/database"
	"github.com/trellishq/trellis/internal/embedding"
	"github.com/trellishq/trellis/internal/index"
	"github.com/trellishq/trellis/internal/ingest"
	"github.com/trellishq/trellis/internal/knowledge"
	"github.com/trellishq/trellis/internal/log"
	"github.com/trellishq/trellis/internal/observability"
	"github.com/trellishq/trellis/internal/retrieval"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	provider, err := embedding.NewGoogle(ctx, cfg.EmbedderModel, cfg.EmbedderDimension,
		cfg.EmbedderRateLimit, logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	a.Provider = provider

	// Pay the model cold-start now rather than on the first live request.
	go warmProvider(ctx, provider, logger)

	a.Knowledge = knowledge.New(pool, logger)
	a.Index = index.New(cfg.EmbedderDimension, cfg.IndexFlatThreshold, logger)

	a.Orchestrator = retrieval.New(provider, indexSearcher{a.Index}, a.Knowledge, retrieval.Config{
		CacheTTL:         cfg.CacheTTL,
		CacheMaxEntries:  cfg.CacheMaxEntries,
		SimilarityWeight: cfg.SimilarityWeight,
		TypeWeight:       cfg.TypeWeight,
	}, logger)

	a.Ingestor = ingest.New(provider, a.Knowledge, a.Index, a.Orchestrator, ingest.Config{
		Chunk: chunker.Options{
			TargetTokens:  cfg.ChunkTargetTokens,
			OverlapTokens: cfg.ChunkOverlapTokens,
			MinTokens:     cfg.ChunkMinTokens,
		},
		RebuildWarnAfter: cfg.RebuildWarnAfter,
	}, logger)

	if err := provideIndexContents(ctx, a); err != nil {
		return nil, err
	}

	return a, nil
}

// indexSearcher adapts the vector index to the orchestrator's Searcher.
type indexSearcher struct {
	ix *index.Index
}

func (s indexSearcher) Search(vector []float32, k int) ([]retrieval.Hit, error) {
	results, err := s.ix.Search(vector, k)
	if err != nil {
		return nil, err
	}
	hits := make([]retrieval.Hit, len(results))
	for i, r := range results {
		hits[i] = retrieval.Hit{ChunkID: r.ChunkID, Distance: r.Distance}
	}
	return hits, nil
}

// warmProvider runs one embedding so lazy model-loading cost is paid at
// startup. Failures are logged, never fatal; callers run it in a goroutine.
func warmProvider(ctx context.Context, p embedding.Provider, logger log.Logger) {
	if err := embedding.Warmup(ctx, p); err != nil {
		logger.Warn("embedding warmup failed", "error", err)
	}
}

// provideOtelShutdown sets up tracing. Failures disable tracing but never
// block startup; the returned cleanup flushes pending spans.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName,
	}, logger)
	if err != nil {
		logger.Warn("tracing setup failed, tracing disabled", "error", err)
		return func() {}
	}

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool connects to PostgreSQL and applies pending migrations.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	connString := cfg.ConnString()

	if err := db.Migrate(connString); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return pool, nil
}

// provideIndexContents restores the persisted index or, when no usable
// copy exists, rebuilds it from the store. A failed rebuild on an empty
// database is not fatal; the index simply starts cold.
func provideIndexContents(ctx context.Context, a *App) error {
	loaded, err := a.Index.Load(a.Config.IndexPath)
	if err != nil {
		return fmt.Errorf("loading persisted index: %w", err)
	}
	if loaded {
		a.logger.Info("vector index restored from disk", "entries", a.Index.Size())
		return nil
	}

	if err := a.Ingestor.RebuildIndex(ctx); err != nil {
		return fmt.Errorf("initial index rebuild: %w", err)
	}
	a.logger.Info("vector index rebuilt from store", "entries", a.Index.Size())
	return nil
}
