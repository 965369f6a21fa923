// Package retrieval turns a natural-language query into a ranked list of
// knowledge chunks.
//
// The pipeline per request: validate, consult the result cache, embed the
// query, search the vector index with over-fetch, hydrate and filter the
// candidates from the durable store, re-rank, cache, return. The index is
// best-effort; the store is the source of truth, so candidates the store
// no longer has are dropped silently.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/trellishq/trellis/internal/knowledge"
	"github.com/trellishq/trellis/internal/log"
)

const (
	// defaultTopK applies when a request leaves TopK unset.
	defaultTopK = 5

	// maxTopK bounds a single request's result count.
	maxTopK = 50

	// overFetchFactor over-requests index candidates to survive
	// post-filtering attrition.
	overFetchFactor = 2

	// storeRetryBackoff is the pause before the single store retry.
	storeRetryBackoff = 200 * time.Millisecond
)

// Hit is one vector-index match.
type Hit struct {
	ChunkID  uuid.UUID
	Distance float32
}

// Embedder produces the query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher performs k-nearest-neighbor search over indexed chunks.
type Searcher interface {
	Search(vector []float32, k int) ([]Hit, error)
}

// ChunkFetcher hydrates candidate chunk ids from the durable store,
// applying tenant, store, type, and access-level filters.
type ChunkFetcher interface {
	FetchChunksByIDs(ctx context.Context, ids []uuid.UUID, f knowledge.Filter) ([]knowledge.ChunkRow, error)
}

// Request is one retrieval call.
type Request struct {
	Query      string
	TopK       int
	TenantID   *string
	StoreID    *string
	CallerRole string
	DocTypes   []string
}

// Result is one ranked chunk.
type Result struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Content    string    `json:"content"`
	Title      string    `json:"title"`
	DocType    string    `json:"document_type"`
	Similarity float64   `json:"similarity_score"`
	FinalScore float64   `json:"final_score"`
}

// Response carries the ranked results and whether they came from cache.
type Response struct {
	Results   []Result `json:"results"`
	FromCache bool     `json:"from_cache"`
}

// Config tunes the orchestrator.
type Config struct {
	CacheTTL         time.Duration
	CacheMaxEntries  int
	SimilarityWeight float64
	TypeWeight       float64
}

// Orchestrator coordinates the retrieval pipeline. Safe for concurrent
// use; requests are independent.
type Orchestrator struct {
	embedder Embedder
	searcher Searcher
	fetcher  ChunkFetcher
	cache    *resultCache
	cfg      Config
	logger   log.Logger
	tracer   trace.Tracer
}

// New wires an orchestrator from its collaborators.
func New(embedder Embedder, searcher Searcher, fetcher ChunkFetcher, cfg Config, logger log.Logger) *Orchestrator {
	return &Orchestrator{
		embedder: embedder,
		searcher: searcher,
		fetcher:  fetcher,
		cache:    newResultCache(cfg.CacheMaxEntries, cfg.CacheTTL),
		cfg:      cfg,
		logger:   logger.With("component", "retrieval"),
		tracer:   otel.Tracer("github.com/trellishq/trellis/internal/retrieval"),
	}
}

// Retrieve runs the full pipeline for one query. A cold (never built or
// empty) index yields an empty result set, not an error, so callers can
// degrade gracefully.
func (o *Orchestrator) Retrieve(ctx context.Context, req Request) (*Response, error) {
	if normalizeQuery(req.Query) == "" {
		return nil, fmt.Errorf("empty query: %w", ErrInvalidInput)
	}
	if req.TopK <= 0 {
		req.TopK = defaultTopK
	}
	if req.TopK > maxTopK {
		req.TopK = maxTopK
	}

	key := cacheKey(req)

	ctx, span := o.tracer.Start(ctx, "retrieval.Retrieve", trace.WithAttributes(
		attribute.String("retrieval.cache_key", key[:12]),
		attribute.Int("retrieval.top_k", req.TopK),
		attribute.String("retrieval.caller_role", req.CallerRole),
	))
	defer span.End()

	if results, ok := o.cache.Get(key); ok {
		span.SetAttributes(attribute.Bool("retrieval.cache_hit", true))
		return &Response{Results: results, FromCache: true}, nil
	}

	results, err := o.retrieve(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieve failed")
		o.logger.Error("retrieval failed", "cache_key", key[:12], "error", err)
		return nil, err
	}

	o.cache.Add(key, results)
	span.SetAttributes(attribute.Int("retrieval.results", len(results)))
	return &Response{Results: results}, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, req Request) ([]Result, error) {
	vector, err := o.embedder.Embed(ctx, req.Query)
	if err != nil {
		if isContextError(err) {
			return nil, fmt.Errorf("embedding query: %w", err)
		}
		return nil, fmt.Errorf("embedding query: %w: %v", ErrEmbeddingUnavailable, err)
	}

	hits, err := o.searcher.Search(vector, overFetchFactor*req.TopK)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w: %v", ErrRetrievalFailed, err)
	}
	if len(hits) == 0 {
		return []Result{}, nil
	}

	ids := make([]uuid.UUID, len(hits))
	distance := make(map[uuid.UUID]float32, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
		distance[h.ChunkID] = h.Distance
	}

	filter := knowledge.Filter{
		TenantID:     req.TenantID,
		StoreID:      req.StoreID,
		DocTypes:     req.DocTypes,
		AccessLevels: levelsForRole(req.CallerRole),
	}
	rows, err := o.fetchWithRetry(ctx, ids, filter)
	if err != nil {
		return nil, err
	}

	// Preserve nearest-first order: walk the hits, not the rows.
	byID := make(map[uuid.UUID]knowledge.ChunkRow, len(rows))
	for _, row := range rows {
		byID[row.ChunkID] = row
	}
	results := make([]Result, 0, len(rows))
	for _, h := range hits {
		row, ok := byID[h.ChunkID]
		if !ok {
			// Indexed but filtered out or externally deleted.
			continue
		}
		results = append(results, Result{
			ChunkID:    row.ChunkID,
			DocumentID: row.DocumentID,
			Content:    row.Content,
			Title:      row.Title,
			DocType:    row.DocType,
			Similarity: similarityFromDistance(distance[row.ChunkID]),
		})
	}

	return rerank(results, o.cfg.SimilarityWeight, o.cfg.TypeWeight, req.TopK), nil
}

// fetchWithRetry retries an unavailable store once with backoff. Any other
// failure surfaces immediately.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, ids []uuid.UUID, f knowledge.Filter) ([]knowledge.ChunkRow, error) {
	rows, err := o.fetcher.FetchChunksByIDs(ctx, ids, f)
	if err == nil {
		return rows, nil
	}
	if !errors.Is(err, knowledge.ErrUnavailable) {
		if isContextError(err) {
			return nil, fmt.Errorf("fetching chunks: %w", err)
		}
		return nil, fmt.Errorf("fetching chunks: %w: %v", ErrRetrievalFailed, err)
	}

	o.logger.Warn("store fetch failed, retrying", "backoff", storeRetryBackoff, "error", err)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(storeRetryBackoff):
	}

	rows, err = o.fetcher.FetchChunksByIDs(ctx, ids, f)
	if err != nil {
		if isContextError(err) {
			return nil, fmt.Errorf("fetching chunks after retry: %w", err)
		}
		return nil, fmt.Errorf("fetching chunks after retry: %w: %v", ErrStoreUnavailable, err)
	}
	return rows, nil
}

// InvalidateCache drops every cached result. Called after an index rebuild
// so no response can mix pre- and post-rebuild rankings.
func (o *Orchestrator) InvalidateCache() {
	o.cache.Purge()
	o.logger.Debug("result cache purged")
}
