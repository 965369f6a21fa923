package embedding

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/trellishq/trellis/internal/log"
)

// maxBatchSize is the per-request limit of the Gemini embedContent API.
// Larger batches are split and re-assembled in input order.
const maxBatchSize = 100

// Google is a Provider backed by the Gemini embedding API.
//
// A rate limiter smooths bursty ingestion so batch embedding of a large
// document does not trip the API quota shared with live query traffic.
type Google struct {
	client  *genai.Client
	model   string
	dim     int
	limiter *rate.Limiter
	logger  log.Logger
}

// NewGoogle creates a Gemini-backed embedding provider.
// The API key is read from the GEMINI_API_KEY environment variable by the
// genai client itself. requestsPerSecond of 0 disables rate limiting.
func NewGoogle(ctx context.Context, model string, dim int, requestsPerSecond float64, logger log.Logger) (*Google, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}

	return &Google{
		client:  client,
		model:   model,
		dim:     dim,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("component", "embedding"),
	}, nil
}

// Embed implements Provider. Single-text embeds serve the query path and use
// the RETRIEVAL_QUERY task type.
func (g *Google) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	vecs, err := g.embedContents(ctx, genai.Text(text), "RETRIEVAL_QUERY")
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Provider. Batch embeds serve the ingest path and use
// the RETRIEVAL_DOCUMENT task type. Input order is preserved.
func (g *Google) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("text %d: %w", i, ErrEmptyText)
		}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := min(start+maxBatchSize, len(texts))

		contents := make([]*genai.Content, 0, end-start)
		for _, text := range texts[start:end] {
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}

		vecs, err := g.embedContents(ctx, contents, "RETRIEVAL_DOCUMENT")
		if err != nil {
			return nil, fmt.Errorf("batch [%d:%d]: %w", start, end, err)
		}
		out = append(out, vecs...)
	}

	return out, nil
}

// embedContents issues one embedContent call and normalizes the results.
func (g *Google) embedContents(ctx context.Context, contents []*genai.Content, taskType string) ([][]float32, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	dim := int32(g.dim) // #nosec G115 -- dimension validated in config (1..4096)
	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
		TaskType:             taskType,
	})
	if err != nil {
		g.logger.Error("embed content failed", "model", g.model, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Embeddings) != len(contents) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			ErrUnavailable, len(resp.Embeddings), len(contents))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if len(e.Values) != g.dim {
			return nil, fmt.Errorf("embedding %d: got %d dimensions, want %d", i, len(e.Values), g.dim)
		}
		out[i] = normalize(e.Values)
	}
	return out, nil
}

// Dimension implements Provider.
func (g *Google) Dimension() int { return g.dim }

// Model implements Provider.
func (g *Google) Model() string { return g.model }
