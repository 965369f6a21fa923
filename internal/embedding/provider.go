// Package embedding wraps text-embedding models behind a single Provider
// contract shared by indexing and retrieval.
//
// Every vector returned by a Provider is L2-normalized, so downstream cosine
// similarity degenerates to a dot product and Euclidean distance becomes a
// monotonic transform of it. The index and the re-ranker both depend on this.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmptyText indicates an embedding was requested for an empty string.
	ErrEmptyText = errors.New("embedding: empty text")

	// ErrUnavailable indicates the model call failed or timed out.
	ErrUnavailable = errors.New("embedding: provider unavailable")
)

// Provider generates fixed-dimension embeddings for text.
//
// Implementations must be safe for concurrent use. EmbedBatch preserves
// input order in its output. The dimension is fixed at construction time;
// changing it requires re-embedding every stored chunk, which is why the
// model name is surfaced for version tagging.
type Provider interface {
	// Embed returns the embedding for a single text (query path).
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one embedding per input text, in input order (ingest path).
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the fixed output vector length.
	Dimension() int

	// Model returns the model identifier used to tag stored embeddings.
	Model() string
}

// Warmup performs one dummy embedding so lazy model-loading cost is paid at
// startup rather than on the first real request. Callers typically run it in
// a background goroutine.
func Warmup(ctx context.Context, p Provider) error {
	if _, err := p.Embed(ctx, "warmup"); err != nil {
		return fmt.Errorf("embedding warmup: %w", err)
	}
	return nil
}

// normalize scales v to unit Euclidean length in place and returns it.
// A zero vector is returned unchanged since it has no direction to preserve.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// Func adapts a plain embedding function to the Provider interface.
// Used by tests and local model integrations.
type Func struct {
	model string
	dim   int
	fn    func(ctx context.Context, text string) ([]float32, error)
}

// NewFunc creates a Provider backed by fn. Outputs are validated against dim
// and normalized like any other provider's.
func NewFunc(model string, dim int, fn func(ctx context.Context, text string) ([]float32, error)) *Func {
	return &Func{model: model, dim: dim, fn: fn}
}

// Embed implements Provider.
func (f *Func) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	vec, err := f.fn(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(vec) != f.dim {
		return nil, fmt.Errorf("embedding: got %d dimensions, want %d", len(vec), f.dim)
	}
	return normalize(vec), nil
}

// EmbedBatch implements Provider.
func (f *Func) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := f.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimension implements Provider.
func (f *Func) Dimension() int { return f.dim }

// Model implements Provider.
func (f *Func) Model() string { return f.model }
