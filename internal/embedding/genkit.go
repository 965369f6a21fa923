package embedding

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
)

// Genkit adapts a Genkit ai.Embedder to the Provider interface, so deployments
// already wired through Genkit plugins (Ollama, Vertex, OpenAI) can back the
// retrieval core without a dedicated provider implementation.
type Genkit struct {
	embedder ai.Embedder
	model    string
	dim      int
}

// FromGenkit wraps embedder as a Provider. model and dim describe the
// underlying embedding model since ai.Embedder does not expose them.
func FromGenkit(embedder ai.Embedder, model string, dim int) *Genkit {
	return &Genkit{embedder: embedder, model: model, dim: dim}
}

// Embed implements Provider.
func (g *Genkit) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	vecs, err := g.embedDocs(ctx, []*ai.Document{ai.DocumentFromText(text, nil)})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Provider.
func (g *Genkit) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	docs := make([]*ai.Document, len(texts))
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("text %d: %w", i, ErrEmptyText)
		}
		docs[i] = ai.DocumentFromText(text, nil)
	}
	return g.embedDocs(ctx, docs)
}

func (g *Genkit) embedDocs(ctx context.Context, docs []*ai.Document) ([][]float32, error) {
	resp, err := g.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Embeddings) != len(docs) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			ErrUnavailable, len(resp.Embeddings), len(docs))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) != g.dim {
			return nil, fmt.Errorf("embedding %d: got %d dimensions, want %d", i, len(e.Embedding), g.dim)
		}
		out[i] = normalize(e.Embedding)
	}
	return out, nil
}

// Dimension implements Provider.
func (g *Genkit) Dimension() int { return g.dim }

// Model implements Provider.
func (g *Genkit) Model() string { return g.model }
