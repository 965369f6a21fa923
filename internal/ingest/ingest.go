// Package ingest feeds documents into the knowledge base: chunking,
// embedding, durable insert, and the index rebuild that makes the new
// content searchable.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trellishq/trellis/internal/chunker"
	"github.com/trellishq/trellis/internal/index"
	"github.com/trellishq/trellis/internal/knowledge"
	"github.com/trellishq/trellis/internal/log"
)

// ErrEmptyDocument rejects ingestion requests whose content produces no
// chunks.
var ErrEmptyDocument = errors.New("ingest: document has no content")

// Embedder embeds chunk contents in batch. Model tags stored chunks so
// stale embeddings are excluded after a model upgrade.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Store is the durable side of ingestion.
type Store interface {
	InsertDocument(ctx context.Context, doc knowledge.Document) (uuid.UUID, error)
	InsertChunks(ctx context.Context, documentID uuid.UUID, chunks []knowledge.Chunk) error
	DeleteDocument(ctx context.Context, documentID uuid.UUID) error
	FetchAllEmbeddings(ctx context.Context, model string) ([]knowledge.Embedding, error)
}

// Rebuilder atomically replaces the vector index contents.
type Rebuilder interface {
	Rebuild(entries []index.Entry) error
}

// CachePurger invalidates cached retrieval results after a rebuild.
type CachePurger interface {
	InvalidateCache()
}

// Config tunes ingestion.
type Config struct {
	Chunk chunker.Options

	// RebuildWarnAfter logs a warning when an index rebuild exceeds this
	// duration. Rebuilds are not cancellable once started.
	RebuildWarnAfter time.Duration
}

// Ingestor coordinates document ingestion and index maintenance.
type Ingestor struct {
	embedder Embedder
	store    Store
	idx      Rebuilder
	purger   CachePurger
	cfg      Config
	logger   log.Logger
}

// New wires an Ingestor from its collaborators.
func New(embedder Embedder, store Store, idx Rebuilder, purger CachePurger, cfg Config, logger log.Logger) *Ingestor {
	return &Ingestor{
		embedder: embedder,
		store:    store,
		idx:      idx,
		purger:   purger,
		cfg:      cfg,
		logger:   logger.With("component", "ingest"),
	}
}

// AddDocumentRequest describes one free-text document to ingest.
type AddDocumentRequest struct {
	Content     string
	Title       string
	DocType     string
	TenantID    *string
	StoreID     *string
	SourceTable *string
	AccessLevel string
	Metadata    map[string]string
}

// AddDocument chunks, embeds, and persists a document, then rebuilds the
// index so the document is searchable when the call returns.
func (in *Ingestor) AddDocument(ctx context.Context, req AddDocumentRequest) (uuid.UUID, error) {
	pieces := chunker.Split(req.Content, in.cfg.Chunk)
	if len(pieces) == 0 {
		return uuid.Nil, ErrEmptyDocument
	}
	return in.ingest(ctx, knowledge.Document{
		Title:       req.Title,
		DocType:     req.DocType,
		TenantID:    req.TenantID,
		StoreID:     req.StoreID,
		SourceTable: req.SourceTable,
		AccessLevel: req.AccessLevel,
		Metadata:    req.Metadata,
	}, pieces)
}

// AddRecordRequest describes one structured record (a catalog row, say)
// to ingest via field-group chunking.
type AddRecordRequest struct {
	Record      map[string]string
	Title       string
	DocType     string
	Important   []string
	Groups      []chunker.FieldGroup
	TenantID    *string
	StoreID     *string
	SourceTable *string
	AccessLevel string
	Metadata    map[string]string
}

// AddRecord ingests a structured record as one document whose chunks
// follow the record's field groups.
func (in *Ingestor) AddRecord(ctx context.Context, req AddRecordRequest) (uuid.UUID, error) {
	pieces := chunker.SplitRecord(req.Record, req.Title, req.Important, req.Groups)
	if len(pieces) == 0 {
		return uuid.Nil, ErrEmptyDocument
	}
	return in.ingest(ctx, knowledge.Document{
		Title:       req.Title,
		DocType:     req.DocType,
		TenantID:    req.TenantID,
		StoreID:     req.StoreID,
		SourceTable: req.SourceTable,
		AccessLevel: req.AccessLevel,
		Metadata:    req.Metadata,
	}, pieces)
}

func (in *Ingestor) ingest(ctx context.Context, doc knowledge.Document, pieces []chunker.Piece) (uuid.UUID, error) {
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}
	vectors, err := in.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return uuid.Nil, fmt.Errorf("embedding %d chunks: %w", len(texts), err)
	}

	chunks := make([]knowledge.Chunk, len(pieces))
	for i, p := range pieces {
		metadata := map[string]string{knowledge.MetaEmbeddingModel: in.embedder.Model()}
		for k, v := range p.Metadata {
			metadata[k] = v
		}
		chunks[i] = knowledge.Chunk{
			Content:   p.Content,
			Index:     p.Index,
			Embedding: vectors[i],
			Metadata:  metadata,
		}
	}

	docID, err := in.store.InsertDocument(ctx, doc)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting document: %w", err)
	}
	if err := in.store.InsertChunks(ctx, docID, chunks); err != nil {
		// Remove the chunkless document so retrieval never sees a half
		// ingested state.
		if delErr := in.store.DeleteDocument(context.WithoutCancel(ctx), docID); delErr != nil {
			in.logger.Error("failed to clean up document after chunk insert failure",
				"document_id", docID, "error", delErr)
		}
		return uuid.Nil, fmt.Errorf("inserting chunks: %w", err)
	}

	if err := in.RebuildIndex(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("document %s stored but not yet searchable: %w", docID, err)
	}

	in.logger.Info("document ingested", "document_id", docID, "doc_type", doc.DocType, "chunks", len(chunks))
	return docID, nil
}

// RemoveDocument deletes a document (cascading to its chunks) and rebuilds
// the index so the deleted chunks stop surfacing.
func (in *Ingestor) RemoveDocument(ctx context.Context, documentID uuid.UUID) error {
	if err := in.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if err := in.RebuildIndex(ctx); err != nil {
		return fmt.Errorf("document %s deleted but index not yet rebuilt: %w", documentID, err)
	}
	in.logger.Info("document removed", "document_id", documentID)
	return nil
}

// RebuildIndex reloads every live embedding for the current model and
// swaps it into the index, then purges the result cache. Used after every
// ingestion change and at cold start when no persisted index exists.
func (in *Ingestor) RebuildIndex(ctx context.Context) error {
	embeddings, err := in.store.FetchAllEmbeddings(ctx, in.embedder.Model())
	if err != nil {
		return fmt.Errorf("fetching embeddings for rebuild: %w", err)
	}

	entries := make([]index.Entry, len(embeddings))
	for i, e := range embeddings {
		entries[i] = index.Entry{ChunkID: e.ChunkID, Vector: e.Vector}
	}

	start := time.Now()
	if err := in.idx.Rebuild(entries); err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}
	if elapsed := time.Since(start); in.cfg.RebuildWarnAfter > 0 && elapsed > in.cfg.RebuildWarnAfter {
		in.logger.Warn("index rebuild exceeded expected duration",
			"elapsed", elapsed, "threshold", in.cfg.RebuildWarnAfter, "entries", len(entries))
	}

	in.purger.InvalidateCache()
	return nil
}
