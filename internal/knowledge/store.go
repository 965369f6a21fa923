// Package knowledge persists documents and their embedded chunks in
// PostgreSQL with pgvector, and serves the denormalized fetches the
// retrieval core needs.
//
// The store is the source of truth for existence: the in-memory vector
// index is rebuilt from it and may briefly reference chunks the store has
// already lost. Callers treat such dangling references as absent, not as
// errors.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/trellishq/trellis/internal/log"
)

var (
	// ErrUnavailable indicates the database is unreachable. Retryable.
	ErrUnavailable = errors.New("knowledge: store unavailable")

	// ErrNotFound indicates the referenced document does not exist.
	ErrNotFound = errors.New("knowledge: not found")
)

// DB is the subset of pgxpool.Pool the store depends on.
// Interfaces are defined by the consumer; *pgxpool.Pool satisfies this.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Store manages documents and chunks in PostgreSQL.
// Safe for concurrent use; the pool handles connection lifecycle.
type Store struct {
	db     DB
	logger log.Logger
}

// New creates a Store. logger must not be nil.
func New(db DB, logger log.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With("component", "knowledge"),
	}
}

// InsertDocument persists a document and returns its generated id.
// The caller-provided ID is honored when non-zero (re-ingestion paths).
func (s *Store) InsertDocument(ctx context.Context, doc Document) (uuid.UUID, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	if doc.AccessLevel == "" {
		doc.AccessLevel = AccessPublic
	}

	metadata, err := json.Marshal(orEmpty(doc.Metadata))
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshaling document metadata: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO documents (id, title, doc_type, tenant_id, store_id, source_table, access_level, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		doc.ID, doc.Title, doc.DocType, doc.TenantID, doc.StoreID,
		doc.SourceTable, doc.AccessLevel, metadata, doc.CreatedAt)
	if err != nil {
		return uuid.Nil, s.wrapErr("inserting document", err)
	}

	s.logger.Debug("inserted document", "id", doc.ID, "doc_type", doc.DocType)
	return doc.ID, nil
}

// InsertChunks persists all chunks of a document in one transaction,
// all-or-nothing. Chunk ids are generated when zero.
func (s *Store) InsertChunks(ctx context.Context, documentID uuid.UUID, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return s.wrapErr("beginning chunk insert", err)
	}
	defer func() {
		// Rollback is a no-op after Commit.
		_ = tx.Rollback(ctx)
	}()

	for i, chunk := range chunks {
		if chunk.ID == uuid.Nil {
			chunk.ID = uuid.New()
		}
		metadata, err := json.Marshal(orEmpty(chunk.Metadata))
		if err != nil {
			return fmt.Errorf("marshaling chunk %d metadata: %w", i, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO chunks (id, document_id, content, chunk_index, embedding, metadata)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			chunk.ID, documentID, chunk.Content, chunk.Index,
			pgvector.NewVector(chunk.Embedding), metadata)
		if err != nil {
			return s.wrapErr(fmt.Sprintf("inserting chunk %d", i), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return s.wrapErr("committing chunk insert", err)
	}

	s.logger.Debug("inserted chunks", "document_id", documentID, "count", len(chunks))
	return nil
}

// FetchChunksByIDs returns denormalized rows for the given chunk ids in a
// single round trip, restricted by the filter. Ids absent from the store
// are silently missing from the result.
func (s *Store) FetchChunksByIDs(ctx context.Context, ids []uuid.UUID, f Filter) ([]ChunkRow, error) {
	if len(ids) == 0 || len(f.AccessLevels) == 0 {
		return nil, nil
	}

	query := `
		SELECT c.id, c.document_id, c.content, c.chunk_index, c.metadata,
		       d.title, d.doc_type, d.tenant_id, d.store_id, d.access_level
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.id = ANY($1) AND d.access_level = ANY($2)`
	args := []any{ids, f.AccessLevels}

	// NULL tenant/store means globally visible, so those rows always pass.
	if f.TenantID != nil {
		args = append(args, *f.TenantID)
		query += fmt.Sprintf(" AND (d.tenant_id IS NULL OR d.tenant_id = $%d)", len(args))
	}
	if f.StoreID != nil {
		args = append(args, *f.StoreID)
		query += fmt.Sprintf(" AND (d.store_id IS NULL OR d.store_id = $%d)", len(args))
	}
	if len(f.DocTypes) > 0 {
		args = append(args, f.DocTypes)
		query += fmt.Sprintf(" AND d.doc_type = ANY($%d)", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, s.wrapErr("fetching chunks", err)
	}
	defer rows.Close()

	var out []ChunkRow
	for rows.Next() {
		var row ChunkRow
		var metadata []byte
		if err := rows.Scan(&row.ChunkID, &row.DocumentID, &row.Content, &row.Index, &metadata,
			&row.Title, &row.DocType, &row.TenantID, &row.StoreID, &row.AccessLevel); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		if err := json.Unmarshal(metadata, &row.Metadata); err != nil {
			s.logger.Warn("failed to parse chunk metadata", "chunk_id", row.ChunkID, "error", err)
			row.Metadata = map[string]string{}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrapErr("iterating chunk rows", err)
	}

	return out, nil
}

// FetchAllEmbeddings returns every live chunk embedding tagged with the
// given model, for index rebuilds. The read runs in a repeatable-read
// snapshot so chunks inserted mid-iteration never appear half-written.
func (s *Store) FetchAllEmbeddings(ctx context.Context, model string) ([]Embedding, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, s.wrapErr("beginning embedding snapshot", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `
		SELECT id, embedding
		FROM chunks
		WHERE metadata->>$1 = $2
		ORDER BY id`,
		MetaEmbeddingModel, model)
	if err != nil {
		return nil, s.wrapErr("querying embeddings", err)
	}
	defer rows.Close()

	var out []Embedding
	for rows.Next() {
		var e Embedding
		var vec pgvector.Vector
		if err := rows.Scan(&e.ChunkID, &vec); err != nil {
			return nil, fmt.Errorf("scanning embedding row: %w", err)
		}
		e.Vector = vec.Slice()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrapErr("iterating embedding rows", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, s.wrapErr("closing embedding snapshot", err)
	}

	s.logger.Debug("fetched embedding snapshot", "model", model, "count", len(out))
	return out, nil
}

// DeleteDocument removes a document; the chunks foreign key cascades.
func (s *Store) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return s.wrapErr("deleting document", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deleting document %s: %w", documentID, ErrNotFound)
	}

	s.logger.Debug("deleted document", "id", documentID)
	return nil
}

// CountChunks returns the number of stored chunks.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0, s.wrapErr("counting chunks", err)
	}
	return count, nil
}

// wrapErr classifies database failures. Server-side errors (constraint
// violations, bad SQL) pass through; anything else, typically a connection
// failure, wraps ErrUnavailable so callers can retry with backoff.
func (s *Store) wrapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
