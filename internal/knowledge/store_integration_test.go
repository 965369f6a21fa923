package knowledge

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellishq/trellis/internal/log"
	"github.com/trellishq/trellis/internal/testutil"
)

const testDim = 768

// testVector returns a deterministic 768-dim vector keyed by seed.
func testVector(seed float32) []float32 {
	v := make([]float32, testDim)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v
}

func strPtr(s string) *string { return &s }

func TestStoreDocumentLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := New(db.Pool, log.NewNop())

	docID, err := store.InsertDocument(ctx, Document{
		Title:       "Blue Dream 3.5g",
		DocType:     "product",
		TenantID:    strPtr("tenant-a"),
		StoreID:     strPtr("store-1"),
		AccessLevel: AccessPublic,
		Metadata:    map[string]string{"category": "flower"},
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, docID)

	chunks := []Chunk{
		{Content: "Blue Dream overview.", Index: 0, Embedding: testVector(0.1),
			Metadata: map[string]string{MetaEmbeddingModel: "gemini-embedding-001"}},
		{Content: "Potency details.", Index: 1, Embedding: testVector(0.2),
			Metadata: map[string]string{MetaEmbeddingModel: "gemini-embedding-001"}},
	}
	require.NoError(t, store.InsertChunks(ctx, docID, chunks))

	count, err := store.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	embeddings, err := store.FetchAllEmbeddings(ctx, "gemini-embedding-001")
	require.NoError(t, err)
	require.Len(t, embeddings, 2)
	assert.Len(t, embeddings[0].Vector, testDim)

	ids := []uuid.UUID{embeddings[0].ChunkID, embeddings[1].ChunkID}
	rows, err := store.FetchChunksByIDs(ctx, ids, Filter{AccessLevels: []string{AccessPublic}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Blue Dream 3.5g", rows[0].Title)
	assert.Equal(t, "product", rows[0].DocType)
	assert.Equal(t, "gemini-embedding-001", rows[0].Metadata[MetaEmbeddingModel])

	// Deletion cascades to chunks.
	require.NoError(t, store.DeleteDocument(ctx, docID))

	count, err = store.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	err = store.DeleteDocument(ctx, docID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreFetchFilters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := New(db.Pool, log.NewNop())

	insert := func(title, docType, access string, tenantID *string) uuid.UUID {
		t.Helper()
		docID, err := store.InsertDocument(ctx, Document{
			Title: title, DocType: docType, AccessLevel: access, TenantID: tenantID,
		})
		require.NoError(t, err)
		require.NoError(t, store.InsertChunks(ctx, docID, []Chunk{
			{Content: title + " chunk", Index: 0, Embedding: testVector(0.5),
				Metadata: map[string]string{MetaEmbeddingModel: "gemini-embedding-001"}},
		}))
		return docID
	}

	insert("global FAQ", "faq", AccessPublic, nil)
	insert("tenant A policy", "policy", AccessPublic, strPtr("tenant-a"))
	insert("tenant B policy", "policy", AccessPublic, strPtr("tenant-b"))
	insert("internal runbook", "runbook", AccessPlatform, nil)

	embeddings, err := store.FetchAllEmbeddings(ctx, "gemini-embedding-001")
	require.NoError(t, err)
	require.Len(t, embeddings, 4)
	allIDs := make([]uuid.UUID, len(embeddings))
	for i, e := range embeddings {
		allIDs[i] = e.ChunkID
	}

	titles := func(rows []ChunkRow) []string {
		out := make([]string, len(rows))
		for i, r := range rows {
			out[i] = r.Title
		}
		return out
	}

	t.Run("tenant filter passes global and own rows", func(t *testing.T) {
		rows, err := store.FetchChunksByIDs(ctx, allIDs, Filter{
			TenantID:     strPtr("tenant-a"),
			AccessLevels: []string{AccessPublic},
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"global FAQ", "tenant A policy"}, titles(rows))
	})

	t.Run("doc type filter", func(t *testing.T) {
		rows, err := store.FetchChunksByIDs(ctx, allIDs, Filter{
			DocTypes:     []string{"faq"},
			AccessLevels: []string{AccessPublic},
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"global FAQ"}, titles(rows))
	})

	t.Run("access levels gate platform rows", func(t *testing.T) {
		rows, err := store.FetchChunksByIDs(ctx, allIDs, Filter{
			AccessLevels: []string{AccessPublic, AccessPlatform},
		})
		require.NoError(t, err)
		assert.Len(t, rows, 4)
	})

	t.Run("empty access levels match nothing", func(t *testing.T) {
		rows, err := store.FetchChunksByIDs(ctx, allIDs, Filter{})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("unknown ids are silently absent", func(t *testing.T) {
		rows, err := store.FetchChunksByIDs(ctx, []uuid.UUID{uuid.New()}, Filter{
			AccessLevels: []string{AccessPublic},
		})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestStoreFetchAllEmbeddingsFiltersByModel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := New(db.Pool, log.NewNop())

	docID, err := store.InsertDocument(ctx, Document{Title: "doc", DocType: "note"})
	require.NoError(t, err)

	require.NoError(t, store.InsertChunks(ctx, docID, []Chunk{
		{Content: "current model", Index: 0, Embedding: testVector(1),
			Metadata: map[string]string{MetaEmbeddingModel: "gemini-embedding-001"}},
		{Content: "stale model", Index: 1, Embedding: testVector(2),
			Metadata: map[string]string{MetaEmbeddingModel: "old-model"}},
		{Content: "untagged", Index: 2, Embedding: testVector(3)},
	}))

	embeddings, err := store.FetchAllEmbeddings(ctx, "gemini-embedding-001")
	require.NoError(t, err)
	require.Len(t, embeddings, 1)
}

func TestStoreInsertChunksAtomic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := New(db.Pool, log.NewNop())

	docID, err := store.InsertDocument(ctx, Document{Title: "doc", DocType: "note"})
	require.NoError(t, err)

	// Duplicate chunk_index violates the unique constraint; the whole batch
	// must roll back.
	err = store.InsertChunks(ctx, docID, []Chunk{
		{Content: "first", Index: 0, Embedding: testVector(1)},
		{Content: "dup", Index: 0, Embedding: testVector(2)},
	})
	require.Error(t, err)

	count, err := store.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
