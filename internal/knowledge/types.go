package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// Access level constants for documents. An access level is a coarse
// visibility tag restricting which caller roles may see chunks derived
// from the document.
const (
	// AccessPublic marks documents visible to every caller.
	AccessPublic = "public"

	// AccessCustomer marks documents visible to customer-facing callers.
	AccessCustomer = "customer"

	// AccessPlatform marks internal platform documents.
	AccessPlatform = "platform"
)

// MetaEmbeddingModel is the chunk metadata key holding the embedding model
// version tag. Chunks whose tag differs from the live model are excluded
// from index rebuilds until re-embedded.
const MetaEmbeddingModel = "embedding_model"

// Document is a named unit of source content. Created on ingestion and
// never mutated except metadata patches; deletion cascades to its chunks.
type Document struct {
	ID          uuid.UUID
	Title       string
	DocType     string
	TenantID    *string // nil means globally visible
	StoreID     *string // nil means globally visible
	SourceTable *string // optional provenance
	AccessLevel string
	Metadata    map[string]string
	CreatedAt   time.Time
}

// Chunk is a contiguous slice of a document's text, the atomic unit of
// retrieval. Embedding length must match the configured provider dimension.
type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Content    string
	Index      int
	Embedding  []float32
	Metadata   map[string]string
}

// ChunkRow is a chunk with its parent document's fields denormalized in,
// returned by FetchChunksByIDs in a single round trip so retrieval needs
// no second lookup for filtering or display.
type ChunkRow struct {
	ChunkID     uuid.UUID
	DocumentID  uuid.UUID
	Content     string
	Index       int
	Metadata    map[string]string
	Title       string
	DocType     string
	TenantID    *string
	StoreID     *string
	AccessLevel string
}

// Embedding pairs a chunk id with its vector, used only by index rebuilds.
type Embedding struct {
	ChunkID uuid.UUID
	Vector  []float32
}

// Filter restricts a chunk fetch. Zero-value fields are not applied, except
// AccessLevels which callers must always set: an empty AccessLevels list
// matches nothing (fail closed).
type Filter struct {
	TenantID     *string
	StoreID      *string
	DocTypes     []string
	AccessLevels []string
}
