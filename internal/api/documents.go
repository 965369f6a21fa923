package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/trellishq/trellis/internal/index"
	"github.com/trellishq/trellis/internal/ingest"
	"github.com/trellishq/trellis/internal/knowledge"
	"github.com/trellishq/trellis/internal/log"
)

// DocumentIngestor manages documents. Satisfied by *ingest.Ingestor.
type DocumentIngestor interface {
	AddDocument(ctx context.Context, req ingest.AddDocumentRequest) (uuid.UUID, error)
	RemoveDocument(ctx context.Context, documentID uuid.UUID) error
}

// DocumentsHandler handles document ingestion endpoints.
type DocumentsHandler struct {
	ingestor DocumentIngestor
	logger   log.Logger
}

// NewDocumentsHandler creates a new documents handler.
func NewDocumentsHandler(ingestor DocumentIngestor, logger log.Logger) *DocumentsHandler {
	return &DocumentsHandler{ingestor: ingestor, logger: logger}
}

// RegisterRoutes registers document routes on the given mux.
func (h *DocumentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/documents", h.add)
	mux.HandleFunc("DELETE /api/documents/{id}", h.remove)
}

type addDocumentRequest struct {
	Content      string            `json:"content"`
	Title        string            `json:"title"`
	DocumentType string            `json:"document_type"`
	TenantID     *string           `json:"tenant_id,omitempty"`
	StoreID      *string           `json:"store_id,omitempty"`
	SourceTable  *string           `json:"source_table,omitempty"`
	AccessLevel  string            `json:"access_level,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type addDocumentResponse struct {
	DocumentID uuid.UUID `json:"document_id"`
}

func (h *DocumentsHandler) add(w http.ResponseWriter, r *http.Request) {
	var req addDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}
	if req.DocumentType == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "document_type is required")
		return
	}

	docID, err := h.ingestor.AddDocument(r.Context(), ingest.AddDocumentRequest{
		Content:     req.Content,
		Title:       req.Title,
		DocType:     req.DocumentType,
		TenantID:    req.TenantID,
		StoreID:     req.StoreID,
		SourceTable: req.SourceTable,
		AccessLevel: req.AccessLevel,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.writeIngestError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, addDocumentResponse{DocumentID: docID})
}

func (h *DocumentsHandler) remove(w http.ResponseWriter, r *http.Request) {
	docID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "document id must be a UUID")
		return
	}

	if err := h.ingestor.RemoveDocument(r.Context(), docID); err != nil {
		h.writeIngestError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentsHandler) writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrEmptyDocument):
		writeError(w, http.StatusBadRequest, "empty_document", "document content produced no chunks")
	case errors.Is(err, knowledge.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "document does not exist")
	case errors.Is(err, index.ErrRebuildInProgress):
		writeError(w, http.StatusConflict, "rebuild_in_progress",
			"an index rebuild is already running, retry shortly")
	case errors.Is(err, knowledge.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable",
			"knowledge store is unavailable")
	default:
		h.logger.Error("ingestion request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "ingest_failed", "ingestion failed")
	}
}
