package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/trellishq/trellis/internal/log"
	"github.com/trellishq/trellis/internal/retrieval"
)

// Retriever runs retrieval queries. Satisfied by *retrieval.Orchestrator.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Response, error)
}

// RetrieveHandler handles the retrieval endpoint.
type RetrieveHandler struct {
	retriever Retriever
	logger    log.Logger
}

// NewRetrieveHandler creates a new retrieve handler.
func NewRetrieveHandler(retriever Retriever, logger log.Logger) *RetrieveHandler {
	return &RetrieveHandler{retriever: retriever, logger: logger}
}

// RegisterRoutes registers retrieval routes on the given mux.
func (h *RetrieveHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/retrieve", h.retrieve)
}

type retrieveRequest struct {
	Query         string   `json:"query"`
	TopK          int      `json:"top_k,omitempty"`
	TenantID      *string  `json:"tenant_id,omitempty"`
	StoreID       *string  `json:"store_id,omitempty"`
	CallerRole    string   `json:"caller_role,omitempty"`
	DocumentTypes []string `json:"document_types,omitempty"`
}

func (h *RetrieveHandler) retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}

	resp, err := h.retriever.Retrieve(r.Context(), retrieval.Request{
		Query:      req.Query,
		TopK:       req.TopK,
		TenantID:   req.TenantID,
		StoreID:    req.StoreID,
		CallerRole: req.CallerRole,
		DocTypes:   req.DocumentTypes,
	})
	if err != nil {
		h.writeRetrievalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeRetrievalError maps the retrieval error taxonomy to HTTP statuses.
// Transient infrastructure failures become 503 so callers know to retry.
func (h *RetrieveHandler) writeRetrievalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, retrieval.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, retrieval.ErrEmbeddingUnavailable):
		writeError(w, http.StatusServiceUnavailable, "embedding_unavailable",
			"embedding provider is unavailable")
	case errors.Is(err, retrieval.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable",
			"knowledge store is unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, "cancelled", "request cancelled")
	default:
		h.logger.Error("retrieval request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "retrieval_failed",
			"retrieval system degraded")
	}
}
