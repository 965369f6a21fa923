package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellishq/trellis/internal/log"
	"github.com/trellishq/trellis/internal/retrieval"
)

type stubRetriever struct {
	resp    *retrieval.Response
	err     error
	lastReq retrieval.Request
}

func (s *stubRetriever) Retrieve(_ context.Context, req retrieval.Request) (*retrieval.Response, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func newRetrieveMux(retriever Retriever) *http.ServeMux {
	mux := http.NewServeMux()
	NewRetrieveHandler(retriever, log.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestRetrieveHandler_OK(t *testing.T) {
	retriever := &stubRetriever{resp: &retrieval.Response{
		Results: []retrieval.Result{{
			ChunkID:    uuid.New(),
			DocumentID: uuid.New(),
			Content:    "Blue Dream is a hybrid.",
			Title:      "Blue Dream",
			DocType:    "product",
			Similarity: 0.92,
			FinalScore: 0.94,
		}},
	}}
	mux := newRetrieveMux(retriever)

	body := `{"query": "hybrid strains", "top_k": 3, "caller_role": "dispensary", "document_types": ["product"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/retrieve", strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp retrieval.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Blue Dream", resp.Results[0].Title)
	assert.False(t, resp.FromCache)

	assert.Equal(t, "hybrid strains", retriever.lastReq.Query)
	assert.Equal(t, 3, retriever.lastReq.TopK)
	assert.Equal(t, "dispensary", retriever.lastReq.CallerRole)
	assert.Equal(t, []string{"product"}, retriever.lastReq.DocTypes)
}

func TestRetrieveHandler_BadJSON(t *testing.T) {
	mux := newRetrieveMux(&stubRetriever{})

	req := httptest.NewRequest(http.MethodPost, "/api/retrieve", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRetrieveHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "invalid input", err: retrieval.ErrInvalidInput, wantStatus: http.StatusBadRequest},
		{name: "embedding down", err: retrieval.ErrEmbeddingUnavailable, wantStatus: http.StatusServiceUnavailable},
		{name: "store down", err: retrieval.ErrStoreUnavailable, wantStatus: http.StatusServiceUnavailable},
		{name: "cancelled", err: context.Canceled, wantStatus: http.StatusRequestTimeout},
		{name: "other failure", err: retrieval.ErrRetrievalFailed, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newRetrieveMux(&stubRetriever{err: tt.err})

			req := httptest.NewRequest(http.MethodPost, "/api/retrieve", strings.NewReader(`{"query": "q"}`))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}
