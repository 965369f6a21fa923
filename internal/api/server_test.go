package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trellishq/trellis/internal/config"
	"github.com/trellishq/trellis/internal/log"
)

func TestServerDefaultAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:3500", DefaultAddr)
	assert.Equal(t, config.DefaultServeAddr, DefaultAddr)
}

func TestServerRoutes(t *testing.T) {
	s := NewServer(nil, &stubRetriever{}, &stubIngestor{}, log.NewNop())
	handler := s.Handler()

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{name: "liveness", method: http.MethodGet, path: "/health", wantStatus: http.StatusOK},
		{name: "readiness without pool", method: http.MethodGet, path: "/ready", wantStatus: http.StatusServiceUnavailable},
		{name: "retrieve wrong method", method: http.MethodGet, path: "/api/retrieve", wantStatus: http.StatusMethodNotAllowed},
		{name: "unknown route", method: http.MethodGet, path: "/nope", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
