// Package api exposes the retrieval core over HTTP REST.
//
// Endpoints:
//
//	POST   /api/retrieve        → run a retrieval query
//	POST   /api/documents       → ingest a document
//	DELETE /api/documents/{id}  → remove a document
//	GET    /health              → liveness probe
//	GET    /ready               → readiness probe (pings the database)
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - health.go: health check endpoints
//   - retrieve.go: retrieval endpoint
//   - documents.go: ingestion endpoints
//   - response.go: JSON response helpers
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trellishq/trellis/internal/config"
	"github.com/trellishq/trellis/internal/log"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = config.DefaultServeAddr

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout = 60 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the trellis REST API.
type Server struct {
	mux *http.ServeMux

	health    *HealthHandler
	retrieve  *RetrieveHandler
	documents *DocumentsHandler
}

// NewServer creates an HTTP server with all routes registered.
func NewServer(pool *pgxpool.Pool, retriever Retriever, ingestor DocumentIngestor, logger log.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:       mux,
		health:    NewHealthHandler(pool, logger),
		retrieve:  NewRetrieveHandler(retriever, logger),
		documents: NewDocumentsHandler(ingestor, logger),
	}

	s.health.RegisterRoutes(mux)
	s.retrieve.RegisterRoutes(mux)
	s.documents.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware, loggingMiddleware)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
