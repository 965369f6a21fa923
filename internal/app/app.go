// Package app provides application initialization and dependency wiring.
//
// App is the container holding every long-lived component: the database
// pool, the embedding provider, the knowledge store, the vector index, the
// retrieval orchestrator, and the ingestor. Components are constructed
// explicitly so tests can wire isolated instances.
package app

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trellishq/trellis/internal/config"
	"github.com/trellishq/trellis/internal/embedding"
	"github.com/trellishq/trellis/internal/index"
	"github.com/trellishq/trellis/internal/ingest"
	"github.com/trellishq/trellis/internal/knowledge"
	"github.com/trellishq/trellis/internal/log"
	"github.com/trellishq/trellis/internal/retrieval"
)

// App is the core application container.
type App struct {
	Config *config.Config

	DBPool       *pgxpool.Pool
	Provider     embedding.Provider
	Knowledge    *knowledge.Store
	Index        *index.Index
	Orchestrator *retrieval.Orchestrator
	Ingestor     *ingest.Ingestor

	logger      log.Logger
	otelCleanup func()
}

// Close releases all resources in reverse construction order. The index is
// persisted best-effort so the next start can skip the cold rebuild.
func (a *App) Close() error {
	a.logger.Info("shutting down application")

	if a.Index != nil && a.Config != nil {
		if err := a.Index.Persist(a.Config.IndexPath); err != nil {
			a.logger.Warn("failed to persist index on shutdown", "error", err)
		}
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		a.logger.Info("database pool closed")
	}

	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
