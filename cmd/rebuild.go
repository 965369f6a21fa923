package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trellishq/trellis/internal/app"
	"github.com/trellishq/trellis/internal/config"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the vector index from the knowledge store",
	Long: `Rebuild discards the in-memory vector index, reconstructs it from every
live chunk embedding in the knowledge store, and persists the result.
Useful after an embedding model upgrade or external database changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRebuild()
	},
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Warn("shutdown error", "error", closeErr)
		}
	}()

	// Setup may have restored a stale persisted copy; force a fresh build.
	if err := a.Ingestor.RebuildIndex(ctx); err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}
	if err := a.Index.Persist(cfg.IndexPath); err != nil {
		return fmt.Errorf("persisting index: %w", err)
	}

	fmt.Printf("index rebuilt with %d entries\n", a.Index.Size())
	return nil
}
