package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trellishq/trellis/internal/app"
	"github.com/trellishq/trellis/internal/config"
	"github.com/trellishq/trellis/internal/ingest"
)

var ingestFlags struct {
	title       string
	docType     string
	tenantID    string
	storeID     string
	accessLevel string
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a document into the knowledge base",
	Long: `Ingest reads a document from the given file (or stdin when no file is
given), chunks and embeds it, stores it durably, and rebuilds the vector
index so the document is immediately searchable.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(args)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFlags.title, "title", "", "document title")
	ingestCmd.Flags().StringVar(&ingestFlags.docType, "type", "note", "document type (product, faq, policy, ...)")
	ingestCmd.Flags().StringVar(&ingestFlags.tenantID, "tenant", "", "tenant id (empty means globally visible)")
	ingestCmd.Flags().StringVar(&ingestFlags.storeID, "store", "", "store id (empty means globally visible)")
	ingestCmd.Flags().StringVar(&ingestFlags.accessLevel, "access", "public", "access level (public, customer, platform)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(args []string) error {
	content, err := readIngestContent(args)
	if err != nil {
		return err
	}

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

	docID, err := a.Ingestor.AddDocument(ctx, ingest.AddDocumentRequest{
		Content:     content,
		Title:       ingestFlags.title,
		DocType:     ingestFlags.docType,
		TenantID:    optional(ingestFlags.tenantID),
		StoreID:     optional(ingestFlags.storeID),
		AccessLevel: ingestFlags.accessLevel,
	})
	if err != nil {
		return fmt.Errorf("ingesting document: %w", err)
	}

	fmt.Println(docID)
	return nil
}

func readIngestContent(args []string) (string, error) {
	if len(args) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", args[0], err)
	}
	return string(data), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
