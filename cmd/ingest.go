package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/tidegraph/tidegraph/internal/app"
	"github.com/tidegraph/tidegraph/internal/config"
)

// runIngest fetches a web page into the retrieval corpus.
func runIngest(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: tidegraph ingest <url>")
	}
	url := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	docID, err := a.Ingestor.IngestURL(ctx, url)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", url, err)
	}

	fmt.Printf("ingested %s as document %s\n", url, docID)
	return nil
}
