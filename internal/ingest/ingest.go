// Package ingest pulls web pages into the retrieval corpus: fetch, extract
// the readable article, chunk, embed, store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/firebase/genkit/go/ai"
	readability "github.com/go-shiori/go-readability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidegraph/tidegraph/internal/llm"
)

const (
	maxResponseBytes = 10 << 20 // 10MB
	fetchTimeout     = 30 * time.Second
)

// ErrEmptyDocument is returned when a page yields no extractable text.
var ErrEmptyDocument = errors.New("ingest: no extractable text")

const (
	insertDocumentSQL = `
		INSERT INTO documents (id, name, source_uri)
		VALUES ($1, $2, $3)`

	insertChunkSQL = `
		INSERT INTO chunks (id, document_id, text, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5)`

	insertDataSourceSQL = `
		INSERT INTO data_sources (name, source_uri)
		VALUES ($1, $2)`
)

// Ingestor fetches pages and writes documents and embedded chunks.
type Ingestor struct {
	pool     *pgxpool.Pool
	embedder ai.Embedder
	client   *http.Client
	logger   *slog.Logger
}

// NewIngestor creates an ingestor. A nil client gets a default with a
// request timeout.
func NewIngestor(pool *pgxpool.Pool, embedder ai.Embedder, client *http.Client, logger *slog.Logger) *Ingestor {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{pool: pool, embedder: embedder, client: client, logger: logger}
}

// IngestURL fetches rawURL, extracts its readable article, chunks and embeds
// the text, and stores the document. Returns the new document id.
func (in *Ingestor) IngestURL(ctx context.Context, rawURL string) (uuid.UUID, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse url: %w", err)
	}
	if pageURL.Scheme != "http" && pageURL.Scheme != "https" {
		return uuid.Nil, fmt.Errorf("unsupported url scheme %q", pageURL.Scheme)
	}

	article, err := in.fetch(ctx, pageURL)
	if err != nil {
		return uuid.Nil, err
	}
	if article.TextContent == "" {
		return uuid.Nil, ErrEmptyDocument
	}

	name := article.Title
	if name == "" {
		name = pageURL.String()
	}

	pieces := chunkText(article.TextContent, chunkSize, chunkOverlap)
	in.logger.InfoContext(ctx, "ingesting document",
		"url", pageURL.String(), "title", name, "chunks", len(pieces))

	docID := uuid.New()
	tx, err := in.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin ingest tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, insertDocumentSQL, docID, name, pageURL.String()); err != nil {
		return uuid.Nil, fmt.Errorf("insert document: %w", err)
	}
	for i, piece := range pieces {
		vec, err := llm.Embed(ctx, in.embedder, piece)
		if err != nil {
			return uuid.Nil, fmt.Errorf("embed chunk %d: %w", i, err)
		}
		meta := map[string]any{"position": i, "source_uri": pageURL.String()}
		if _, err := tx.Exec(ctx, insertChunkSQL, uuid.New(), docID, piece, vec, meta); err != nil {
			return uuid.Nil, fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	if _, err := tx.Exec(ctx, insertDataSourceSQL, name, pageURL.String()); err != nil {
		return uuid.Nil, fmt.Errorf("insert data source: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit ingest tx: %w", err)
	}

	return docID, nil
}

func (in *Ingestor) fetch(ctx context.Context, pageURL *url.URL) (readability.Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return readability.Article{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := in.client.Do(req)
	if err != nil {
		return readability.Article{}, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return readability.Article{}, fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxResponseBytes), pageURL)
	if err != nil {
		return readability.Article{}, fmt.Errorf("extract article: %w", err)
	}
	return article, nil
}
