// Package vector answers a refined question from the chunk corpus: nearest
// chunks by embedding distance, postprocessed by metadata filter and
// optional reranker, then streamed through the answering model with the
// retrieved context inlined into the prompt.
package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/engine"
	"github.com/tidegraph/tidegraph/internal/llm"
	"github.com/tidegraph/tidegraph/internal/prompt"
)

// Top-k sizes for the similarity search. A configured reranker gets a wide
// candidate pool to cut down; without one the raw distance order stands.
const (
	topKDefault  = 10
	topKReranked = 100
)

// Generator is what the engine needs from the model layer.
type Generator interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
	Stream(ctx context.Context, model, prompt string) (llm.Stream, error)
}

// Result is one answered query: provenance first, then the token stream.
// Sources are fully resolved before the first token is produced.
type Result struct {
	Sources []chat.SourceDocument
	Stream  llm.Stream
}

// retrievedChunk is a chunk joined with its document columns.
type retrievedChunk struct {
	id       uuid.UUID
	docID    uuid.UUID
	docName  string
	docURI   string
	text     string
	metadata map[string]any
}

// Engine runs retrieval and answer generation.
//
// Engine is safe for concurrent use by multiple goroutines.
type Engine struct {
	pool      *pgxpool.Pool
	embedder  ai.Embedder
	generator Generator
	logger    *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(pool *pgxpool.Pool, embedder ai.Embedder, generator Generator, logger *slog.Logger) (*Engine, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{pool: pool, embedder: embedder, generator: generator, logger: logger}, nil
}

// Query retrieves context for the refined question and starts the streamed
// answer. textQA is the phase-one output of the engine's text QA template;
// its {context_str} and {query_str} slots are filled here.
func (e *Engine) Query(ctx context.Context, cfg *engine.Config, textQA, question string) (*Result, error) {
	chunks, err := e.retrieve(ctx, question, topKFor(cfg))
	if err != nil {
		return nil, err
	}

	chunks, err = e.postprocess(ctx, cfg, question, chunks)
	if err != nil {
		return nil, err
	}

	sources := resolveSources(chunks)

	formatted, err := prompt.Format(textQA, map[string]string{
		"context_str": contextString(chunks),
		"query_str":   question,
	})
	if err != nil {
		return nil, fmt.Errorf("formatting answer prompt: %w", err)
	}

	stream, err := e.generator.Stream(ctx, cfg.ModelName, formatted)
	if err != nil {
		return nil, fmt.Errorf("starting answer stream: %w", err)
	}
	return &Result{Sources: sources, Stream: stream}, nil
}

// retrieve returns the nearest chunks with their document columns.
func (e *Engine) retrieve(ctx context.Context, question string, topK int) ([]retrievedChunk, error) {
	vec, err := llm.Embed(ctx, e.embedder, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	rows, err := e.pool.Query(ctx,
		`SELECT c.id, c.text, c.metadata, d.id, d.name, d.source_uri
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 ORDER BY c.embedding <=> $1
		 LIMIT $2`,
		vec, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var chunks []retrievedChunk
	for rows.Next() {
		var c retrievedChunk
		var meta []byte
		if err := rows.Scan(&c.id, &c.text, &meta, &c.docID, &c.docName, &c.docURI); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &c.metadata); err != nil {
				return nil, fmt.Errorf("decoding chunk metadata: %w", err)
			}
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

// topKFor picks the retrieval pool size. Reranking pulls a wide candidate
// pool so the model has something to reorder; without it the nearest few
// suffice.
func topKFor(cfg *engine.Config) int {
	if cfg.RerankerEnabled {
		return topKReranked
	}
	return topKDefault
}

// postprocess runs the retrieval postprocessors in fixed order: the metadata
// filter always, the reranker only when configured.
func (e *Engine) postprocess(ctx context.Context, cfg *engine.Config, question string, chunks []retrievedChunk) ([]retrievedChunk, error) {
	chunks = filterByMetadata(chunks, cfg.VectorSearch.MetadataFilters)
	if cfg.RerankerEnabled {
		return e.rerank(ctx, cfg, question, chunks)
	}
	return chunks, nil
}

// resolveSources maps chunks to their documents, one entry per document in
// order of first appearance.
func resolveSources(chunks []retrievedChunk) []chat.SourceDocument {
	seen := make(map[uuid.UUID]bool)
	sources := []chat.SourceDocument{}
	for _, c := range chunks {
		if seen[c.docID] {
			continue
		}
		seen[c.docID] = true
		sources = append(sources, chat.SourceDocument{
			ID:        c.docID,
			Name:      c.docName,
			SourceURI: c.docURI,
		})
	}
	return sources
}

// contextString joins chunk texts for the answer prompt.
func contextString(chunks []retrievedChunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.text
	}
	return strings.Join(parts, "\n\n")
}
