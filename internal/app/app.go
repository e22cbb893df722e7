// Package app assembles the application: configuration, database, genkit
// provider, retrieval stores, the chat service, and the HTTP server.
package app

import (
	"log/slog"
	"net/http"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/config"
	"github.com/tidegraph/tidegraph/internal/engine"
	"github.com/tidegraph/tidegraph/internal/graph"
	"github.com/tidegraph/tidegraph/internal/ingest"
	"github.com/tidegraph/tidegraph/internal/llm"
	"github.com/tidegraph/tidegraph/internal/rag"
	"github.com/tidegraph/tidegraph/internal/vector"
)

// App is the assembled application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	LLM      *llm.Client
	Chats    *chat.Store
	Resolver *engine.Resolver
	Checker  *engine.Checker
	Graph    *graph.Store
	Vector   *vector.Engine
	Ingestor *ingest.Ingestor
	Service  *rag.ChatService

	// Handler is the HTTP API, ready for an http.Server.
	Handler http.Handler

	otelShutdown func()
}

// Close releases all resources. Safe to call with a partially built App.
func (a *App) Close() {
	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database pool closed")
	}
	if a.otelShutdown != nil {
		a.otelShutdown()
	}
}
