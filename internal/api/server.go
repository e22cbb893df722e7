// Package api is the HTTP boundary: chat turns over SSE, chat reads with
// visibility checks, message subgraph lookups, and readiness probes.
package api

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/engine"
	"github.com/tidegraph/tidegraph/internal/event"
	"github.com/tidegraph/tidegraph/internal/graph"
	"github.com/tidegraph/tidegraph/internal/rag"
)

// ChatStreamer runs chat turns and subgraph lookups.
type ChatStreamer interface {
	Chat(ctx context.Context, req rag.Request) iter.Seq[event.Event]
	MessageSubgraph(ctx context.Context, messageID uuid.UUID) ([]graph.Entity, []graph.Relationship, error)
}

// ChatReader reads persisted chats.
type ChatReader interface {
	Get(ctx context.Context, id uuid.UUID) (*chat.Chat, error)
	Messages(ctx context.Context, chatID uuid.UUID) ([]*chat.Message, error)
	List(ctx context.Context, viewer *chat.Viewer, browserID string, limit, offset int) ([]*chat.Chat, error)
	Delete(ctx context.Context, id uuid.UUID, viewer *chat.Viewer, browserID string) error
	GetMessage(ctx context.Context, id uuid.UUID) (*chat.Message, error)
}

// CapabilityChecker runs the readiness predicates.
type CapabilityChecker interface {
	CheckRequiredConfig(ctx context.Context) (engine.RequiredConfig, error)
	CheckOptionalConfig(ctx context.Context) (engine.OptionalConfig, error)
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Logger     *slog.Logger
	Service    ChatStreamer       // Required
	Chats      ChatReader         // Required
	Checker    CapabilityChecker  // Optional: nil disables /healthz capability detail
	TrustProxy bool               // Trust identity headers set by a reverse proxy
}

// Server is the HTTP API server.
type Server struct {
	handler http.Handler
}

// NewServer creates a server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("chat service is required")
	}
	if cfg.Chats == nil {
		return nil, errors.New("chat reader is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &chatHandler{
		service:    cfg.Service,
		chats:      cfg.Chats,
		logger:     logger,
		trustProxy: cfg.TrustProxy,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chats", h.stream)
	mux.HandleFunc("GET /api/v1/chats", h.list)
	mux.HandleFunc("GET /api/v1/chats/{id}/messages", h.messages)
	mux.HandleFunc("DELETE /api/v1/chats/{id}", h.delete)
	mux.HandleFunc("GET /api/v1/messages/{id}/subgraph", h.subgraph)

	hh := &healthHandler{checker: cfg.Checker, logger: logger}
	mux.HandleFunc("GET /healthz", hh.healthz)

	handler := chain(mux,
		recoveryMiddleware(logger),
		loggingMiddleware(logger),
	)

	return &Server{handler: handler}, nil
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }
