package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/engine"
	"github.com/tidegraph/tidegraph/internal/graph"
)

// MessageSubgraph re-runs weighted retrieval for a stored user message with
// the settings its chat was created under, recovering the graph context that
// would have backed the answer. Non-user messages yield empty results.
func (s *ChatService) MessageSubgraph(ctx context.Context, messageID uuid.UUID) ([]graph.Entity, []graph.Relationship, error) {
	m, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	if m.Role != chat.RoleUser {
		return []graph.Entity{}, []graph.Relationship{}, nil
	}

	c, err := s.repo.Get(ctx, m.ChatID)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := engine.FromScreenshot(c.EngineOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("restoring engine settings: %w", err)
	}

	kg := cfg.KnowledgeGraph
	if !kg.Enabled {
		return []graph.Entity{}, []graph.Relationship{}, nil
	}

	entities, relationships, _, err := s.graph.RetrieveWeighted(ctx, m.Content, graph.RetrieveOptions{
		Depth:                   kg.Depth,
		IncludeMeta:             kg.IncludeMeta,
		WithDegree:              kg.WithDegree,
		RelationshipMetaFilters: kg.RelationshipMetaFilters,
		WithChunks:              false,
	})
	if err != nil {
		return nil, nil, err
	}
	return entities, relationships, nil
}
