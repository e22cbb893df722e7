package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidegraph/tidegraph/internal/llm"
)

// intentDepth is the expansion depth used for each sub-query.
const intentDepth = 2

const decomposePrompt = `Decompose the user question into at most 5 focused sub-questions
that each cover one aspect of the original question. Use the chat history to
resolve references.

Chat history:
%s

Question: %s

Respond with a JSON array of strings and nothing else, for example:
["sub-question 1", "sub-question 2"]`

// IntentSearch asks the fast model to decompose the question into
// sub-queries, retrieves graph context per sub-query, and returns both the
// per-query groupings and the deduplicated union.
func (s *Store) IntentSearch(ctx context.Context, question, history string, opts IntentOptions) (*IntentResult, error) {
	if s.completer == nil {
		return nil, fmt.Errorf("intent search requires a model client")
	}

	queries, err := s.decompose(ctx, question, history, opts.FastModel)
	if err != nil {
		return nil, err
	}

	retrieveOpts := RetrieveOptions{
		Depth:                   intentDepth,
		IncludeMeta:             opts.IncludeMeta,
		RelationshipMetaFilters: opts.RelationshipMetaFilters,
	}

	result := &IntentResult{
		Queries:       make([]SubQueryResult, 0, len(queries)),
		Entities:      []Entity{},
		Relationships: []Relationship{},
	}
	seenEntities := make(map[int64]bool)
	seenRelationships := make(map[int64]bool)

	for _, q := range queries {
		entities, relationships, _, err := s.RetrieveWeighted(ctx, q, retrieveOpts)
		if err != nil {
			return nil, fmt.Errorf("retrieving for sub-query %q: %w", q, err)
		}
		result.Queries = append(result.Queries, SubQueryResult{
			Query:         q,
			Entities:      entities,
			Relationships: relationships,
		})
		for _, e := range entities {
			if !seenEntities[e.ID] {
				seenEntities[e.ID] = true
				result.Entities = append(result.Entities, e)
			}
		}
		for _, r := range relationships {
			if !seenRelationships[r.ID] {
				seenRelationships[r.ID] = true
				result.Relationships = append(result.Relationships, r)
			}
		}
	}
	return result, nil
}

// decompose runs the fast model once and parses its JSON answer. A question
// the model cannot split falls back to itself.
func (s *Store) decompose(ctx context.Context, question, history, model string) ([]string, error) {
	answer, err := s.completer.Complete(ctx, model, fmt.Sprintf(decomposePrompt, history, question))
	if err != nil {
		return nil, fmt.Errorf("decomposing question: %w", err)
	}

	queries, err := parseSubQueries(answer)
	if err != nil {
		s.logger.Warn("unparseable sub-query decomposition, using original question",
			"error", err)
		return []string{question}, nil
	}
	if len(queries) == 0 {
		return []string{question}, nil
	}
	return queries, nil
}

// parseSubQueries extracts the JSON string array from a model answer that
// may wrap it in code fences or prose.
func parseSubQueries(answer string) ([]string, error) {
	start := strings.IndexByte(answer, '[')
	end := strings.LastIndexByte(answer, ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in answer")
	}

	var queries []string
	if err := json.Unmarshal([]byte(answer[start:end+1]), &queries); err != nil {
		return nil, fmt.Errorf("parsing sub-queries: %w", err)
	}

	out := queries[:0]
	for _, q := range queries {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out, nil
}

// compile-time check that the llm client satisfies the Completer the store
// consumes.
var _ Completer = (*llm.Client)(nil)
